package remote

import (
	"context"
	"net/http"

	"github.com/xraph/spool/export"
)

// Renderer posts the project as JSON to /render/pdf or /render/markdown
// and returns the response body as the document.
type Renderer struct {
	client
}

var _ export.Renderer = (*Renderer)(nil)

// NewRenderer creates a Renderer against baseURL.
func NewRenderer(baseURL string, opts ...Option) *Renderer {
	return &Renderer{client: newClient(baseURL, opts)}
}

// RenderPDF returns the PDF bytes for p.
func (r *Renderer) RenderPDF(ctx context.Context, p *export.ProjectData) ([]byte, error) {
	return r.do(ctx, http.MethodPost, "/render/pdf", p)
}

// RenderMarkdown returns the Markdown text for p.
func (r *Renderer) RenderMarkdown(ctx context.Context, p *export.ProjectData) (string, error) {
	data, err := r.do(ctx, http.MethodPost, "/render/markdown", p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
