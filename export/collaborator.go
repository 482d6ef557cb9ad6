package export

import (
	"context"
	"time"

	"github.com/xraph/spool/job"
)

// ProjectData is the project and workflow content a renderer turns into an
// artifact.
type ProjectData struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Workflow    map[string]any `json:"workflow,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DataSource loads business data for an export. It returns
// spool.ErrProjectNotFound when the project does not exist or is not owned
// by userID.
type DataSource interface {
	LoadProjectWithWorkflow(ctx context.Context, projectID, userID string) (*ProjectData, error)
}

// Renderer produces artifact content.
type Renderer interface {
	RenderPDF(ctx context.Context, p *ProjectData) ([]byte, error)
	RenderMarkdown(ctx context.Context, p *ProjectData) (string, error)
}

// ArtifactStorage persists rendered artifacts. DeleteArtifact returns
// spool.ErrArtifactNotFound for a file that is already gone.
type ArtifactStorage interface {
	SaveArtifact(ctx context.Context, filename, contentType string, data []byte) (url string, err error)
	DeleteArtifact(ctx context.Context, filename string) error
}

// Enqueuer schedules jobs. *queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error)
}
