package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/spool/job"
)

// Handler processes send-email jobs.
type Handler struct {
	mailer Mailer
	logger *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler returns a Handler sending through mailer.
func NewHandler(mailer Mailer, opts ...HandlerOption) *Handler {
	h := &Handler{
		mailer: mailer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the handler under JobType.
func (h *Handler) Register(r *job.Registry) {
	job.RegisterDefinition(r, job.NewDefinition(JobType, h.Handle))
}

// Handle renders and sends one notification. A payload that can never be
// rendered fails permanently; transport errors are retried.
func (h *Handler) Handle(ctx context.Context, p Payload, progress job.Progress) error {
	if p.To == "" {
		return job.Permanent(errors.New("notify: missing recipient"))
	}

	msg, err := Render(p)
	if err != nil {
		return job.Permanent(err)
	}
	progress(50)

	if err := h.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s to %s: %w", p.Template, p.To, err)
	}

	h.logger.Debug("notification sent",
		slog.String("template", string(p.Template)),
		slog.String("export_id", p.ExportID),
	)
	return nil
}
