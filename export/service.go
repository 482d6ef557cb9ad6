package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/id"
)

// Request is a user's request for an artifact.
type Request struct {
	UserID      string `json:"user_id" validate:"required"`
	ProjectID   string `json:"project_id" validate:"required"`
	Format      Format `json:"format" validate:"required,oneof=pdf markdown"`
	NotifyEmail string `json:"notify_email,omitempty" validate:"omitempty,email"`
}

// Service is the caller-facing side of the export pipeline.
type Service struct {
	store  Store
	queue  Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithServiceClock sets the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service enqueuing export jobs on q.
func NewService(store Store, q Enqueuer, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		queue:  q,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request creates a pending export and enqueues the job that produces it.
func (s *Service) Request(ctx context.Context, req Request) (*Export, error) {
	if req.UserID == "" || req.ProjectID == "" {
		return nil, fmt.Errorf("%w: user and project are required", spool.ErrInvalidRequest)
	}
	if !req.Format.Valid() {
		return nil, fmt.Errorf("%w: unsupported format %q", spool.ErrInvalidRequest, req.Format)
	}

	e := &Export{
		Entity:      spool.NewEntityAt(s.now()),
		ID:          id.NewExportID(),
		UserID:      req.UserID,
		ProjectID:   req.ProjectID,
		Format:      req.Format,
		Status:      StatusPending,
		NotifyEmail: req.NotifyEmail,
	}
	if err := s.store.CreateExport(ctx, e); err != nil {
		return nil, fmt.Errorf("export: create: %w", err)
	}

	body, err := json.Marshal(Payload{
		ExportID:  e.ID,
		UserID:    e.UserID,
		ProjectID: e.ProjectID,
		Format:    e.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("export: encode payload: %w", err)
	}

	j, err := s.queue.Enqueue(ctx, JobType, body)
	if err != nil {
		e.Status = StatusFailed
		e.ErrorMessage = "could not schedule export"
		e.UpdatedAt = s.now().UTC()
		if uerr := s.store.UpdateExport(ctx, e); uerr != nil {
			s.logger.Error("mark unscheduled export failed",
				slog.String("export_id", e.ID.String()),
				slog.String("error", uerr.Error()),
			)
		}
		return nil, fmt.Errorf("export: enqueue: %w", err)
	}

	e.JobID = j.ID
	e.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateExport(ctx, e); err != nil {
		return nil, fmt.Errorf("export: link job: %w", err)
	}

	s.logger.Info("export requested",
		slog.String("export_id", e.ID.String()),
		slog.String("job_id", j.ID.String()),
		slog.String("format", string(e.Format)),
	)
	return e, nil
}

// Get returns the export if it belongs to userID. Exports of other users
// are reported as not found.
func (s *Service) Get(ctx context.Context, exportID id.ExportID, userID string) (*Export, error) {
	e, err := s.store.GetExport(ctx, exportID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, spool.ErrExportNotFound
	}
	return e, nil
}

// List returns the exports of userID, newest first.
func (s *Service) List(ctx context.Context, userID string, opts ListOpts) ([]*Export, error) {
	return s.store.ListExports(ctx, userID, opts)
}

// ArtifactLive returns the export owning filename when the artifact may be
// served at now, and spool.ErrArtifactNotFound otherwise.
func (s *Service) ArtifactLive(ctx context.Context, filename string, now time.Time) (*Export, error) {
	if filename == "" {
		return nil, spool.ErrArtifactNotFound
	}
	e, err := s.store.GetExportByFilename(ctx, filename)
	if errors.Is(err, spool.ErrExportNotFound) {
		return nil, spool.ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	if !e.Downloadable(now) {
		return nil, spool.ErrArtifactNotFound
	}
	return e, nil
}
