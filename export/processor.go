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
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/notify"
)

// JobType is the handler discriminator of export jobs.
const JobType = "export-project"

// DefaultRetention is how long a completed artifact stays downloadable.
const DefaultRetention = 7 * 24 * time.Hour

// Payload is the body of an export-project job.
type Payload struct {
	ExportID  id.ExportID `json:"export_id"`
	UserID    string      `json:"user_id"`
	ProjectID string      `json:"project_id"`
	Format    Format      `json:"format"`
}

// Processor renders exports. It is both the export-project handler and a
// JobFailed extension: the Export record only moves to failed once the
// underlying job has exhausted its retries.
type Processor struct {
	store         Store
	source        DataSource
	renderer      Renderer
	artifacts     ArtifactStorage
	notifications Enqueuer
	retention     time.Duration
	completed     notify.Policy
	failed        notify.Policy
	logger        *slog.Logger
	now           func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithRetention sets the artifact retention window.
func WithRetention(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.retention = d }
}

// WithNotificationPolicies sets the enqueue policies of the completed and
// failed emails.
func WithNotificationPolicies(completed, failed notify.Policy) ProcessorOption {
	return func(p *Processor) {
		p.completed = completed
		p.failed = failed
	}
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithProcessorClock sets the time source.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor. notifications is the queue send-email
// jobs are enqueued on.
func NewProcessor(store Store, source DataSource, renderer Renderer, artifacts ArtifactStorage, notifications Enqueuer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:         store,
		source:        source,
		renderer:      renderer,
		artifacts:     artifacts,
		notifications: notifications,
		retention:     DefaultRetention,
		completed:     notify.DefaultCompletedPolicy,
		failed:        notify.DefaultFailedPolicy,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements ext.Extension.
func (p *Processor) Name() string { return "export-processor" }

// Register registers the handler under JobType.
func (p *Processor) Register(r *job.Registry) {
	job.RegisterDefinition(r, job.NewDefinition(JobType, p.Handle))
}

// Handle runs one attempt of an export. Render and storage errors are
// returned as-is so the job retry policy applies; ownership and missing
// data errors are permanent.
func (p *Processor) Handle(ctx context.Context, in Payload, progress job.Progress) error {
	e, err := p.load(ctx, in.ExportID, in.UserID)
	if err != nil {
		return err
	}

	switch e.Status {
	case StatusCompleted:
		// A previous attempt finished the work but not the notification.
		return p.notifyCompleted(ctx, e, "")
	case StatusExpired:
		p.logger.Warn("export already expired, skipping", slog.String("export_id", e.ID.String()))
		return nil
	}

	now := p.now().UTC()
	e.Status = StatusProcessing
	e.StartedAt = &now
	e.ErrorMessage = ""
	e.NotifiedAt = nil
	e.UpdatedAt = now
	if err := p.store.UpdateExport(ctx, e); err != nil {
		return fmt.Errorf("export: mark processing: %w", err)
	}
	progress(10)

	data, err := p.source.LoadProjectWithWorkflow(ctx, e.ProjectID, in.UserID)
	if err != nil {
		if errors.Is(err, spool.ErrProjectNotFound) {
			return job.Permanent(err)
		}
		return fmt.Errorf("export: load project %s: %w", e.ProjectID, err)
	}
	if len(data.Workflow) == 0 {
		return job.Permanent(spool.ErrNoWorkflowData)
	}
	progress(30)

	content, err := p.render(ctx, e.Format, data)
	if err != nil {
		return err
	}
	progress(70)

	finished := p.now().UTC()
	filename := Filename(data.Name, e.Format, e.ID, finished)
	url, err := p.artifacts.SaveArtifact(ctx, filename, e.Format.ContentType(), content)
	if err != nil {
		return fmt.Errorf("export: save artifact %s: %w", filename, err)
	}
	progress(90)

	expires := finished.Add(p.retention)
	e.Status = StatusCompleted
	e.Filename = filename
	e.FileURL = url
	e.FileSizeBytes = int64(len(content))
	e.CompletedAt = &finished
	e.ExpiresAt = &expires
	e.UpdatedAt = finished
	if err := p.store.UpdateExport(ctx, e); err != nil {
		// Nothing references the file yet; the retry writes a new one.
		p.discardArtifact(ctx, e.ID, filename)
		return fmt.Errorf("export: mark completed: %w", err)
	}

	p.logger.Info("export completed",
		slog.String("export_id", e.ID.String()),
		slog.String("filename", filename),
		slog.Int64("bytes", e.FileSizeBytes),
	)
	return p.notifyCompleted(ctx, e, data.Name)
}

// OnJobFailed implements ext.JobFailed. It marks the export failed and
// enqueues the failure email, both at most once. Hook errors are not
// retried; Reconcile re-drives the same work from the failed job later.
func (p *Processor) OnJobFailed(ctx context.Context, j *job.Job, cause error) error {
	if j.Type != JobType {
		return nil
	}
	_, err := p.settle(ctx, j, cause)
	return err
}

// Reconcile settles the export of a terminally failed export job whose
// failure hook did not run to the end: the record is still pending or
// processing, or the outcome email was never enqueued. It reports whether
// anything was done. Exports that are already settled are left alone, so
// Reconcile may be called for the same job any number of times.
func (p *Processor) Reconcile(ctx context.Context, j *job.Job) (bool, error) {
	if j.Type != JobType || j.Status != job.StatusFailed {
		return false, nil
	}
	var cause error
	if j.FailureReason != "" {
		cause = errors.New(j.FailureReason)
	}
	settled, err := p.settle(ctx, j, cause)
	if settled {
		p.logger.Warn("export settled by reconciliation",
			slog.String("job_id", j.ID.String()),
		)
	}
	return settled, err
}

// settle brings the export of a failed job to its terminal record and
// outcome email. A completed export whose email was never sent gets the
// completed email.
func (p *Processor) settle(ctx context.Context, j *job.Job, cause error) (bool, error) {
	var in Payload
	if err := json.Unmarshal(j.Payload, &in); err != nil {
		return false, fmt.Errorf("export: decode payload of job %s: %w", j.ID, err)
	}
	e, err := p.store.GetExport(ctx, in.ExportID)
	if errors.Is(err, spool.ErrExportNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("export: load %s: %w", in.ExportID, err)
	}
	if e.UserID != in.UserID || e.NotifiedAt != nil {
		return false, nil
	}

	switch e.Status {
	case StatusExpired:
		return false, nil
	case StatusCompleted:
		return true, p.notifyCompleted(ctx, e, "")
	case StatusFailed:
	default:
		now := p.now().UTC()
		e.Status = StatusFailed
		e.ErrorMessage = failureMessage(cause)
		e.Filename = ""
		e.FileURL = ""
		e.FileSizeBytes = 0
		e.UpdatedAt = now
		if err := p.store.UpdateExport(ctx, e); err != nil {
			return false, fmt.Errorf("export: mark failed: %w", err)
		}
		p.logger.Error("export failed",
			slog.String("export_id", e.ID.String()),
			slog.String("error", e.ErrorMessage),
		)
	}

	return true, p.sendNotification(ctx, e, p.failed, notify.Payload{
		Template:     notify.TemplateExportFailed,
		ProjectName:  p.projectName(ctx, e),
		ErrorMessage: e.ErrorMessage,
	})
}

func (p *Processor) load(ctx context.Context, exportID id.ExportID, userID string) (*Export, error) {
	e, err := p.store.GetExport(ctx, exportID)
	if err != nil {
		if errors.Is(err, spool.ErrExportNotFound) {
			return nil, job.Permanent(err)
		}
		return nil, fmt.Errorf("export: load %s: %w", exportID, err)
	}
	if e.UserID != userID {
		return nil, job.Permanent(spool.ErrExportNotFound)
	}
	return e, nil
}

func (p *Processor) render(ctx context.Context, format Format, data *ProjectData) ([]byte, error) {
	switch format {
	case FormatPDF:
		b, err := p.renderer.RenderPDF(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("export: render pdf: %w", err)
		}
		return b, nil
	case FormatMarkdown:
		s, err := p.renderer.RenderMarkdown(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("export: render markdown: %w", err)
		}
		return []byte(s), nil
	default:
		return nil, job.Permanent(fmt.Errorf("%w: unsupported format %q", spool.ErrInvalidRequest, format))
	}
}

// notifyCompleted sends the completed email unless it was already sent. An
// empty name is looked up.
func (p *Processor) notifyCompleted(ctx context.Context, e *Export, name string) error {
	if e.NotifiedAt != nil {
		return nil
	}
	if name == "" {
		name = p.projectName(ctx, e)
	}
	return p.sendNotification(ctx, e, p.completed, notify.Payload{
		Template:    notify.TemplateExportCompleted,
		ProjectName: name,
		DownloadURL: e.FileURL,
		ExpiresAt:   e.ExpiresAt,
	})
}

// sendNotification enqueues an email for e and stamps NotifiedAt. Exports
// without a recipient are stamped without sending.
func (p *Processor) sendNotification(ctx context.Context, e *Export, policy notify.Policy, msg notify.Payload) error {
	if e.NotifyEmail != "" {
		msg.To = e.NotifyEmail
		msg.ExportID = e.ID.String()
		msg.Format = string(e.Format)

		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("export: encode notification: %w", err)
		}
		if _, err := p.notifications.Enqueue(ctx, notify.JobType, body, policy.Options()...); err != nil {
			return fmt.Errorf("export: enqueue %s notification: %w", msg.Template, err)
		}
	}

	now := p.now().UTC()
	e.NotifiedAt = &now
	e.UpdatedAt = now
	if err := p.store.UpdateExport(ctx, e); err != nil {
		return fmt.Errorf("export: mark notified: %w", err)
	}
	return nil
}

// discardArtifact deletes a saved artifact that no record points at.
func (p *Processor) discardArtifact(ctx context.Context, exportID id.ExportID, filename string) {
	err := p.artifacts.DeleteArtifact(context.WithoutCancel(ctx), filename)
	if err != nil && !errors.Is(err, spool.ErrArtifactNotFound) {
		p.logger.Warn("discard unreferenced artifact failed",
			slog.String("export_id", exportID.String()),
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}
}

// projectName looks the name up for emails sent outside a render pass. A
// lookup failure falls back to the project ID.
func (p *Processor) projectName(ctx context.Context, e *Export) string {
	data, err := p.source.LoadProjectWithWorkflow(ctx, e.ProjectID, e.UserID)
	if err != nil || data.Name == "" {
		return e.ProjectID
	}
	return data.Name
}

func failureMessage(err error) string {
	if err == nil {
		return "export failed"
	}
	return err.Error()
}
