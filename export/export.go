package export

import (
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/id"
)

// Format is the artifact format of an export.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "markdown"
)

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f == FormatPDF || f == FormatMarkdown
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return "pdf"
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatMarkdown {
		return "text/markdown; charset=utf-8"
	}
	return "application/pdf"
}

// Status is the lifecycle status of an export record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Export is the durable record of one user-requested artifact export. It is
// driven by, but outlives, the job that produces the artifact.
type Export struct {
	spool.Entity

	ID          id.ExportID `json:"id"`
	UserID      string      `json:"user_id"`
	ProjectID   string      `json:"project_id"`
	Format      Format      `json:"format"`
	Status      Status      `json:"status"`
	NotifyEmail string      `json:"notify_email,omitempty"`
	JobID       id.JobID    `json:"job_id,omitempty"`

	Filename      string `json:"filename,omitempty"`
	FileURL       string `json:"file_url,omitempty"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
}

// Downloadable reports whether the artifact may be served at now.
func (e *Export) Downloadable(now time.Time) bool {
	return e.Status == StatusCompleted && e.FileURL != "" &&
		e.ExpiresAt != nil && now.Before(*e.ExpiresAt)
}

// Expired reports whether a completed export has passed its expiry at now.
func (e *Export) Expired(now time.Time) bool {
	return e.Status == StatusCompleted && e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}
