package notify

import (
	"time"

	"github.com/xraph/spool/job"
)

// JobType is the handler discriminator of notification jobs.
const JobType = "send-email"

// Template names an email template.
type Template string

const (
	TemplateExportCompleted Template = "export-completed"
	TemplateExportFailed    Template = "export-failed"
)

// Payload is the body of a send-email job.
type Payload struct {
	Template     Template   `json:"template"`
	To           string     `json:"to"`
	ExportID     string     `json:"export_id"`
	ProjectName  string     `json:"project_name,omitempty"`
	Format       string     `json:"format,omitempty"`
	DownloadURL  string     `json:"download_url,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Policy is the enqueue priority and attempt budget of one template.
type Policy struct {
	Priority    int
	MaxAttempts int
}

// Options returns the enqueue options for p. A zero MaxAttempts keeps the
// queue default.
func (p Policy) Options() []job.Option {
	opts := []job.Option{job.WithPriority(p.Priority)}
	if p.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(p.MaxAttempts))
	}
	return opts
}

// Failure notifications are served before success notifications and get a
// larger attempt budget.
var (
	DefaultCompletedPolicy = Policy{Priority: 10}
	DefaultFailedPolicy    = Policy{Priority: 1, MaxAttempts: 5}
)
