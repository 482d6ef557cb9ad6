package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobStarted      = "job.started"
	ActionJobCompleted    = "job.completed"
	ActionJobFailed       = "job.failed"
	ActionJobRetrying     = "job.retrying"
	ActionJobStalled      = "job.stalled"
	ActionArtifactExpired = "export.artifact_expired"
)

// Audit event categories group related actions.
const (
	CategoryJob    = "spool.job"
	CategoryExport = "spool.export"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob    = "job"
	ResourceExport = "export"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobStalled,
		ActionArtifactExpired,
	}
}
