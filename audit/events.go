package audit

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobCreated     = "job.created"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobRetried     = "job.retried"
	ActionJobCancelled   = "job.cancelled"
	ActionJobDeleted     = "job.deleted"
	ActionStageStarted   = "stage.started"
	ActionStageCompleted = "stage.completed"
	ActionStageSkipped   = "stage.skipped"
)

// Audit event categories group related actions.
const (
	CategoryJob      = "rexsyn.job"
	CategoryStage    = "rexsyn.stage"
	CategoryDeletion = "rexsyn.deletion"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceStage = "stage"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetried,
		ActionJobCancelled,
		ActionJobDeleted,
		ActionStageStarted,
		ActionStageCompleted,
		ActionStageSkipped,
	}
}
