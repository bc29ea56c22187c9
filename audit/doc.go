// Package audit is an extension that bridges job lifecycle events to an
// immutable audit trail backend.
//
// Every job, stage, and deletion lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for retries and deletions,
// critical for terminal failures) and rich metadata (pipeline, failed
// stage, elapsed time, the deletion audit hash).
//
// # Usage
//
//	audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	    return trail.Append(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionJobFailed,
//	        audit.ActionJobDeleted,
//	    ),
//	)
package audit
