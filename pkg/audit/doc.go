// Package audit records guard denials and data mutations.
//
// Events are written through a Recorder, which runs each write in a tracked
// background goroutine with a timeout. A slow or failing audit store never
// delays or fails the response that produced the event.
//
//	recorder := audit.NewRecorder(dbLogger, 5*time.Second)
//	recorder.Record(r.Context(), audit.NewEvent(ctx, audit.EventTypeGuardForbidden, audit.EventStatusDenied, "forbidden"))
//	defer recorder.Close(shutdownCtx)
//
// The Archiver, run by pharos-sweeper, exports events past their retention
// period to S3 as NDJSON and prunes them from the audit_logs table.
package audit
