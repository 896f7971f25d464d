// Package session manages per-run pause/resume/cancel state.
//
// Invariants:
// - Create is idempotent; operations on unknown ids are no-ops.
// - Cancel force-opens the pause gate so waiters are never stranded.
// - Cancellation is advisory: it takes effect only at the checkpoints
//   callers poll, never preemptively.
//
// Usage:
//
//	reg := session.NewRegistry()
//	s := reg.Create("run-1")
//	reg.Pause("run-1")
//	go reg.Resume("run-1")
//	_ = s.AwaitResume(ctx)
package session
