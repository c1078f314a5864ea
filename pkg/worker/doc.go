// Package worker runs a single pipeline stage through its lifecycle.
//
// A Worker owns one api.Stage, at most one input edge and any number of
// output edges. Each worker runs on its own goroutine and moves through
// these states:
//
//	CREATED → SETUP → AWAITING_START → RUNNING → {DONE | EXITING} → TERMINATED
//
// # Lifecycle
//
// Setup runs first and must acquire everything slow (models, connections).
// Only when it returns nil does the worker raise its ready signal. The
// worker then blocks until the shared start signal (or exit) is raised,
// runs Startup, and enters the routine loop.
//
// The loop calls Routine repeatedly. A routine that returns api.ErrNoInput
// makes the worker idle for a short interval. A routine that calls
// Runtime.MarkDone moves the worker to DONE; it then idles until exit.
// Any other error, or a panic, ends the loop and is logged with the phase
// in which it happened.
//
// Cleanup always runs before the worker reaches TERMINATED, including
// after a failure in Setup.
//
// # Termination
//
// Workers stop cooperatively when the shared exit signal is raised. Kill
// cancels the worker's context; stages that block should honour it. A
// goroutine that never returns is abandoned, and Join reports the timeout.
//
// Most applications never construct workers directly: the pipeline builder
// creates one per stage and the supervisor drives them.
package worker
