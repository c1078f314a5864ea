// Package api contains the core building blocks shared by stages, workers
// and the supervisor.
//
// Most users interact with the higher-level stagehand package, which
// re-exports selected types from here. The api package is intended for
// stage authors and for code that drives workers directly.
//
// # Stages
//
// Stage is the unit of work. A worker calls Setup once, waits for the
// pipeline to be released, calls Startup once, then calls Routine until
// the pipeline exits, and finally Cleanup. Stages talk to the outside
// world through the Runtime the worker hands them: Next reads one message
// from the input edge without blocking, Emit broadcasts to every output.
//
// Stage types are built by a Factory from a StageConfig, the stage's
// settings merged over the pipeline's global section. StageConfig.Decode
// maps it onto an options struct tagged with `config:"..."`.
//
// # Envelopes
//
// Envelope is the message exchanged on edges: a string-keyed map with a
// "command" tag and usually an ISO-8601 "timestamp". The core never looks
// at any other field.
//
// # Signals
//
// Signal is a set-once flag. The supervisor shares one start and one exit
// signal with every worker; each worker owns ready and done signals.
//
// # Observability
//
// Observer receives worker state changes, failures, emits and kills.
// LoggingObserver writes them through log/slog, BasicMetrics counts them,
// and NewCompositeObserver combines several.
package api
