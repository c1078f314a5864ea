// Package stagehand runs dataflow pipelines of independent stages inside a
// single process.
//
// A pipeline is a set of named stages joined by one-directional queues
// (edges). Each stage runs on its own worker goroutine and moves through a
// fixed lifecycle:
//
//	Setup → wait for start → Startup → Routine, Routine, ... → Cleanup
//
// The runner builds every worker, waits until all of them finished Setup
// (the readiness barrier), releases them together, and then watches them.
// When any worker dies, the context is cancelled or Stop is called, the
// whole pipeline is shut down: every worker gets a chance to run Cleanup
// and is killed if it does not exit in time.
//
// # Stages
//
// A Stage implements four hooks. Routine must not block: it reads at most
// one message with Runtime.Next and returns ErrNoInput when it had nothing
// to do. Embed BaseStage to get no-op Setup, Startup and Cleanup.
//
// Stage types are registered under a tag and instantiated from config:
//
//	stagehand.MustRegisterStage("upper", func(cfg stagehand.StageConfig) (stagehand.Stage, error) {
//	    return &upper{}, nil
//	})
//
// # Topology
//
// Messages are Envelopes: string-keyed maps carrying at least a "command"
// tag. A stage may fan out to any number of targets, but receives from at
// most one source. Fan-in is rejected when the pipeline is built.
//
// Pipelines are described in YAML or JSON files (LoadConfig) or in code
// with the PipelineBuilder:
//
//	cfg, err := stagehand.New().
//	    Stage("mic", "file_stream", map[string]any{"path": "samples/"}).
//	    Stage("out", "print", nil).
//	    To("mic", "out").
//	    Config()
//
// # Built-in stages
//
// Importing this package registers the bundled stages: file_stream,
// print, command_filter, recording, transcript_to_file, envelope_store,
// and socket_server and socket_client, which bridge a pipeline to an
// external peer over a websocket with optional Fernet encryption.
//
// # LocalRunner
//
// LocalRunner runs one pipeline at a time in the current process. The
// stagehand command in cmd/stagehand wraps it with signal handling,
// log rotation and Prometheus metrics.
package stagehand
