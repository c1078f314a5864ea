package edge

import "github.com/petrijr/stagehand/pkg/api"

// Edge connects one stage's output to another stage's single input.
// Any number of goroutines may Put; exactly one consumes.
type Edge interface {
	// Put appends msg. Edges are unbounded, so Put never blocks.
	Put(msg api.Envelope)

	// TryGet removes and returns the oldest message without blocking.
	TryGet() (api.Envelope, bool)

	// Len returns the number of queued messages.
	Len() int

	// Drain discards every queued message and returns how many there were.
	Drain() int

	// Name identifies the edge as "source->target".
	Name() string
}

// Name builds the conventional edge name.
func Name(source, target string) string {
	return source + "->" + target
}
