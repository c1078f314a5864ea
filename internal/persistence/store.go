// Package persistence stores envelopes that pass through a pipeline.
//
// Stores are append-only logs. Each backend keeps the envelope as the same
// JSON frame the network bridge sends, so sample buffers survive a round
// trip bit for bit.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/stagehand/pkg/api"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Record is one stored envelope.
type Record struct {
	ID    string
	Stage string

	// Command and Timestamp are copied out of the envelope so backends can
	// filter without decoding it. Timestamp is the time the envelope was
	// stored when the envelope carries none.
	Command   string
	Timestamp time.Time

	Envelope api.Envelope
}

// NewRecord wraps msg for storage on behalf of stage.
func NewRecord(stage string, msg api.Envelope) Record {
	ts, ok := msg.Timestamp()
	if !ok {
		ts = time.Now()
	}
	return Record{
		ID:        uuid.NewString(),
		Stage:     stage,
		Command:   msg.Command(),
		Timestamp: ts.UTC(),
		Envelope:  msg,
	}
}

// Filter selects records. Zero fields do not filter.
type Filter struct {
	Stage   string
	Command string
	Since   time.Time
	Limit   int
}

func (f Filter) match(r Record) bool {
	if f.Stage != "" && r.Stage != f.Stage {
		return false
	}
	if f.Command != "" && r.Command != f.Command {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// EnvelopeStore is an append-only envelope log. List returns records in
// the order they were appended.
type EnvelopeStore interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, filter Filter) ([]Record, error)
	Close() error
}
