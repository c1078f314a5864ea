// Package logsink funnels log records from every worker through one queue
// into a single writer goroutine.
//
// Handler is an slog.Handler that only enqueues. Sink drains the queue into
// a rotating log file (everything) and the console (supervisor records and
// warnings, or everything in debug mode). Queue.Close enqueues a nil
// sentinel; the sink flushes and stops when it reaches it.
package logsink

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the number of records a queue buffers.
const DefaultQueueSize = 4096

const closeTimeout = time.Second

// Queue carries records from handlers to the sink. Pushing never blocks:
// records that do not fit are counted and dropped.
type Queue struct {
	ch      chan *slog.Record
	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Int64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan *slog.Record, size)}
}

// Push enqueues r. It is a no-op after Close.
func (q *Queue) Push(r slog.Record) {
	if q.closed.Load() {
		return
	}
	select {
	case q.ch <- &r:
	default:
		q.dropped.Add(1)
	}
}

// Close enqueues the sentinel. Records pushed afterwards are discarded.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.closed.Store(true)
		select {
		case q.ch <- nil:
		case <-time.After(closeTimeout):
		}
	})
}

// Dropped returns how many records did not fit in the queue.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
