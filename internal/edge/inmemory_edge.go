package edge

import (
	"sync"

	"github.com/petrijr/stagehand/pkg/api"
)

// InMemoryEdge is an unbounded FIFO backed by a slice.
// It is safe for concurrent use.
type InMemoryEdge struct {
	name string

	mu   sync.Mutex
	buf  []api.Envelope
	head int
}

// NewInMemoryEdge creates an empty edge.
func NewInMemoryEdge(name string) *InMemoryEdge {
	return &InMemoryEdge{
		name: name,
		buf:  make([]api.Envelope, 0, 64),
	}
}

// Ensure InMemoryEdge implements Edge.
var _ Edge = (*InMemoryEdge)(nil)

func (e *InMemoryEdge) Put(msg api.Envelope) {
	e.mu.Lock()
	e.buf = append(e.buf, msg)
	e.mu.Unlock()
}

func (e *InMemoryEdge) TryGet() (api.Envelope, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.head >= len(e.buf) {
		return nil, false
	}
	msg := e.buf[e.head]
	e.buf[e.head] = nil
	e.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if e.head == len(e.buf) {
		e.buf = e.buf[:0]
		e.head = 0
	} else if e.head > 1024 && e.head*2 > len(e.buf) {
		n := copy(e.buf, e.buf[e.head:])
		clear(e.buf[n:])
		e.buf = e.buf[:n]
		e.head = 0
	}
	return msg, true
}

func (e *InMemoryEdge) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf) - e.head
}

func (e *InMemoryEdge) Drain() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.buf) - e.head
	clear(e.buf)
	e.buf = e.buf[:0]
	e.head = 0
	return n
}

func (e *InMemoryEdge) Name() string {
	return e.name
}
