package api

import "sync"

// Signal is a one-way, set-once flag shared between the supervisor and its
// workers. Setting it more than once is a no-op.
type Signal struct {
	once sync.Once
	ch   chan struct{}
	name string
}

// NewSignal returns an unset signal.
func NewSignal(name string) *Signal {
	return &Signal{ch: make(chan struct{}), name: name}
}

// Set raises the signal. Safe to call concurrently and repeatedly.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has been raised.
func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal is raised.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Name returns the signal's diagnostic name.
func (s *Signal) Name() string {
	return s.name
}
