package logsink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Sink.
type Options struct {
	// Dir holds the log file. It is created if missing.
	Dir  string
	File string

	// Debug sends every record to the console.
	Debug bool

	// Console defaults to os.Stdout.
	Console io.Writer

	// ConsoleComponents are the "component" attribute values always shown
	// on the console.
	ConsoleComponents []string

	MaxSizeMB  int
	MaxBackups int
}

// DefaultOptions writes logs/stagehand.log and shows supervisor and main
// records on stdout.
func DefaultOptions() Options {
	return Options{
		Dir:               "logs",
		File:              "stagehand.log",
		ConsoleComponents: []string{"supervisor", "main"},
		MaxSizeMB:         10,
		MaxBackups:        2,
	}
}

// Sink is the single writer draining a Queue.
type Sink struct {
	q       *Queue
	opts    Options
	file    io.WriteCloser
	toFile  slog.Handler
	console slog.Handler
	done    chan struct{}
}

// NewSink opens the log file. Call Start to begin draining.
func NewSink(q *Queue, opts Options) (*Sink, error) {
	if opts.File == "" {
		opts.File = "stagehand.log"
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, opts.File),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	all := &slog.HandlerOptions{Level: slog.LevelDebug}

	return &Sink{
		q:       q,
		opts:    opts,
		file:    file,
		toFile:  slog.NewTextHandler(file, all),
		console: slog.NewTextHandler(opts.Console, all),
		done:    make(chan struct{}),
	}, nil
}

// Path is the active log file.
func (s *Sink) Path() string {
	return filepath.Join(s.opts.Dir, s.opts.File)
}

// Start drains the queue on a new goroutine until the sentinel arrives.
func (s *Sink) Start() {
	go s.run()
}

func (s *Sink) run() {
	defer close(s.done)
	defer s.file.Close()

	ctx := context.Background()
	for r := range s.q.ch {
		if r == nil {
			return
		}
		_ = s.toFile.Handle(ctx, *r)
		if s.showOnConsole(*r) {
			_ = s.console.Handle(ctx, *r)
		}
	}
}

func (s *Sink) showOnConsole(r slog.Record) bool {
	if s.opts.Debug || r.Level >= slog.LevelWarn {
		return true
	}
	show := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && slices.Contains(s.opts.ConsoleComponents, a.Value.String()) {
			show = true
			return false
		}
		return true
	})
	return show
}

// Wait blocks until the sink has stopped or timeout elapses. It reports
// whether the sink stopped.
func (s *Sink) Wait(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
