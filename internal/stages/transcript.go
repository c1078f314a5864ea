package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/petrijr/stagehand/pkg/api"
)

// detailsBatch is how many envelopes a details file holds.
const detailsBatch = 100

// TranscriptOptions configures transcript_to_file.
type TranscriptOptions struct {
	SaveDir     string `config:"save_dir"`
	SaveDetails bool   `config:"save_details"`
}

// Transcript appends a human readable line per envelope to
// <save_dir>/<start>.txt. With SaveDetails the raw envelopes are also
// dumped as JSON in batches.
type Transcript struct {
	api.BaseStage
	opts TranscriptOptions

	start    string
	file     *os.File
	lastFile string

	details      []api.Envelope
	detailsCount int
}

func NewTranscript(opts TranscriptOptions) *Transcript {
	if opts.SaveDir == "" {
		opts.SaveDir = "transcript"
	}
	return &Transcript{opts: opts}
}

func newTranscriptStage(cfg api.StageConfig) (api.Stage, error) {
	var opts TranscriptOptions
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	return NewTranscript(opts), nil
}

// Path is the transcript file, once Setup has run.
func (t *Transcript) Path() string {
	return filepath.Join(t.opts.SaveDir, t.start+".txt")
}

func (t *Transcript) Setup(ctx context.Context, rt api.Runtime) error {
	if err := os.MkdirAll(t.opts.SaveDir, 0o755); err != nil {
		return err
	}
	t.start = time.Now().Format("2006-01-02T15-04-05.000000")

	f, err := os.Create(t.Path())
	if err != nil {
		return err
	}
	t.file = f
	rt.Logger().Info("transcript_opened", slog.String("path", t.Path()))
	return nil
}

func (t *Transcript) Routine(ctx context.Context, rt api.Runtime) error {
	msg, ok := rt.Next()
	if !ok {
		return api.ErrNoInput
	}

	ts := timeOfDay(msg.String(api.KeyTimestamp))
	now := timeOfDay(api.FormatTimestamp(time.Now()))

	var line string
	if msg.Command() == api.CommandTranscribe {
		if file := msg.String("file"); file != "" && file != t.lastFile {
			line = fmt.Sprintf("\n - File: %s\n", file)
			t.lastFile = file
		}
		line += fmt.Sprintf("%s - %s:  %s\n", ts, now, msg.String(api.KeyText))
	} else {
		line = fmt.Sprintf("%s - %s: * 'command': %s *\n", ts, now, msg.Command())
	}
	if _, err := t.file.WriteString(line); err != nil {
		return err
	}

	if t.opts.SaveDetails {
		t.details = append(t.details, msg)
		if len(t.details) > detailsBatch {
			return t.saveDetails()
		}
	}
	return nil
}

func (t *Transcript) Cleanup(ctx context.Context, rt api.Runtime) error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	if t.opts.SaveDetails && len(t.details) > 0 {
		if derr := t.saveDetails(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

func (t *Transcript) saveDetails() error {
	path := filepath.Join(t.opts.SaveDir, fmt.Sprintf("%s-details-%d.json", t.start, t.detailsCount))
	data, err := json.Marshal(t.details)
	if err != nil {
		return fmt.Errorf("details: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	t.details = t.details[:0]
	t.detailsCount++
	return nil
}

// timeOfDay returns the part of an ISO-8601 timestamp after the "T".
func timeOfDay(ts string) string {
	if i := strings.LastIndexByte(ts, 'T'); i >= 0 {
		return ts[i+1:]
	}
	return ts
}
