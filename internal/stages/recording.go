package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/petrijr/stagehand/pkg/api"
)

// RecordingOptions configures the recording stage.
type RecordingOptions struct {
	Dir        string `config:"dir"`
	SampleRate int    `config:"sample_rate"`

	// BufferSize is the number of chunks written per file.
	BufferSize int `config:"buffer_size"`
}

// Recording saves incoming audio chunks as wav files named after the
// timestamp of their first chunk.
type Recording struct {
	api.BaseStage
	opts RecordingOptions

	chunks [][]float32
	first  string
	saved  []string
}

func NewRecording(opts RecordingOptions) *Recording {
	if opts.Dir == "" {
		opts.Dir = "recording"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 60
	}
	return &Recording{opts: opts}
}

func newRecordingStage(cfg api.StageConfig) (api.Stage, error) {
	var opts RecordingOptions
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	return NewRecording(opts), nil
}

// Saved lists the files written so far.
func (r *Recording) Saved() []string { return r.saved }

func (r *Recording) Setup(ctx context.Context, rt api.Runtime) error {
	return os.MkdirAll(r.opts.Dir, 0o755)
}

func (r *Recording) Routine(ctx context.Context, rt api.Runtime) error {
	msg, ok := rt.Next()
	if !ok {
		return api.ErrNoInput
	}

	audio, ok := msg[api.KeyAudio].([]float32)
	if !ok {
		rt.Logger().Debug("no_audio", slog.String("command", msg.Command()))
		return nil
	}

	if len(r.chunks) == 0 {
		r.first = msg.String(api.KeyTimestamp)
	}
	r.chunks = append(r.chunks, audio)

	if len(r.chunks) >= r.opts.BufferSize {
		return r.flush(rt)
	}
	return nil
}

func (r *Recording) Cleanup(ctx context.Context, rt api.Runtime) error {
	if len(r.chunks) == 0 {
		return nil
	}
	return r.flush(rt)
}

func (r *Recording) flush(rt api.Runtime) error {
	var n int
	for _, c := range r.chunks {
		n += len(c)
	}
	samples := make([]float32, 0, n)
	for _, c := range r.chunks {
		samples = append(samples, c...)
	}

	name := r.first
	if name == "" {
		name = api.FormatTimestamp(time.Now())
	}
	path := filepath.Join(r.opts.Dir, strings.ReplaceAll(name, string(filepath.Separator), "_")+".wav")

	r.chunks = r.chunks[:0]
	if err := writeWav(path, samples, r.opts.SampleRate); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	r.saved = append(r.saved, path)
	rt.Logger().Debug("recording_saved", slog.String("path", path), slog.Int("samples", n))
	return nil
}
