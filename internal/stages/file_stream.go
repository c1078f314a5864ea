package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/petrijr/stagehand/pkg/api"
)

// FileStreamOptions configures file_stream.
type FileStreamOptions struct {
	// Path is a .wav file or a directory of them.
	Path string `config:"path"`

	SampleRate int `config:"sample_rate"`

	// SegmentLength is the number of samples per emitted chunk. Zero means
	// one second of audio.
	SegmentLength int `config:"segment_length"`

	// PauseTime is waited after every chunk so downstream queues do not
	// grow without bound.
	PauseTime time.Duration `config:"pause_time"`

	CommandMode string `config:"command_mode"`
}

// FileStream replays wav files as a live audio source. Each file is
// emitted as timestamped chunks followed by a conv-reset envelope; the
// stage marks itself done after the last file.
type FileStream struct {
	api.BaseStage
	opts FileStreamOptions

	files   []string
	fileIdx int

	current []float32
	seg     int
	nextAt  time.Time
}

func NewFileStream(opts FileStreamOptions) *FileStream {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.SegmentLength <= 0 {
		opts.SegmentLength = opts.SampleRate
	}
	if opts.CommandMode == "" {
		opts.CommandMode = api.CommandTranscribe
	}
	return &FileStream{opts: opts}
}

func newFileStreamStage(cfg api.StageConfig) (api.Stage, error) {
	opts := FileStreamOptions{PauseTime: 500 * time.Millisecond}
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: path is required", api.ErrInvalidConfig)
	}
	return NewFileStream(opts), nil
}

// Files lists the files Setup selected.
func (s *FileStream) Files() []string { return s.files }

func (s *FileStream) Setup(ctx context.Context, rt api.Runtime) error {
	info, err := os.Stat(s.opts.Path)
	if err != nil {
		return fmt.Errorf("invalid file or directory %s: %w", s.opts.Path, err)
	}

	if !info.IsDir() {
		s.files = []string{s.opts.Path}
	} else {
		entries, err := os.ReadDir(s.opts.Path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
				s.files = append(s.files, filepath.Join(s.opts.Path, e.Name()))
			}
		}
		sort.Strings(s.files)
	}

	rt.Logger().Info("files_selected", slog.Int("count", len(s.files)), slog.Any("files", s.files))
	return nil
}

// Routine emits at most one envelope per call.
func (s *FileStream) Routine(ctx context.Context, rt api.Runtime) error {
	if s.current == nil {
		if s.fileIdx >= len(s.files) {
			rt.MarkDone()
			return api.ErrNoInput
		}
		s.load(rt)
		return nil
	}

	if time.Now().Before(s.nextAt) {
		return api.ErrNoInput
	}

	file := s.files[s.fileIdx]
	start := s.seg * s.opts.SegmentLength
	if start < len(s.current) {
		end := min(start+s.opts.SegmentLength, len(s.current))
		rt.Emit(api.Envelope{
			api.KeyCommand:   s.opts.CommandMode,
			api.KeyTimestamp: api.FormatTimestamp(time.Now()),
			api.KeyAudio:     s.current[start:end:end],
			"file":           file,
			"file_time":      float64(start) / float64(s.opts.SampleRate),
		})
		s.seg++
		s.nextAt = time.Now().Add(s.opts.PauseTime)
		return nil
	}

	rt.Logger().Info("file_streamed", slog.String("file", file), slog.Int("segments", s.seg))
	rt.Emit(api.NewEnvelope(api.CommandConvReset))
	s.current = nil
	s.fileIdx++
	return nil
}

func (s *FileStream) load(rt api.Runtime) {
	file := s.files[s.fileIdx]
	samples, rate, err := readWav(file)
	if err != nil {
		rt.Logger().Warn("file_skipped", slog.String("file", file), slog.Any("error", err))
		s.fileIdx++
		return
	}

	if rate != s.opts.SampleRate {
		samples = resample(samples, rate, s.opts.SampleRate)
	}
	if samples == nil {
		samples = []float32{}
	}
	s.current = samples
	s.seg = 0
	s.nextAt = time.Time{}
	rt.Logger().Info("streaming_file",
		slog.String("file", file),
		slog.Int("source_rate", rate),
		slog.Int("samples", len(samples)),
	)
}
