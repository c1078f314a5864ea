package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/stagehand/internal/persistence"
	"github.com/petrijr/stagehand/pkg/api"
)

// EnvelopeStore persists every input envelope and forwards it unchanged,
// so it can sit in the middle of a pipeline as a tap.
type EnvelopeStore struct {
	api.BaseStage
	opts  persistence.Options
	store persistence.EnvelopeStore
}

// NewEnvelopeStore creates the stage. When store is nil, Setup opens one
// from opts.
func NewEnvelopeStore(opts persistence.Options, store persistence.EnvelopeStore) *EnvelopeStore {
	return &EnvelopeStore{opts: opts, store: store}
}

func newEnvelopeStoreStage(cfg api.StageConfig) (api.Stage, error) {
	opts := persistence.DefaultOptions()
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	return NewEnvelopeStore(opts, nil), nil
}

// Store returns the backing store.
func (s *EnvelopeStore) Store() persistence.EnvelopeStore { return s.store }

func (s *EnvelopeStore) Setup(ctx context.Context, rt api.Runtime) error {
	if s.store != nil {
		return nil
	}
	store, err := persistence.Open(ctx, s.opts)
	if err != nil {
		return fmt.Errorf("open %s store: %w", s.opts.Backend, err)
	}
	s.store = store
	rt.Logger().Info("store_opened", slog.String("backend", s.opts.Backend))
	return nil
}

func (s *EnvelopeStore) Routine(ctx context.Context, rt api.Runtime) error {
	msg, ok := rt.Next()
	if !ok {
		return api.ErrNoInput
	}
	if err := s.store.Append(ctx, persistence.NewRecord(rt.Name(), msg)); err != nil {
		return fmt.Errorf("store %q: %w", msg.Command(), err)
	}
	rt.Emit(msg)
	return nil
}

func (s *EnvelopeStore) Cleanup(ctx context.Context, rt api.Runtime) error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
