package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TecharoHQ/torauth/lib/store"
	_ "github.com/TecharoHQ/torauth/lib/store/all"
)

var (
	ErrNoStoreBackend      = errors.New("config.Store: no backend defined")
	ErrUnknownStoreBackend = errors.New("config.Store: unknown backend")
)

// Store selects the backend outcomes are journaled in. Parameters are handed
// to the backend's factory as JSON.
type Store struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (s *Store) params() json.RawMessage {
	if len(s.Parameters) == 0 {
		return json.RawMessage(`{}`)
	}
	return s.Parameters
}

func (s *Store) Valid() error {
	if len(s.Backend) == 0 {
		return ErrNoStoreBackend
	}

	fac, ok := store.Get(s.Backend)
	if !ok {
		return fmt.Errorf("%w: %q, known backends: %v", ErrUnknownStoreBackend, s.Backend, store.Methods())
	}

	if err := fac.Valid(s.params()); err != nil {
		return fmt.Errorf("config.Store %s: %w", s.Backend, err)
	}

	return nil
}

// Build creates the configured backend. Its background work stops when ctx
// is done.
func (s *Store) Build(ctx context.Context) (store.Interface, error) {
	return store.Build(ctx, s.Backend, s.params())
}
