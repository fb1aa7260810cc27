// Package storetest is the behaviour every store backend must share.
package storetest

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/TecharoHQ/torauth/lib/store"
)

// Common validates config, builds a backend with f and runs the shared suite
// against it.
func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	t.Helper()

	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					t.Errorf("wanted %s to exist in store: %v", t.Name(), err)
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Errorf("wrong value returned: want %q, got %q", t.Name(), val)
				}

				if err := s.Delete(t.Context(), t.Name()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted value to be gone after Delete")
				}

				if err := s.Delete(t.Context(), t.Name()); err == nil {
					t.Errorf("key %q does not exist and Delete did not return non-nil", t.Name())
				}

				return nil
			},
		},
		{
			name: "set overwrites",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("pending"), 150*time.Millisecond); err != nil {
					return err
				}
				if err := s.Set(t.Context(), t.Name(), []byte("resolved"), 5*time.Minute); err != nil {
					return err
				}

				//nosleep:bypass redis expiry runs on the server clock
				time.Sleep(200 * time.Millisecond)

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					t.Fatalf("overwritten value lost its new expiry: %v", err)
				}
				if string(val) != "resolved" {
					t.Errorf("wanted resolved, got %q", val)
				}

				return s.Delete(t.Context(), t.Name())
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				//nosleep:bypass redis expiry runs on the server clock
				time.Sleep(200 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to expire but it exists anyways", t.Name())
				}

				return nil
			},
		},
		{
			name: "typed json values",
			doer: func(t *testing.T, s store.Interface) error {
				type verdict struct {
					OK  bool   `json:"ok"`
					Key string `json:"key"`
				}

				db := store.JSON[verdict]{Underlying: s, Prefix: "storetest:"}
				if err := db.Set(t.Context(), t.Name(), verdict{OK: true, Key: t.Name()}, time.Minute); err != nil {
					return err
				}

				got, err := db.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}
				if !got.OK || got.Key != t.Name() {
					t.Errorf("got %+v back", got)
				}

				if _, err := s.Get(t.Context(), "storetest:"+t.Name()); err != nil {
					t.Errorf("value not stored under its prefix: %v", err)
				}

				return db.Delete(t.Context(), t.Name())
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Errorf("wrong error: want %v, got %v", tt.err, err)
			}
		})
	}
}
