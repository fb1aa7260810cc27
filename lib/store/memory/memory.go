// Package memory is a store backend that lives in process memory. It does not
// share outcomes between torauth instances.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/TecharoHQ/torauth/lib/store"
)

const cleanupInterval = 5 * time.Minute

type factory struct{}

func (factory) Build(ctx context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(ctx), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

type entry struct {
	value   []byte
	expires time.Time
}

type impl struct {
	lock    sync.Mutex
	entries map[string]entry
}

func (i *impl) Delete(_ context.Context, key string) error {
	i.lock.Lock()
	defer i.lock.Unlock()

	e, ok := i.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(i.entries, key)
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	delete(i.entries, key)
	return nil
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	e, ok := i.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return append([]byte(nil), e.value...), nil
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.lock.Lock()
	defer i.lock.Unlock()

	i.entries[key] = entry{
		value:   append([]byte(nil), value...),
		expires: time.Now().Add(expiry),
	}
	return nil
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expires)
}

func (i *impl) cleanup(now time.Time) {
	i.lock.Lock()
	defer i.lock.Unlock()

	for key, e := range i.entries {
		if e.expired(now) {
			delete(i.entries, key)
		}
	}
}

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(cleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			i.cleanup(now)
		}
	}
}

// New creates an in-memory store. Expired values are dropped in the
// background until ctx is done.
func New(ctx context.Context) store.Interface {
	result := &impl{
		entries: map[string]entry{},
	}

	go result.cleanupThread(ctx)

	return result
}
