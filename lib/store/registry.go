package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

var (
	registry = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds a backend from its JSON configuration block.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

// Register makes a backend available by name. Backends call it from init.
func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

// Methods lists the registered backend names in sorted order.
func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()

	result := make([]string, 0, len(registry))
	for method := range registry {
		result = append(result, method)
	}
	slices.Sort(result)
	return result
}

// Build looks up the named backend and builds it. Background cleanup stops
// when ctx is done.
func Build(ctx context.Context, name string, config json.RawMessage) (Interface, error) {
	f, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q, known backends: %v", ErrUnknownBackend, name, Methods())
	}

	if err := f.Valid(config); err != nil {
		return nil, err
	}

	return f.Build(ctx, config)
}
