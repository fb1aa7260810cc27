package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the store has no live value for a key.
	ErrNotFound = errors.New("store: key not found")

	// ErrCantDecode is returned when a stored value can't be decoded.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a value can't be encoded for storage.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a backend's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")

	// ErrUnknownBackend is returned by Build for a name nobody registered.
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Interface is a key/value store where every value has a TTL. torauth keeps
// resolved challenge outcomes in it so a caller that polls, or another
// instance behind the same load balancer, can read the verdict. Pending
// challenges never go here.
type Interface interface {
	// Delete removes a key. It returns an error wrapping ErrNotFound when the
	// key does not exist.
	Delete(ctx context.Context, key string) error

	// Get returns a value that exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value that disappears after expiry.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error
}

func z[T any]() T { return *new(T) }

// JSON stores values of type T as JSON under Prefix in Underlying.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) key(key string) string {
	return j.Prefix + key
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.Underlying.Delete(ctx, j.key(key))
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Get(ctx, j.key(key))
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return j.Underlying.Set(ctx, j.key(key), data, expiry)
}
