package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TecharoHQ/torauth/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// Store keeps outcomes in valkey (or redis) so every torauth instance behind
// a load balancer can answer outcome lookups. Expiry is left to the server.
type Store struct {
	rdb    *valkey.Client
	prefix string
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("can't delete from valkey: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, valkey.Nil):
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	case err != nil:
		return nil, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	return result, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, expiry).Err(); err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", key, err)
	}

	return nil
}
