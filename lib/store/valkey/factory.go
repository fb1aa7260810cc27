package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TecharoHQ/torauth/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

var (
	ErrNoURL  = errors.New("valkey.Config: no URL defined")
	ErrBadURL = errors.New("valkey.Config: URL is invalid")
)

// DefaultPrefix namespaces torauth keys in a shared database.
const DefaultPrefix = "torauth:"

func init() {
	store.Register("valkey", Factory{})
}

type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	opts, err := valkey.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	rdb := valkey.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := rdb.Close(); err != nil {
			slog.Debug("can't close valkey client", "err", err)
		}
	}()

	prefix := DefaultPrefix
	if config.Prefix != nil {
		prefix = *config.Prefix
	}

	return &Store{
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

func parse(data json.RawMessage) (Config, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return Config{}, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return config, nil
}

type Config struct {
	URL string `json:"url"`

	// Prefix is put in front of every key. Unset means DefaultPrefix.
	Prefix *string `json:"prefix,omitempty"`
}

func (c Config) Valid() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, ErrNoURL)
	} else if _, err := valkey.ParseURL(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrBadURL, err))
	}

	if len(errs) != 0 {
		return fmt.Errorf("valkey.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
