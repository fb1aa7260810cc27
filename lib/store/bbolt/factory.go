package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TecharoHQ/torauth/lib/store"
	"go.etcd.io/bbolt"
)

var (
	ErrCantWriteToPath = errors.New("bbolt.Config: folder of path is not writable")
	ErrBadBucket       = errors.New("bbolt.Config: bucket name is invalid")
)

const (
	// DefaultPath is used when the config names no database file. It is
	// relative to the working directory.
	DefaultPath = "torauth-outcomes.db"

	// DefaultBucket holds the outcome journal.
	DefaultBucket = "outcomes"
)

func init() {
	store.Register("bbolt", Factory{})
}

// Factory opens a bbolt file as the outcome journal. The file is closed when
// the context passed to Build is done.
type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	result, err := open(config.Path, config.Bucket)
	if err != nil {
		return nil, err
	}

	go result.cleanupThread(ctx)

	return result, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

// parse decodes data, fills in defaults and validates the result.
func parse(data json.RawMessage) (Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Bucket == "" {
		config.Bucket = DefaultBucket
	}

	if err := config.Valid(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return config, nil
}

type Config struct {
	// Path of the database file. bbolt locks it, so every torauth instance
	// needs its own.
	Path string `json:"path,omitempty"`

	// Bucket the outcomes live under, to share one file between journals.
	Bucket string `json:"bucket,omitempty"`
}

func (c Config) Valid() error {
	var errs []error

	if len(c.Bucket) > bbolt.MaxKeySize {
		errs = append(errs, fmt.Errorf("%w: longer than %d bytes", ErrBadBucket, bbolt.MaxKeySize))
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".torauth-*")
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrCantWriteToPath, err))
	} else {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	return errors.Join(errs...)
}
