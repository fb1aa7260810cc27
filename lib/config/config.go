// Package config is the torauth service configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/TecharoHQ/torauth"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrNoDeepLinkURL   = errors.New("config: deepLinkURL is not set")
	ErrBadURL          = errors.New("config: URL is not absolute")
	ErrNegative        = errors.New("config: value must not be negative")
	ErrNoIndexerURL    = errors.New("config.Ledger: indexerURL is not set")
	ErrNoDestination   = errors.New("config.Ledger: destination is not set")
	ErrInvalidDuration = errors.New("config: invalid duration")
)

// Duration is a time.Duration written as "90s" or "1h" in YAML.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, data)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDuration, err)
	}

	*d = Duration(parsed)
	return nil
}

// Ledger configures pulling proofs from a ledger indexer.
type Ledger struct {
	IndexerURL   string   `json:"indexerURL"`
	Destination  string   `json:"destination"` // address of the authentication contract
	PollInterval Duration `json:"pollInterval,omitempty"`
}

func (l *Ledger) Valid() error {
	var errs []error

	if l.IndexerURL == "" {
		errs = append(errs, ErrNoIndexerURL)
	} else if err := absoluteURL(l.IndexerURL); err != nil {
		errs = append(errs, fmt.Errorf("indexerURL: %w", err))
	}

	if l.Destination == "" {
		errs = append(errs, ErrNoDestination)
	}

	if l.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("pollInterval: %w", ErrNegative))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

type Config struct {
	// DeepLinkURL is the prefix of every deep link, pointing at the signer app.
	DeepLinkURL string `json:"deepLinkURL"`
	// WebhookURL is where signer apps post proofs. Empty disables the callback
	// target in deep links.
	WebhookURL      string   `json:"webhookURL,omitempty"`
	Retention       Duration `json:"retention,omitempty"`
	SweepInterval   Duration `json:"sweepInterval,omitempty"`
	QueueSize       int      `json:"queueSize,omitempty"`
	RemoveOnFailure bool     `json:"removeOnFailure,omitempty"`
	OutcomeTTL      Duration `json:"outcomeTTL,omitempty"`
	Store           *Store   `json:"store,omitempty"`
	Ledger          *Ledger  `json:"ledger,omitempty"`
}

// Default is the configuration a file is layered on.
func Default() Config {
	return Config{
		Retention:     Duration(torauth.DefaultRetention),
		SweepInterval: Duration(torauth.DefaultSweepInterval),
		QueueSize:     torauth.DefaultQueueSize,
		OutcomeTTL:    Duration(torauth.DefaultOutcomeTTL),
		Store:         &Store{Backend: "memory"},
	}
}

func (c *Config) Valid() error {
	var errs []error

	if c.DeepLinkURL == "" {
		errs = append(errs, ErrNoDeepLinkURL)
	}

	if c.WebhookURL != "" {
		if err := absoluteURL(c.WebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("webhookURL: %w", err))
		}
	}

	for name, d := range map[string]Duration{
		"retention":     c.Retention,
		"sweepInterval": c.SweepInterval,
		"outcomeTTL":    c.OutcomeTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrNegative))
		}
	}

	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queueSize: %w", ErrNegative))
	}

	if c.Store != nil {
		if err := c.Store.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Ledger != nil {
		if err := c.Ledger.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Load reads a YAML (or JSON) config on top of Default and validates it.
func Load(fin io.Reader, fname string) (*Config, error) {
	c := Default()

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(&c); err != nil {
		return nil, fmt.Errorf("can't parse torauth config YAML %s: %w", fname, err)
	}

	if err := c.Valid(); err != nil {
		return nil, err
	}

	return &c, nil
}

func absoluteURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrBadURL, s)
	}
	return nil
}
