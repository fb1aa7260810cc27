package lib

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/TecharoHQ/torauth"
	"github.com/TecharoHQ/torauth/data"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/TecharoHQ/torauth/lib/config"
	"github.com/TecharoHQ/torauth/lib/confirm"
	"github.com/TecharoHQ/torauth/lib/ledger"
	"github.com/TecharoHQ/torauth/lib/results"
	"github.com/TecharoHQ/torauth/lib/signature"
	"github.com/TecharoHQ/torauth/lib/store"
)

var ErrNoDeepLinkURL = errors.New("lib: DeepLinkURL is not set")

type Options struct {
	DeepLinkURL     string
	WebhookURL      string
	Retention       time.Duration
	SweepInterval   time.Duration
	QueueSize       int
	RemoveOnFailure bool

	// Provider defaults to signature.NaCl{}.
	Provider signature.Provider
	// Cache defaults to a fresh one. Never share a cache between
	// authenticators.
	Cache *challenge.Cache
	// Journal records outcomes for lookup. If nil and Store is set, one is
	// built on Store.
	Journal           *results.Journal
	Store             store.Interface
	OutcomeTTL        time.Duration
	ED25519PrivateKey ed25519.PrivateKey

	Intakes []Intake
}

// LoadConfigOrDefault reads the service config from fname, or the built-in
// one when fname is empty.
func LoadConfigOrDefault(fname string) (*config.Config, error) {
	var fin io.ReadCloser
	var err error

	if fname != "" {
		fin, err = os.Open(fname)
		if err != nil {
			return nil, fmt.Errorf("can't open config file %s: %w", fname, err)
		}
	} else {
		fname = "(data)/torauth.yaml"
		fin, err = data.DefaultConfig.Open("torauth.yaml")
		if err != nil {
			return nil, fmt.Errorf("[unexpected] can't open builtin config file %s: %w", fname, err)
		}
	}

	defer func(fin io.ReadCloser) {
		if err := fin.Close(); err != nil {
			slog.Error("failed to close config file", "file", fname, "err", err)
		}
	}(fin)

	cfg, err := config.Load(fin, fname)
	if err != nil {
		return nil, fmt.Errorf("can't load config file %s: %w", fname, err)
	}

	return cfg, nil
}

// OptionsFromConfig turns the service config into Options, building the
// outcome store and the ledger intake. The store's background work stops
// when ctx is done.
func OptionsFromConfig(ctx context.Context, c *config.Config) (Options, error) {
	opts := Options{
		DeepLinkURL:     c.DeepLinkURL,
		WebhookURL:      c.WebhookURL,
		Retention:       time.Duration(c.Retention),
		SweepInterval:   time.Duration(c.SweepInterval),
		QueueSize:       c.QueueSize,
		RemoveOnFailure: c.RemoveOnFailure,
		OutcomeTTL:      time.Duration(c.OutcomeTTL),
	}

	if c.Store != nil {
		st, err := c.Store.Build(ctx)
		if err != nil {
			return Options{}, fmt.Errorf("lib: can't build %s store: %w", c.Store.Backend, err)
		}
		opts.Store = st
	}

	if c.Ledger != nil {
		opts.Intakes = append(opts.Intakes, &ledger.Poller{
			Source: ledger.HTTPSource{
				URL:         c.Ledger.IndexerURL,
				Destination: c.Ledger.Destination,
				Client:      &http.Client{Timeout: 30 * time.Second},
			},
			Decode:   ledger.DecodeSignedOTP,
			Interval: time.Duration(c.Ledger.PollInterval),
		})
	}

	return opts, nil
}

func New(opts Options) (*Authenticator, error) {
	if opts.DeepLinkURL == "" {
		return nil, ErrNoDeepLinkURL
	}

	if opts.Provider == nil {
		opts.Provider = signature.NaCl{}
	}

	if opts.Retention == 0 {
		opts.Retention = torauth.DefaultRetention
	}

	if opts.Cache == nil {
		opts.Cache = challenge.NewCache()
	}

	if opts.Journal == nil && opts.Store != nil {
		if opts.ED25519PrivateKey == nil {
			slog.Debug("opts.ED25519PrivateKey not set, generating a new one")
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, fmt.Errorf("lib: can't generate private key: %v", err)
			}
			opts.ED25519PrivateKey = priv
		}

		opts.Journal = results.New(opts.Store, opts.ED25519PrivateKey, opts.OutcomeTTL)
	}

	result := &Authenticator{
		opts:    opts,
		cache:   opts.Cache,
		journal: opts.Journal,
	}

	loopOpts := confirm.Options{
		Interval:        opts.SweepInterval,
		QueueSize:       opts.QueueSize,
		RemoveOnFailure: opts.RemoveOnFailure,
	}
	if result.journal != nil {
		loopOpts.OnFinal = result.journalOutcome
	}

	result.loop = confirm.New(result.cache, challenge.Verifier{Provider: opts.Provider}, loopOpts)
	result.mux = result.routes()

	return result, nil
}
