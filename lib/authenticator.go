package lib

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/TecharoHQ/torauth"
	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/TecharoHQ/torauth/lib/confirm"
	"github.com/TecharoHQ/torauth/lib/deeplink"
	"github.com/TecharoHQ/torauth/lib/results"
	"github.com/google/uuid"
)

var (
	ErrClosed             = errors.New("lib: authenticator is closed")
	ErrAlreadyInitialized = errors.New("lib: authenticator is already initialized")
)

// journalTimeout bounds writing one outcome to the store. The write runs in
// the confirmation loop, so this is also the longest a slow store stalls it.
const journalTimeout = 5 * time.Second

// Intake delivers proofs from one transport to submit until ctx is done.
type Intake interface {
	Run(ctx context.Context, submit func(challenge.Attempt) error) error
}

// ChallengeRequest describes a challenge to issue.
type ChallengeRequest struct {
	// Key correlates the challenge with its proof, usually the wallet address
	// for ledger replies. Empty means a fresh sequence token is minted, which
	// is what webhook flows use.
	Key string

	PublicKey     string        // hex; proofs must be signed with this key if set
	WalletAddress string        // proofs must come from this wallet if set
	Pin           string        // mixed into the signed digest if set
	Context       any           // handed back verbatim to the result handler
	Retention     time.Duration // 0 means the authenticator default
}

// Issued is what the caller shows the user.
type Issued struct {
	Key       string           `json:"key"`
	Random    string           `json:"-"`
	ExpiresAt time.Time        `json:"expiresAt"`
	Payload   deeplink.Payload `json:"-"`
}

// Authenticator issues challenges and reports their outcome to one result
// handler. It owns its cache and its confirmation loop; run as many as you
// like side by side.
type Authenticator struct {
	opts    Options
	cache   *challenge.Cache
	loop    *confirm.Loop
	journal *results.Journal
	mux     http.Handler

	lock    sync.Mutex
	cancel  context.CancelFunc
	intakes sync.WaitGroup
	inited  bool
	closed  bool
}

// StartChallenge registers a new challenge. Issuing for a key that still has a
// pending challenge replaces it, and the replaced one is reported as failed.
func (a *Authenticator) StartChallenge(ctx context.Context, req ChallengeRequest) (*Issued, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flow := "identity"
	if req.Key == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("lib: can't mint sequence token: %w", err)
		}
		req.Key = id.String()
		flow = "sequence"
	}

	retention := req.Retention
	if retention == 0 {
		retention = a.opts.Retention
	}

	randBytes, err := a.opts.Provider.RandomBytes(torauth.DefaultRandomLength)
	if err != nil {
		return nil, fmt.Errorf("lib: can't generate challenge random: %w", err)
	}

	rec := challenge.Record{
		Key:       req.Key,
		Random:    base64.StdEncoding.EncodeToString(randBytes),
		Pin:       req.Pin,
		Context:   req.Context,
		Retention: retention,
		Expected: challenge.Attrs{
			PublicKey:     req.PublicKey,
			WalletAddress: req.WalletAddress,
		},
	}

	payload := deeplink.Payload{
		DeepLinkBase:   a.opts.DeepLinkURL,
		Random:         rec.Random,
		Key:            rec.Key,
		CallbackTarget: a.opts.WebhookURL,
	}
	if err := payload.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", challenge.ErrInvalidFormat, err)
	}

	lg := slog.With("key", internal.Fingerprint(rec.Key), "flow", flow)

	issuedAt := time.Now()
	if old, replaced := a.cache.Add(rec); replaced {
		challenge.Overwritten.Inc()
		lg.Warn("challenge replaced a pending one for the same key")

		if err := a.loop.Reject(old); err != nil {
			lg.Debug("replaced challenge not reported, loop is not running", "err", err)
		}
	}

	challenge.Issued.WithLabelValues(flow).Inc()
	lg.Debug("challenge issued", "retention", retention)

	return &Issued{
		Key:       rec.Key,
		Random:    rec.Random,
		ExpiresAt: issuedAt.Add(max(retention, 0)),
		Payload:   payload,
	}, nil
}

// Init starts the confirmation loop with h as the result handler, then every
// intake.
func (a *Authenticator) Init(h challenge.Handler) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	switch {
	case a.closed:
		return ErrClosed
	case a.inited:
		return ErrAlreadyInitialized
	}

	if err := a.loop.Start(h); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.inited = true

	for _, in := range a.opts.Intakes {
		a.intakes.Go(func() {
			if err := in.Run(ctx, a.OnInboundProof); err != nil {
				slog.Error("intake stopped", "intake", fmt.Sprintf("%T", in), "err", err)
			}
		})
	}

	return nil
}

// Close stops the intakes, waits for them, then stops the loop. No result is
// dispatched after Close returns. Pending challenges stay in the cache
// unreported. Calling Close more than once is fine.
func (a *Authenticator) Close() error {
	a.lock.Lock()
	if a.closed {
		a.lock.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancel
	a.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	a.intakes.Wait()
	a.loop.Stop()

	return nil
}

// OnInboundProof queues a proof for the confirmation loop. Transports call it
// directly or through an Intake.
func (a *Authenticator) OnInboundProof(at challenge.Attempt) error {
	return a.loop.Submit(at)
}

// Done is closed when the confirmation loop exits.
func (a *Authenticator) Done() <-chan struct{} {
	return a.loop.Done()
}

// Err is the fatal error that ended the confirmation loop, if any. The owner
// should Close the authenticator and build a new one.
func (a *Authenticator) Err() error {
	return a.loop.Err()
}

// Handler serves the HTTP API.
func (a *Authenticator) Handler() http.Handler {
	return a.mux
}

// Pending returns the pending challenge for key, if it has not expired.
func (a *Authenticator) Pending(key string) (challenge.Record, bool) {
	rec, ok := a.cache.Get(key)
	if !ok || rec.Expired(time.Now()) {
		return challenge.Record{}, false
	}
	return rec, true
}

// journalOutcome records final outcomes only. A failed proof that leaves the
// challenge redeemable never reaches it.
func (a *Authenticator) journalOutcome(rec challenge.Record, ok bool, attrs challenge.Attrs) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if _, err := a.journal.Record(ctx, rec, ok, attrs); err != nil {
		slog.Error("can't journal challenge outcome", "key", internal.Fingerprint(rec.Key), "ok", ok, "err", err)
	}
}
