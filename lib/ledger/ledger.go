// Package ledger pulls proofs out of messages that signer apps send to the
// authentication contract on the ledger.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TecharoHQ/torauth"
	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SourceName labels proofs and metrics coming from the ledger.
const SourceName = "ledger"

var (
	// ErrUnrelated marks a message that is not an authentication reply. The
	// contract receives other traffic too, so these are skipped silently.
	ErrUnrelated = errors.New("ledger: message is not an authentication reply")

	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torauth_ledger_fetch_errors_total",
		Help: "The number of failed polls of the ledger indexer",
	})

	messagesSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torauth_ledger_messages_total",
		Help: "The number of ledger messages read, by whether they carried a proof",
	}, []string{"kind"})
)

// Message is one inbound message to the authentication contract.
type Message struct {
	ID     string
	Source string // sender address
	Body   []byte
}

// Source lists messages after cursor. It returns the cursor to continue from,
// which is cursor itself when nothing new arrived.
type Source interface {
	Fetch(ctx context.Context, cursor string) ([]Message, string, error)
}

// Decoder turns a message into a proof, or returns an error wrapping
// ErrUnrelated.
type Decoder func(Message) (challenge.Attempt, error)

type signedOTP struct {
	SignedOTP string `json:"signedOTP"`
}

// DecodeSignedOTP reads the {"signedOTP": "<hex>"} body wallets send. The
// challenge is keyed by the wallet address that sent it.
func DecodeSignedOTP(msg Message) (challenge.Attempt, error) {
	var body signedOTP
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return challenge.Attempt{}, fmt.Errorf("%w: %v", ErrUnrelated, err)
	}

	if body.SignedOTP == "" || msg.Source == "" {
		return challenge.Attempt{}, fmt.Errorf("%w: no signedOTP", ErrUnrelated)
	}

	return challenge.Attempt{
		Key:           msg.Source,
		Signature:     body.SignedOTP,
		WalletAddress: msg.Source,
		Source:        SourceName,
	}, nil
}

// Poller feeds the confirmation loop from a Source.
type Poller struct {
	Source   Source
	Decode   Decoder
	Interval time.Duration

	cursor string
}

// Run polls until ctx is done. Fetch failures are logged and retried on the
// next tick.
func (p *Poller) Run(ctx context.Context, submit func(challenge.Attempt) error) error {
	if p.Decode == nil {
		p.Decode = DecodeSignedOTP
	}

	interval := p.Interval
	if interval <= 0 {
		interval = torauth.DefaultSweepInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if err := p.poll(ctx, submit); err != nil && ctx.Err() == nil {
			fetchErrors.Inc()
			slog.Warn("can't poll ledger", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, submit func(challenge.Attempt) error) error {
	msgs, next, err := p.Source.Fetch(ctx, p.cursor)
	if err != nil {
		return fmt.Errorf("ledger: fetch: %w", err)
	}

	for _, msg := range msgs {
		at, err := p.Decode(msg)
		switch {
		case errors.Is(err, ErrUnrelated):
			messagesSeen.WithLabelValues("unrelated").Inc()
			continue
		case err != nil:
			messagesSeen.WithLabelValues("undecodable").Inc()
			slog.Debug("can't decode ledger message", "id", msg.ID, "err", err)
			continue
		}

		messagesSeen.WithLabelValues("proof").Inc()
		if at.Source == "" {
			at.Source = SourceName
		}

		if err := submit(at); err != nil {
			slog.Warn("ledger proof not accepted", "id", msg.ID, "key", internal.Fingerprint(at.Key), "err", err)
		}
	}

	if next != "" {
		p.cursor = next
	}

	return nil
}
