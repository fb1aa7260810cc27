// Package confirm reconciles inbound proofs against outstanding challenges and
// reports every challenge's outcome to a result handler exactly once.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/TecharoHQ/torauth"
	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib/challenge"
)

var (
	ErrRunning   = errors.New("confirm: loop is already running")
	ErrStopped   = errors.New("confirm: loop is not running")
	ErrQueueFull = errors.New("confirm: proof queue is full")
	ErrNoHandler = errors.New("confirm: no result handler")
)

type Options struct {
	// Interval is the sweep period when no proofs arrive.
	Interval time.Duration

	// QueueSize bounds the proofs waiting for the loop. Submit drops proofs
	// beyond it instead of blocking the transport.
	QueueSize int

	// RemoveOnFailure makes a failed proof burn the challenge. By default the
	// challenge stays redeemable until it expires.
	RemoveOnFailure bool

	// OnFinal, if set, sees every outcome that removes a record from the
	// cache: success, expiry, replacement and failures under RemoveOnFailure.
	// It runs in the goroutine that decided the outcome, before the handler is
	// dispatched, so its calls for one record are never reordered.
	OnFinal func(rec challenge.Record, ok bool, attrs challenge.Attrs)
}

// Loop is the state machine that drives one authenticator: it is either
// stopped or running a single goroutine that sweeps and verifies.
type Loop struct {
	cache    *challenge.Cache
	verifier challenge.Verifier
	opts     Options

	lock    sync.Mutex
	handler challenge.Handler
	queue   chan challenge.Attempt
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func New(cache *challenge.Cache, verifier challenge.Verifier, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = torauth.DefaultSweepInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = torauth.DefaultQueueSize
	}

	done := make(chan struct{})
	close(done)

	return &Loop{
		cache:    cache,
		verifier: verifier,
		opts:     opts,
		done:     done,
	}
}

// Start moves the loop from stopped to running. Results go to h.
func (l *Loop) Start(h challenge.Handler) error {
	if h == nil {
		return ErrNoHandler
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	if l.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.handler = h
	l.queue = make(chan challenge.Attempt, l.opts.QueueSize)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.err = nil

	go l.run(ctx, l.queue, l.done)

	slog.Debug("confirmation loop started", "interval", l.opts.Interval, "queue_size", l.opts.QueueSize)
	return nil
}

// Stop moves the loop to stopped and waits for its goroutine to exit, so no
// results are dispatched after it returns. Results already dispatched may
// still be running. Calling Stop on a stopped loop does nothing.
func (l *Loop) Stop() {
	l.lock.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.lock.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	slog.Debug("confirmation loop stopped")
}

// Running reports whether the loop accepts proofs.
func (l *Loop) Running() bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.cancel != nil
}

// Done is closed once the loop goroutine exits, after Stop or a fatal error.
func (l *Loop) Done() <-chan struct{} {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.done
}

// Err returns the fatal error that terminated the loop, if any.
func (l *Loop) Err() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.err
}

// Submit hands a proof to the loop without blocking.
func (l *Loop) Submit(at challenge.Attempt) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.cancel == nil {
		return ErrStopped
	}

	if at.ReceivedAt.IsZero() {
		at.ReceivedAt = time.Now()
	}

	select {
	case l.queue <- at:
		return nil
	default:
		challenge.DroppedProofs.WithLabelValues(at.Source).Inc()
		slog.Warn("dropping proof, confirmation queue is full", "key", internal.Fingerprint(at.Key), "source", at.Source)
		return ErrQueueFull
	}
}

// Reject reports a record that left the cache outside the loop, such as one
// replaced by a newer challenge for the same key, as failed. The outcome is
// final even when the loop is stopped; only the handler call is skipped.
func (l *Loop) Reject(rec challenge.Record) error {
	l.final(rec, false, challenge.Attrs{})

	l.lock.Lock()
	defer l.lock.Unlock()

	if l.cancel == nil {
		return ErrStopped
	}

	l.dispatch(l.handler, rec, false, challenge.Attrs{})
	return nil
}

func (l *Loop) run(ctx context.Context, queue <-chan challenge.Attempt, done chan struct{}) {
	defer close(done)

	err := l.loop(ctx, queue)
	if err == nil {
		return
	}

	slog.Error("confirmation loop terminated", "err", err)

	l.lock.Lock()
	l.err = err
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.lock.Unlock()
}

func (l *Loop) loop(ctx context.Context, queue <-chan challenge.Attempt) error {
	t := time.NewTicker(l.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if err := l.tick(ctx, now, queue, nil); err != nil {
				return err
			}
		case at := <-queue:
			if err := l.tick(ctx, time.Now(), queue, &at); err != nil {
				return err
			}
		}
	}
}

// tick sweeps, then works through first and whatever else is buffered. A
// panic in here means the authenticator is broken, so it ends the loop.
func (l *Loop) tick(ctx context.Context, now time.Time, queue <-chan challenge.Attempt, first *challenge.Attempt) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", challenge.ErrFatal, r, debug.Stack())
		}
	}()

	l.sweep(now)

	if first != nil {
		l.reconcile(*first)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case at := <-queue:
			l.reconcile(at)
		default:
			challenge.Pending.Set(float64(l.cache.Len()))
			return nil
		}
	}
}

func (l *Loop) sweep(now time.Time) {
	for _, rec := range l.cache.SweepExpired(now) {
		challenge.Expired.Inc()
		slog.Debug("challenge expired", "key", internal.Fingerprint(rec.Key), "expires_at", rec.ExpiresAt())
		l.final(rec, false, challenge.Attrs{})
		l.dispatch(l.handler, rec, false, challenge.Attrs{})
	}
}

func (l *Loop) reconcile(at challenge.Attempt) {
	lg := slog.With("key", internal.Fingerprint(at.Key), "source", at.Source)

	rec, ok := l.cache.Get(at.Key)
	if !ok {
		challenge.UnknownProofs.WithLabelValues(at.Source).Inc()
		lg.Debug("proof for unknown challenge, discarding")
		return
	}

	res := l.verifier.Verify(rec, at)
	if res.Valid {
		if !l.cache.Take(rec) {
			lg.Debug("challenge resolved concurrently, discarding proof")
			return
		}

		challenge.Validated.Inc()
		challenge.TimeTaken.Observe(at.ReceivedAt.Sub(rec.CreatedAt).Seconds())
		lg.Debug("check passed")
		l.final(rec, true, res.Attrs)
		l.dispatch(l.handler, rec, true, res.Attrs)
		return
	}

	challenge.FailedValidations.WithLabelValues(challenge.Reason(res.Reason)).Inc()
	lg.Warn("proof rejected", "err", res.Reason)

	if l.opts.RemoveOnFailure {
		if !l.cache.Take(rec) {
			return
		}
		l.final(rec, false, challenge.Attrs{})
	}

	l.dispatch(l.handler, rec, false, challenge.Attrs{})
}

func (l *Loop) final(rec challenge.Record, ok bool, attrs challenge.Attrs) {
	if l.opts.OnFinal == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("final outcome observer panicked", "key", internal.Fingerprint(rec.Key), "ok", ok, "panic", r)
		}
	}()

	l.opts.OnFinal(rec, ok, attrs)
}

// dispatch runs the handler in its own goroutine so a slow or panicking
// callback cannot hold up the loop.
func (l *Loop) dispatch(h challenge.Handler, rec challenge.Record, ok bool, attrs challenge.Attrs) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("result handler panicked", "key", internal.Fingerprint(rec.Key), "ok", ok, "panic", r)
			}
		}()

		h.OnAuthResult(rec.Context, ok, attrs)
	}()
}
