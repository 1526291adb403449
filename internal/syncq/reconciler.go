package syncq

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Remote is the document store entries are delivered to. Implementations dedupe on
// Delivery.IdempotencyKey and wrap irrecoverable rejections with Permanent.
type Remote interface {
	Upsert(ctx context.Context, d Delivery) error
}

// Publisher is told about every acknowledged entry, e.g. to fan it out to other devices.
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

// Config holds the retry policy.
type Config struct {
	Backoff        Backoff
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries     int
	AttemptTimeout time.Duration
}

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{Backoff: DefaultBackoff(), MaxRetries: 8, AttemptTimeout: 10 * time.Second}
}

// ReconcilerOption configures optional behaviour for the Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithPublisher forwards acknowledged entries to p.
func WithPublisher(p Publisher) ReconcilerOption {
	return func(r *Reconciler) {
		r.publisher = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithRand overrides the jitter source, which must return values in [0,1).
func WithRand(rnd func() float64) ReconcilerOption {
	return func(r *Reconciler) {
		r.rand = rnd
	}
}

// Reconciler delivers queue entries to the remote in order, one at a time.
type Reconciler struct {
	queue     *Queue
	remote    Remote
	conn      Connectivity
	cfg       Config
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	rand      func() float64
	wake      chan struct{}

	shutdownComplete chan struct{}
}

// NewReconciler constructs a Reconciler.
func NewReconciler(queue *Queue, remote Remote, conn Connectivity, cfg Config, opts ...ReconcilerOption) *Reconciler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if conn == nil {
		conn = NewToggle(true)
	}
	r := &Reconciler{
		queue:            queue,
		remote:           remote,
		conn:             conn,
		cfg:              cfg,
		logger:           zap.NewNop(),
		now:              func() time.Time { return time.Now().UTC() },
		rand:             rand.Float64,
		wake:             make(chan struct{}, 1),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "reconciler"))
	return r
}

// Wake asks the loop to re-check the queue immediately.
func (r *Reconciler) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start runs the delivery loop until ctx is cancelled. It should be called in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	defer close(r.shutdownComplete)

	var changed <-chan struct{}
	if t, ok := r.conn.(interface{ Changed() <-chan struct{} }); ok {
		changed = t.Changed()
	}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("reconcile pass failed", zap.Error(err))
		}

		// Backoff expiry is tracked offline too, so failed entries return to pending on time.
		var due <-chan time.Time
		if next, ok := r.queue.NextAttempt(); ok {
			wait := next.Sub(r.now())
			if wait <= 0 {
				wait = time.Millisecond
			}
			timer.Reset(wait)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-r.queue.Signal():
		case <-changed:
		case <-r.wake:
		case <-due:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// Wait blocks until Start returns.
func (r *Reconciler) Wait() {
	<-r.shutdownComplete
}

// RunOnce delivers due entries from the head of the queue until the queue is empty, the head is
// waiting on backoff, the remote is offline or a delivery fails transiently. It returns the number
// of acknowledged entries.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if !r.conn.Online() {
			_, err := r.queue.Promote(ctx, r.now())
			return delivered, err
		}
		entry, ok, err := r.queue.Begin(ctx, r.now())
		if err != nil {
			return delivered, err
		}
		if !ok {
			return delivered, nil
		}

		started := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		deliverErr := r.remote.Upsert(attemptCtx, entry.Delivery())
		cancel()
		attemptDuration.Observe(time.Since(started).Seconds())

		if deliverErr == nil {
			acked, err := r.queue.Ack(ctx, entry.Seq)
			if err != nil {
				return delivered, err
			}
			recordOutcome(outcomeAcknowledged)
			delivered++
			r.publish(ctx, acked)
			continue
		}

		if ctx.Err() != nil {
			// Shutting down; the attempt did not get a fair chance.
			if err := r.queue.Release(context.WithoutCancel(ctx), entry.Seq); err != nil {
				r.logger.Error("release entry", zap.Uint64("seq", entry.Seq), zap.Error(err))
			}
			return delivered, ctx.Err()
		}

		if IsPermanent(deliverErr) {
			recordOutcome(outcomePermanent)
			r.logger.Warn("delivery rejected permanently",
				zap.Uint64("seq", entry.Seq), zap.String("key", entry.Key()), zap.Error(deliverErr))
			if _, err := r.queue.Abandon(ctx, entry.Seq, deliverErr); err != nil {
				return delivered, err
			}
			continue
		}

		failures := entry.Attempts + 1
		if failures > r.cfg.MaxRetries {
			recordOutcome(outcomeExhausted)
			r.logger.Warn("retry budget exhausted",
				zap.Uint64("seq", entry.Seq), zap.String("key", entry.Key()), zap.Int("attempts", failures), zap.Error(deliverErr))
			cause := fmt.Errorf("retry limit reached after %d attempts: %w", failures, deliverErr)
			if _, err := r.queue.Abandon(ctx, entry.Seq, cause); err != nil {
				return delivered, err
			}
			continue
		}

		recordOutcome(outcomeTransient)
		delay := r.cfg.Backoff.Delay(failures, r.rand())
		r.logger.Debug("delivery failed, backing off",
			zap.Uint64("seq", entry.Seq), zap.Int("attempts", failures), zap.Duration("delay", delay), zap.Error(deliverErr))
		var transient *TransientError
		if !errors.As(deliverErr, &transient) {
			deliverErr = Transient(deliverErr)
		}
		if err := r.queue.Fail(ctx, entry.Seq, deliverErr, r.now().Add(delay)); err != nil {
			return delivered, err
		}
		return delivered, nil
	}
}

func (r *Reconciler) publish(ctx context.Context, e Entry) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.logger.Warn("publish acknowledged entry", zap.Uint64("seq", e.Seq), zap.Error(err))
	}
}
