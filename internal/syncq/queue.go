package syncq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/fitstate/internal/dedupe"
	"example.com/fitstate/internal/domain"
)

// Journal persists queue entries so undelivered changes survive restarts.
type Journal interface {
	SaveEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, seq uint64) error
	LoadEntries(ctx context.Context) ([]Entry, error)
}

// QueueOption configures optional behaviour for the Queue.
type QueueOption func(*Queue)

// WithJournal persists entries through j.
func WithJournal(j Journal) QueueOption {
	return func(q *Queue) {
		q.journal = j
	}
}

// WithQueueLogger overrides the logger.
func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithQueueClock overrides the time source for enqueue timestamps.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// Stats summarises the queue.
type Stats struct {
	Pending      int    `json:"pending"`
	InFlight     int    `json:"in_flight"`
	Failed       int    `json:"failed"`
	Abandoned    int    `json:"abandoned"`
	Acknowledged uint64 `json:"acknowledged"`
	Coalesced    uint64 `json:"coalesced"`
}

// Queue is an ordered list of undelivered entries shared by the store and the reconciler.
// Every access is serialized by one mutex.
type Queue struct {
	mu        sync.Mutex
	entries   []*Entry
	abandoned []*Entry
	nextSeq   uint64
	acked     *dedupe.Window
	ackCount  uint64
	coalesced uint64

	journal Journal
	logger  *zap.Logger
	now     func() time.Time
	signal  chan struct{}
}

// NewQueue constructs an empty Queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		nextSeq: 1,
		acked:   dedupe.NewWindow(4096),
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Signal fires after entries are added or become deliverable.
func (q *Queue) Signal() <-chan struct{} {
	return q.signal
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Load restores journaled entries. Entries persisted as in flight are reset to pending because
// their outcome is unknown; the remote dedupes the resend.
func (q *Queue) Load(ctx context.Context) error {
	if q.journal == nil {
		return nil
	}
	loaded, err := q.journal.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("load queue journal: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = q.entries[:0]
	q.abandoned = q.abandoned[:0]
	for i := range loaded {
		e := loaded[i]
		if e.Seq >= q.nextSeq {
			q.nextSeq = e.Seq + 1
		}
		switch e.State {
		case StateAbandoned:
			q.abandoned = append(q.abandoned, &e)
		case StateAcknowledged:
			continue
		default:
			if e.State == StateInFlight {
				e.State = StatePending
			}
			q.entries = append(q.entries, &e)
		}
	}
	q.updateGauges()
	if len(q.entries) > 0 {
		q.notify()
	}
	q.logger.Info("queue journal loaded", zap.Int("entries", len(q.entries)), zap.Int("abandoned", len(q.abandoned)))
	return nil
}

// Enqueue appends one entry per change in order. A change to a field that already has an entry
// waiting to be sent replaces it: the old entry is removed and the new value goes to the tail,
// keeping the retry history. In-flight entries are never replaced.
func (q *Queue) Enqueue(ctx context.Context, changes []domain.FieldChange) error {
	if len(changes) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, c := range changes {
		e := entryFromChange(c)
		if q.acked.Seen(e.IdempotencyKey()) {
			continue
		}
		e.Seq = q.nextSeq
		q.nextSeq++
		e.EnqueuedAt = q.now()

		if idx := q.waitingIndex(e.Key()); idx >= 0 {
			old := q.entries[idx]
			e.Attempts = old.Attempts
			e.NextAttemptAt = old.NextAttemptAt
			e.LastError = old.LastError
			if old.State == StateFailed {
				e.State = StateFailed
			}
			q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
			if err := q.deleteJournal(ctx, old.Seq); err != nil {
				return err
			}
			q.coalesced++
			coalescedCounter.Inc()
		}
		q.entries = append(q.entries, e)
		if err := q.saveJournal(ctx, *e); err != nil {
			return err
		}
		enqueuedCounter.Inc()
	}
	q.updateGauges()
	q.notify()
	return nil
}

func (q *Queue) waitingIndex(key string) int {
	for i, e := range q.entries {
		if e.State != StateInFlight && e.Key() == key {
			return i
		}
	}
	return -1
}

// Promote returns failed entries whose backoff has expired at now to pending and reports how
// many moved.
func (q *Queue) Promote(ctx context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.promote(ctx, now)
}

func (q *Queue) promote(ctx context.Context, now time.Time) (int, error) {
	moved := 0
	for _, e := range q.entries {
		if e.State != StateFailed || now.Before(e.NextAttemptAt) {
			continue
		}
		e.State = StatePending
		if err := q.saveJournal(ctx, *e); err != nil {
			e.State = StateFailed
			q.updateGauges()
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		q.updateGauges()
	}
	return moved, nil
}

// Begin marks the head entry in flight and returns a copy, if it is due at now.
func (q *Queue) Begin(ctx context.Context, now time.Time) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.promote(ctx, now); err != nil {
		return Entry{}, false, err
	}
	if len(q.entries) == 0 {
		return Entry{}, false, nil
	}
	head := q.entries[0]
	if head.State != StatePending {
		return Entry{}, false, nil
	}
	head.State = StateInFlight
	if err := q.saveJournal(ctx, *head); err != nil {
		head.State = StatePending
		return Entry{}, false, err
	}
	q.updateGauges()
	return *head, true, nil
}

// NextAttempt returns the earliest time a failed entry leaves backoff. ok is false when no entry
// is backing off.
func (q *Queue) NextAttempt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next time.Time
	ok := false
	for _, e := range q.entries {
		if e.State != StateFailed {
			continue
		}
		if !ok || e.NextAttemptAt.Before(next) {
			next, ok = e.NextAttemptAt, true
		}
	}
	return next, ok
}

// Ack removes an acknowledged entry and remembers its idempotency key.
func (q *Queue) Ack(ctx context.Context, seq uint64) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(seq)
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, seq)
	}
	e := q.entries[idx]
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	e.State = StateAcknowledged
	q.acked.Add(e.IdempotencyKey())
	q.ackCount++
	q.updateGauges()
	if err := q.deleteJournal(ctx, seq); err != nil {
		return *e, err
	}
	if len(q.entries) > 0 {
		q.notify()
	}
	return *e, nil
}

// Fail records a failed attempt and schedules the next one.
func (q *Queue) Fail(ctx context.Context, seq uint64, cause error, next time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(seq)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, seq)
	}
	e := q.entries[idx]
	e.State = StateFailed
	e.Attempts++
	e.NextAttemptAt = next
	e.LastError = cause.Error()
	q.updateGauges()
	return q.saveJournal(ctx, *e)
}

// Release returns an in-flight entry to pending without counting an attempt, used when the
// reconciler stops mid-delivery.
func (q *Queue) Release(ctx context.Context, seq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(seq)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, seq)
	}
	e := q.entries[idx]
	if e.Attempts > 0 {
		e.State = StateFailed
	} else {
		e.State = StatePending
	}
	q.updateGauges()
	return q.saveJournal(ctx, *e)
}

// Abandon moves an entry out of the delivery order into the abandoned list.
func (q *Queue) Abandon(ctx context.Context, seq uint64, cause error) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(seq)
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, seq)
	}
	e := q.entries[idx]
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	e.State = StateAbandoned
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	q.abandoned = append(q.abandoned, e)
	q.updateGauges()
	if err := q.saveJournal(ctx, *e); err != nil {
		return *e, err
	}
	if len(q.entries) > 0 {
		q.notify()
	}
	return *e, nil
}

// Retry re-queues an abandoned entry at the tail with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, seq uint64) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := -1
	for i, e := range q.abandoned {
		if e.Seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, seq)
	}
	e := q.abandoned[idx]
	q.abandoned = append(q.abandoned[:idx], q.abandoned[idx+1:]...)
	if err := q.deleteJournal(ctx, e.Seq); err != nil {
		return Entry{}, err
	}

	retry := *e
	retry.Seq = q.nextSeq
	q.nextSeq++
	retry.State = StatePending
	retry.Attempts = 0
	retry.NextAttemptAt = time.Time{}
	retry.EnqueuedAt = q.now()
	if idx := q.waitingIndex(retry.Key()); idx >= 0 {
		// A newer value for the field is already waiting; it supersedes the abandoned one.
		q.updateGauges()
		return *q.entries[idx], nil
	}
	q.entries = append(q.entries, &retry)
	q.updateGauges()
	if err := q.saveJournal(ctx, retry); err != nil {
		return retry, err
	}
	q.notify()
	return retry, nil
}

// Entries returns copies of the undelivered entries in delivery order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyEntries(q.entries)
}

// Abandoned returns copies of the abandoned entries.
func (q *Queue) Abandoned() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyEntries(q.abandoned)
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{Abandoned: len(q.abandoned), Acknowledged: q.ackCount, Coalesced: q.coalesced}
	for _, e := range q.entries {
		switch e.State {
		case StateInFlight:
			st.InFlight++
		case StateFailed:
			st.Failed++
		default:
			st.Pending++
		}
	}
	return st
}

func (q *Queue) indexOf(seq uint64) int {
	for i, e := range q.entries {
		if e.Seq == seq {
			return i
		}
	}
	return -1
}

func (q *Queue) saveJournal(ctx context.Context, e Entry) error {
	if q.journal == nil {
		return nil
	}
	if err := q.journal.SaveEntry(ctx, e); err != nil {
		return fmt.Errorf("journal entry %d: %w", e.Seq, err)
	}
	return nil
}

func (q *Queue) deleteJournal(ctx context.Context, seq uint64) error {
	if q.journal == nil {
		return nil
	}
	if err := q.journal.DeleteEntry(ctx, seq); err != nil {
		return fmt.Errorf("journal delete %d: %w", seq, err)
	}
	return nil
}

func (q *Queue) updateGauges() {
	depthGauge.Set(float64(len(q.entries)))
	abandonedGauge.Set(float64(len(q.abandoned)))
}

func copyEntries(in []*Entry) []Entry {
	out := make([]Entry, 0, len(in))
	for _, e := range in {
		out = append(out, *e)
	}
	return out
}
