// Package store owns the state document. All mutations, local or remote, enter through Dispatch and
// are applied one at a time in submission order.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/fitstate/internal/dedupe"
	"example.com/fitstate/internal/domain"
)

var (
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("store closed")
	// ErrSyncEnqueue is returned by Dispatch when the mutation committed but its changes could not
	// be queued for sync.
	ErrSyncEnqueue = errors.New("enqueue sync changes")
)

// Sink receives the fields changed by each committed local mutation, in commit order.
type Sink interface {
	Enqueue(ctx context.Context, changes []domain.FieldChange) error
}

// AppliedLog durably records applied mutation ids so replays older than the dedupe window are
// still recognised.
type AppliedLog interface {
	WasApplied(ctx context.Context, namespace, id string) (bool, error)
	MarkApplied(ctx context.Context, namespace, id string) (bool, error)
}

// Result describes a dispatched mutation.
type Result struct {
	MutationID string               `json:"mutation_id"`
	Lamport    int64                `json:"lamport"`
	Duplicate  bool                 `json:"duplicate"`
	Changes    []domain.FieldChange `json:"changes"`
}

// Option configures optional behaviour for the Store.
type Option func(*Store)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithSnapshotter persists the state document under namespace.
func WithSnapshotter(snap Snapshotter, namespace string) Option {
	return func(s *Store) {
		s.snap = snap
		s.namespace = namespace
	}
}

// WithSink forwards changed fields to the sync queue.
func WithSink(sink Sink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

// WithClock overrides the time source used for IssuedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithDebounce sets how long Run waits after a commit before writing the snapshot.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		s.debounce = d
	}
}

// WithDedupeWindow sets how many recent mutation ids are remembered for replay detection.
func WithDedupeWindow(size int) Option {
	return func(s *Store) {
		s.seen = dedupe.NewWindow(size)
	}
}

// WithAppliedLog consults log for ids missing from the in-memory window and records every commit in it.
func WithAppliedLog(log AppliedLog) Option {
	return func(s *Store) {
		s.applied = log
	}
}

// Store is the single writer of the state document.
type Store struct {
	deviceID  string
	namespace string
	logger    *zap.Logger
	snap      Snapshotter
	sink      Sink
	now       func() time.Time
	debounce  time.Duration
	seen      *dedupe.Window
	applied   AppliedLog

	writeMu sync.Mutex
	closed  bool
	commits uint64

	mu    sync.RWMutex
	state domain.State

	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[uint64]func(domain.State)
	nextSub  uint64

	saveMu sync.Mutex
	saved  uint64
	dirty  chan struct{}
}

// New constructs a Store for deviceID holding the empty state.
func New(deviceID string, opts ...Option) *Store {
	s := &Store{
		deviceID:  deviceID,
		namespace: "default",
		logger:    zap.NewNop(),
		snap:      NewMemorySnapshotter(),
		now:       func() time.Time { return time.Now().UTC() },
		debounce:  250 * time.Millisecond,
		seen:      dedupe.NewWindow(4096),
		state:     domain.NewState(),
		subs:      map[uint64]func(domain.State){},
		dirty:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "store"), zap.String("device_id", deviceID))
	return s
}

// DeviceID returns the id stamped on local mutations.
func (s *Store) DeviceID() string {
	return s.deviceID
}

// State returns the current state. The value is shared and must be treated as read-only.
func (s *Store) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch validates and applies m. Local mutations get a fresh id when empty, the next lamport
// stamp and this store's device id. Mutations whose id was already applied are acknowledged as
// duplicates without effect.
func (s *Store) Dispatch(ctx context.Context, m domain.Mutation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.IssuedAt.IsZero() {
		m.IssuedAt = s.now()
	}
	if err := domain.Validate(m); err != nil {
		recordRejected(m.Op, "validation")
		return Result{MutationID: m.ID}, err
	}

	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return Result{}, ErrClosed
	}
	dup, err := s.wasApplied(ctx, m.ID)
	if err != nil {
		s.writeMu.Unlock()
		return Result{MutationID: m.ID}, err
	}
	if dup {
		s.writeMu.Unlock()
		recordDuplicate(m.Op)
		return Result{MutationID: m.ID, Duplicate: true}, nil
	}

	current := s.State()
	if m.Op != domain.OpRemotePatch {
		m.Lamport = current.Lamport + 1
		m.DeviceID = s.deviceID
	}
	next, changes, err := domain.ApplyWithChanges(current, m)
	if err != nil {
		s.writeMu.Unlock()
		reason := "not_found"
		if errors.Is(err, domain.ErrValidation) {
			reason = "validation"
		}
		recordRejected(m.Op, reason)
		s.logger.Debug("mutation rejected", zap.String("mutation_id", m.ID), zap.String("op", string(m.Op)), zap.Error(err))
		return Result{MutationID: m.ID}, err
	}
	if s.applied != nil {
		if _, err := s.applied.MarkApplied(ctx, s.namespace, m.ID); err != nil {
			s.writeMu.Unlock()
			return Result{MutationID: m.ID}, fmt.Errorf("record applied mutation: %w", err)
		}
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.seen.Add(m.ID)
	s.commits++

	var sinkErr error
	if s.sink != nil && m.Op != domain.OpRemotePatch && len(changes) > 0 {
		sinkErr = s.sink.Enqueue(ctx, changes)
	}

	// notifyMu is taken before writeMu is released so subscribers observe commits in order.
	s.notifyMu.Lock()
	s.writeMu.Unlock()
	s.notify(next)
	s.notifyMu.Unlock()

	s.markDirty()
	recordApplied(m.Op, len(changes))

	if sinkErr != nil {
		s.logger.Error("enqueue sync changes", zap.String("mutation_id", m.ID), zap.Error(sinkErr))
		return Result{MutationID: m.ID, Lamport: next.Lamport, Changes: changes}, fmt.Errorf("%w: %w", ErrSyncEnqueue, sinkErr)
	}
	return Result{MutationID: m.ID, Lamport: next.Lamport, Changes: changes}, nil
}

// wasApplied checks the window first and falls back to the durable log. Callers hold writeMu.
func (s *Store) wasApplied(ctx context.Context, id string) (bool, error) {
	if s.seen.Seen(id) {
		return true, nil
	}
	if s.applied == nil {
		return false, nil
	}
	ok, err := s.applied.WasApplied(ctx, s.namespace, id)
	if err != nil {
		return false, fmt.Errorf("check applied mutation: %w", err)
	}
	if ok {
		s.seen.Add(id)
	}
	return ok, nil
}

func (s *Store) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Load replaces the state with the persisted snapshot, if one exists.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.snap.LoadSnapshot(ctx, s.namespace)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	var doc snapshotDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	loaded := doc.State.Normalize()
	s.writeMu.Lock()
	s.mu.Lock()
	s.state = loaded
	s.mu.Unlock()
	for _, id := range doc.Applied {
		s.seen.Add(id)
	}
	commits := s.commits
	s.notifyMu.Lock()
	s.writeMu.Unlock()
	s.notify(loaded)
	s.notifyMu.Unlock()

	s.saveMu.Lock()
	s.saved = commits
	s.saveMu.Unlock()
	s.logger.Info("snapshot loaded", zap.String("namespace", s.namespace), zap.Int64("lamport", doc.State.Lamport))
	return nil
}

// Flush writes the snapshot if anything was committed since the last write.
func (s *Store) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.writeMu.Lock()
	commits := s.commits
	doc := snapshotDocument{Version: snapshotVersion, State: s.State(), Applied: s.seen.IDs()}
	s.writeMu.Unlock()

	if commits == s.saved {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	start := time.Now()
	if err := s.snap.SaveSnapshot(ctx, s.namespace, raw); err != nil {
		snapshotErrors.Inc()
		return fmt.Errorf("save snapshot: %w", err)
	}
	snapshotDuration.Observe(time.Since(start).Seconds())
	s.saved = commits
	return nil
}

// Run writes snapshots on a debounce after commits until ctx is cancelled, then flushes once more.
func (s *Store) Run(ctx context.Context) error {
	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Error("final snapshot flush", zap.Error(err))
				return err
			}
			return nil
		case <-s.dirty:
			if !pending {
				pending = true
				timer.Reset(s.debounce)
			}
		case <-timer.C:
			pending = false
			if err := s.Flush(ctx); err != nil {
				s.logger.Error("snapshot flush", zap.Error(err))
			}
		}
	}
}

// Close rejects further mutations and flushes the snapshot.
func (s *Store) Close(ctx context.Context) error {
	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()
	return s.Flush(ctx)
}
