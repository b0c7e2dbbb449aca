package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/broadcast"
	"github.com/serroba/online-diagrams/internal/diagram"
	"github.com/serroba/online-diagrams/internal/ordering"
	"github.com/serroba/online-diagrams/internal/presence"
	"github.com/serroba/online-diagrams/internal/storage"
	"github.com/serroba/online-diagrams/internal/ws"
)

// Defaults.
const (
	DefaultCatchupLimit    = 1000
	DefaultSnapshotRetries = 3
	DefaultSnapshotBackoff = 100 * time.Millisecond
)

// leaseMargin is the share of a lock lease kept free after the critical
// section must have finished, as a divisor of the lease.
const leaseMargin = 5

// Common errors.
var (
	ErrUnauthenticated = fmt.Errorf("connection has no identity: %w", apperr.ErrUnauthenticated)
	ErrNotInRoom       = fmt.Errorf("connection has not joined a diagram: %w", apperr.ErrValidation)
	ErrInvalidSince    = fmt.Errorf("sinceSeq must not be negative: %w", apperr.ErrValidation)
)

// Authorizer answers capability questions about a diagram.
type Authorizer interface {
	CanView(ctx context.Context, docID, userID string) (bool, error)
	CanEdit(ctx context.Context, docID, userID string) (bool, error)
}

// Feed receives every durably applied change. Enqueue must not block.
type Feed interface {
	Enqueue(change storage.Change)
}

// Config holds the collaborators of an Engine.
type Config struct {
	Sequencer ordering.Sequencer
	Ledger    ordering.Ledger
	Locker    ordering.Locker
	Changes   storage.ChangeLog
	Snapshots storage.SnapshotStore
	Access    Authorizer
	Presence  presence.Directory
	Limiter   *presence.Limiter
	Bus       broadcast.Bus
	Hub       *ws.Hub
	Feed      Feed // optional
	Logger    zerolog.Logger

	Compaction      storage.CompactionPolicy
	CatchupLimit    int
	SnapshotRetries int
	SnapshotBackoff time.Duration
	SweepInterval   time.Duration
	PresenceTTL     time.Duration

	Now func() time.Time
}

// Engine runs the live editing pipeline of every diagram served by this
// process. All cross-process coordination goes through the configured
// stores, so any number of engines may share them.
type Engine struct {
	sequencer ordering.Sequencer
	ledger    ordering.Ledger
	locker    ordering.Locker
	changes   storage.ChangeLog
	snapshots storage.SnapshotStore
	loader    *storage.Loader
	access    Authorizer
	presence  presence.Directory
	limiter   *presence.Limiter
	bus       broadcast.Bus
	hub       *ws.Hub
	feed      Feed
	logger    zerolog.Logger

	compaction      storage.CompactionPolicy
	catchupLimit    int
	snapshotRetries int
	snapshotBackoff time.Duration
	sweepInterval   time.Duration
	presenceTTL     time.Duration
	now             func() time.Time
}

// New creates an engine.
func New(cfg Config) *Engine {
	e := &Engine{
		sequencer:       cfg.Sequencer,
		ledger:          cfg.Ledger,
		locker:          cfg.Locker,
		changes:         cfg.Changes,
		snapshots:       cfg.Snapshots,
		loader:          storage.NewLoader(cfg.Changes, cfg.Snapshots),
		access:          cfg.Access,
		presence:        cfg.Presence,
		limiter:         cfg.Limiter,
		bus:             cfg.Bus,
		hub:             cfg.Hub,
		feed:            cfg.Feed,
		logger:          cfg.Logger.With().Str("component", "collab").Logger(),
		compaction:      cfg.Compaction,
		catchupLimit:    cfg.CatchupLimit,
		snapshotRetries: cfg.SnapshotRetries,
		snapshotBackoff: cfg.SnapshotBackoff,
		sweepInterval:   cfg.SweepInterval,
		presenceTTL:     cfg.PresenceTTL,
		now:             cfg.Now,
	}

	if e.compaction.Interval <= 0 {
		e.compaction = storage.NewCompactionPolicy(storage.DefaultCompactionInterval)
	}

	if e.catchupLimit <= 0 {
		e.catchupLimit = DefaultCatchupLimit
	}

	if e.snapshotRetries <= 0 {
		e.snapshotRetries = DefaultSnapshotRetries
	}

	if e.snapshotBackoff <= 0 {
		e.snapshotBackoff = DefaultSnapshotBackoff
	}

	if e.sweepInterval <= 0 {
		e.sweepInterval = presence.DefaultSweepInterval
	}

	if e.presenceTTL <= 0 {
		e.presenceTTL = presence.DefaultTTL
	}

	if e.limiter == nil {
		e.limiter = presence.NewLimiter(presence.DefaultMinInterval)
	}

	if e.now == nil {
		e.now = time.Now
	}

	return e
}

// Result is the outcome of an applied operation.
type Result struct {
	AckSeq     int64
	ServerTime time.Time
	// Duplicate is set when the (clientId, localSeq) pair was already
	// processed. Nothing was sequenced, logged or broadcast.
	Duplicate bool
}

// Apply runs one client operation through dedup, authorization, sequencing,
// persistence, compaction and broadcast. connID identifies the sending
// connection, which is excluded from the broadcast.
//
// Any failure before the change is durable leaves no trace: the dedup
// marker is released so the client may retry with the same localSeq.
func (e *Engine) Apply(ctx context.Context, userID, connID, docID string, m diagram.Mutation) (Result, error) {
	if userID == "" {
		return Result{}, ErrUnauthenticated
	}

	if docID == "" {
		return Result{}, ErrNotInRoom
	}

	if err := m.Validate(); err != nil {
		return Result{}, err
	}

	fresh, err := e.ledger.MarkSeen(ctx, docID, m.ClientID, m.LocalSeq)
	if err != nil {
		return Result{}, err
	}

	if !fresh {
		return Result{Duplicate: true, ServerTime: e.now()}, nil
	}

	durable := false

	defer func() {
		if durable {
			return
		}

		if err := e.ledger.Forget(context.WithoutCancel(ctx), docID, m.ClientID, m.LocalSeq); err != nil {
			e.logger.Warn().Err(err).Str("doc", docID).Msg("failed to release dedup marker")
		}
	}()

	allowed, err := e.access.CanEdit(ctx, docID, userID)
	if err != nil {
		return Result{}, err
	}

	if !allowed {
		return Result{}, acl.ErrAccessDenied
	}

	payload, err := m.Payload()
	if err != nil {
		return Result{}, fmt.Errorf("encode operation: %w", err)
	}

	change, err := e.sequenceAndPersist(ctx, docID, storage.Change{
		DocumentID: docID,
		Type:       m.Op.Kind(),
		Payload:    payload,
		AuthorID:   userID,
		ClientID:   m.ClientID,
		LocalSeq:   m.LocalSeq,
	})

	switch {
	case errors.Is(err, storage.ErrDuplicateOperation):
		// the marker expired but the log still has the operation
		durable = true

		return Result{Duplicate: true, ServerTime: e.now()}, nil
	case err != nil:
		return Result{}, err
	}

	durable = true

	// the change is durable, the remaining steps must not depend on the client
	detached := context.WithoutCancel(ctx)

	if e.compaction.ShouldCompact(change.Seq) {
		e.compact(detached, docID, change.Seq, userID)
	}

	e.publishChange(detached, connID, change)

	if e.feed != nil {
		e.feed.Enqueue(change)
	}

	return Result{AckSeq: change.Seq, ServerTime: change.CreatedAt}, nil
}

// sequenceAndPersist assigns the next seq and appends the change while
// holding the diagram lock, so no other operation can be sequenced between
// the two steps. When the lock is a lease, both steps must finish before it
// can expire.
func (e *Engine) sequenceAndPersist(ctx context.Context, docID string, change storage.Change) (storage.Change, error) {
	unlock, err := e.locker.Lock(ctx, docID)
	if err != nil {
		return storage.Change{}, err
	}

	defer func() {
		err := unlock()

		switch {
		case errors.Is(err, ordering.ErrLockLost):
			e.logger.Error().Err(err).Str("doc", docID).Int64("seq", change.Seq).Msg("diagram lock expired inside the critical section")
		case err != nil:
			e.logger.Warn().Err(err).Str("doc", docID).Msg("cannot release diagram lock")
		}
	}()

	seqCtx, persistCtx := ctx, context.WithoutCancel(ctx)

	if lease := e.locker.Lease(); lease > 0 {
		deadline := time.Now().Add(lease - lease/leaseMargin)

		var cancelSeq, cancelPersist context.CancelFunc

		seqCtx, cancelSeq = context.WithDeadline(seqCtx, deadline)
		defer cancelSeq()

		persistCtx, cancelPersist = context.WithDeadline(persistCtx, deadline)
		defer cancelPersist()
	}

	seq, err := e.sequencer.Next(seqCtx, docID)
	if err != nil {
		return storage.Change{}, err
	}

	change.Seq = seq
	change.CreatedAt = e.now().UTC()

	err = e.changes.Append(persistCtx, change)
	if errors.Is(err, storage.ErrDuplicateSeq) {
		e.repairSequencer(context.WithoutCancel(ctx), docID)
	}

	if err != nil {
		if persistCtx.Err() != nil && !errors.Is(err, apperr.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: append did not finish within the lock lease: %w", storage.ErrUnavailable, err)
		}

		return storage.Change{}, err
	}

	return change, nil
}

// repairSequencer moves a counter that fell behind the log, for example
// after the counter store lost data, past the highest durable seq.
func (e *Engine) repairSequencer(ctx context.Context, docID string) {
	latest, err := e.changes.LatestSeq(ctx, docID)
	if err != nil {
		e.logger.Error().Err(err).Str("doc", docID).Msg("cannot read latest seq for repair")

		return
	}

	if err := e.sequencer.EnsureAtLeast(ctx, docID, latest); err != nil {
		e.logger.Error().Err(err).Str("doc", docID).Msg("cannot repair sequencer")

		return
	}

	e.logger.Warn().Str("doc", docID).Int64("floor", latest).Msg("sequencer was behind the change log")
}

// compact saves a snapshot tagged seq. Failures are retried with linear
// backoff and then logged; they never fail the operation.
func (e *Engine) compact(ctx context.Context, docID string, seq int64, authorID string) {
	var lastErr error

	for attempt := 1; attempt <= e.snapshotRetries; attempt++ {
		lastErr = e.saveSnapshot(ctx, docID, seq, authorID)
		if lastErr == nil {
			return
		}

		if attempt < e.snapshotRetries {
			time.Sleep(time.Duration(attempt) * e.snapshotBackoff)
		}
	}

	e.logger.Error().Err(lastErr).
		Str("doc", docID).
		Int64("seq", seq).
		Int("attempts", e.snapshotRetries).
		Msg("snapshot failed")
}

func (e *Engine) saveSnapshot(ctx context.Context, docID string, seq int64, authorID string) error {
	snapshot, err := e.loader.BuildSnapshot(ctx, docID, seq, authorID)
	if err != nil {
		return err
	}

	snapshot.CreatedAt = e.now().UTC()

	err = e.snapshots.SaveSnapshot(ctx, snapshot)
	if errors.Is(err, storage.ErrSnapshotExists) {
		return nil
	}

	return err
}

// publishChange announces an applied change to the room on every process.
func (e *Engine) publishChange(ctx context.Context, connID string, change storage.Change) {
	event, err := diagram.Event(change.Seq, change.AuthorID, change.ClientID, change.LocalSeq, change.Payload, change.CreatedAt)
	if err != nil {
		e.logger.Error().Err(err).Str("doc", change.DocumentID).Int64("seq", change.Seq).Msg("cannot build event")

		return
	}

	e.publish(ctx, change.DocumentID, connID, change.Type.EventType(), event)
}

// publish is best-effort: peers that miss an event recover it by catch-up.
func (e *Engine) publish(ctx context.Context, docID, exclude, eventType string, payload any) {
	env, err := broadcast.NewEnvelope(docID, exclude, eventType, payload)
	if err != nil {
		e.logger.Error().Err(err).Str("doc", docID).Str("event", eventType).Msg("cannot encode event")

		return
	}

	if err := e.bus.Publish(ctx, env); err != nil {
		e.logger.Warn().Err(err).Str("doc", docID).Str("event", eventType).Msg("broadcast failed")
	}
}
