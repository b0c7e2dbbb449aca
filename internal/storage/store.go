package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/diagram"
)

// Common errors.
var (
	ErrSnapshotNotFound   = fmt.Errorf("snapshot not found: %w", apperr.ErrNotFound)
	ErrDuplicateSeq       = fmt.Errorf("sequence number already recorded: %w", apperr.ErrConflict)
	ErrDuplicateOperation = fmt.Errorf("operation already recorded: %w", apperr.ErrConflict)
	ErrSnapshotExists     = fmt.Errorf("snapshot already exists: %w", apperr.ErrConflict)
	ErrUnavailable        = fmt.Errorf("change store: %w", apperr.ErrStoreUnavailable)
)

// Change is one applied operation. It is immutable once appended.
type Change struct {
	DocumentID string          `json:"documentId"`
	Seq        int64           `json:"seq"`
	Type       diagram.Kind    `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	AuthorID   string          `json:"userId"`
	ClientID   string          `json:"clientId"`
	LocalSeq   int64           `json:"localSeq"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Snapshot is the full diagram state as of Version.
type Snapshot struct {
	DocumentID string          `json:"documentId"`
	Version    int64           `json:"version"`
	Payload    json.RawMessage `json:"payload"`
	AuthorID   string          `json:"authorId"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ChangeLog is the durable, totally ordered record of applied operations.
type ChangeLog interface {
	// Append records a change.
	// Returns ErrDuplicateSeq if the diagram already has this seq and
	// ErrDuplicateOperation if it already has this (clientId, localSeq).
	Append(ctx context.Context, change Change) error

	// ChangesSince returns at most limit changes with seq > since,
	// ascending. A non-positive limit means no limit.
	ChangesSince(ctx context.Context, docID string, since int64, limit int) ([]Change, error)

	// ChangesBetween returns every change with after < seq <= upTo, ascending.
	ChangesBetween(ctx context.Context, docID string, after, upTo int64) ([]Change, error)

	// LatestSeq returns the highest recorded seq, or 0.
	LatestSeq(ctx context.Context, docID string) (int64, error)
}

// SnapshotStore persists compacted diagram states.
type SnapshotStore interface {
	// SaveSnapshot returns ErrSnapshotExists if the version is already stored.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error

	// LatestSnapshot returns ErrSnapshotNotFound when the diagram has none.
	LatestSnapshot(ctx context.Context, docID string) (Snapshot, error)

	// SnapshotAtOrBefore returns the newest snapshot with Version <= version.
	SnapshotAtOrBefore(ctx context.Context, docID string, version int64) (Snapshot, error)
}
