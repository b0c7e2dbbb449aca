package collab

import (
	"context"
	"errors"

	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/storage"
)

// Catchup is what a reconnecting client needs to reach the current state.
// When Snapshot is set the client replaces its state with it before
// applying Changes. HasMore means further pages are available through
// ChangesSince starting after the last returned seq.
type Catchup struct {
	Changes  []storage.Change  `json:"changes"`
	Snapshot *storage.Snapshot `json:"snapshot,omitempty"`
	HasMore  bool              `json:"hasMore"`
}

// ChangesSince returns up to the catch-up limit of changes with seq > since
// in ascending order. The user must be able to view the diagram.
func (e *Engine) ChangesSince(ctx context.Context, userID, docID string, since int64) ([]storage.Change, error) {
	if err := e.requireView(ctx, userID, docID); err != nil {
		return nil, err
	}

	if since < 0 {
		return nil, ErrInvalidSince
	}

	return e.changes.ChangesSince(ctx, docID, since, e.catchupLimit)
}

// LatestSnapshot returns the newest snapshot of a diagram the user can view.
func (e *Engine) LatestSnapshot(ctx context.Context, userID, docID string) (storage.Snapshot, error) {
	if err := e.requireView(ctx, userID, docID); err != nil {
		return storage.Snapshot{}, err
	}

	return e.snapshots.LatestSnapshot(ctx, docID)
}

// catchup builds the bounded batch returned on join. A gap larger than the
// limit is bridged by the latest snapshot when one is newer than since;
// otherwise the first page is returned and the client pages on.
func (e *Engine) catchup(ctx context.Context, docID string, since int64) (Catchup, error) {
	if since < 0 {
		return Catchup{}, ErrInvalidSince
	}

	page, err := e.changes.ChangesSince(ctx, docID, since, e.catchupLimit+1)
	if err != nil {
		return Catchup{}, err
	}

	if len(page) <= e.catchupLimit {
		return Catchup{Changes: page}, nil
	}

	snapshot, err := e.snapshots.LatestSnapshot(ctx, docID)

	switch {
	case errors.Is(err, storage.ErrSnapshotNotFound):
	case err != nil:
		return Catchup{}, err
	case snapshot.Version > since:
		tail, err := e.changes.ChangesSince(ctx, docID, snapshot.Version, e.catchupLimit+1)
		if err != nil {
			return Catchup{}, err
		}

		more := len(tail) > e.catchupLimit
		if more {
			tail = tail[:e.catchupLimit]
		}

		return Catchup{Changes: tail, Snapshot: &snapshot, HasMore: more}, nil
	}

	return Catchup{Changes: page[:e.catchupLimit], HasMore: true}, nil
}

func (e *Engine) requireView(ctx context.Context, userID, docID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}

	allowed, err := e.access.CanView(ctx, docID, userID)
	if err != nil {
		return err
	}

	if !allowed {
		return acl.ErrAccessDenied
	}

	return nil
}
