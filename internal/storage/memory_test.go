package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/serroba/online-diagrams/internal/diagram"
	"github.com/serroba/online-diagrams/internal/storage"
	"github.com/stretchr/testify/require"
)

func change(docID string, seq int64) storage.Change {
	return storage.Change{
		DocumentID: docID,
		Seq:        seq,
		Type:       diagram.NodeMove,
		Payload:    json.RawMessage(fmt.Sprintf(`{"id":"n1","x":%d,"y":0}`, seq)),
		AuthorID:   "u1",
		ClientID:   "c1",
		LocalSeq:   seq,
	}
}

func TestMemoryStore_AppendAndChangesSince(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, store.Append(ctx, change("doc1", seq)))
	}

	changes, err := store.ChangesSince(ctx, "doc1", 2, 0)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	for i, c := range changes {
		require.Equal(t, int64(i+3), c.Seq)
		require.False(t, c.CreatedAt.IsZero())
	}

	limited, err := store.ChangesSince(ctx, "doc1", 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, int64(1), limited[0].Seq)

	latest, err := store.LatestSeq(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, int64(5), latest)
}

func TestMemoryStore_ChangesSinceIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, store.Append(ctx, change("doc1", seq)))
	}

	first, err := store.ChangesSince(ctx, "doc1", 1, 0)
	require.NoError(t, err)

	second, err := store.ChangesSince(ctx, "doc1", 1, 0)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestMemoryStore_OutOfOrderAppendStaysSorted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, store.Append(ctx, change("doc1", seq)))
	}

	changes, err := store.ChangesSince(ctx, "doc1", 0, 0)
	require.NoError(t, err)

	for i, c := range changes {
		require.Equal(t, int64(i+1), c.Seq)
	}
}

func TestMemoryStore_AppendDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.Append(ctx, change("doc1", 1)))

	dupSeq := change("doc1", 1)
	dupSeq.LocalSeq = 99

	if err := store.Append(ctx, dupSeq); !errors.Is(err, storage.ErrDuplicateSeq) {
		t.Errorf("expected ErrDuplicateSeq, got %v", err)
	}

	dupOp := change("doc1", 2)
	dupOp.LocalSeq = 1

	if err := store.Append(ctx, dupOp); !errors.Is(err, storage.ErrDuplicateOperation) {
		t.Errorf("expected ErrDuplicateOperation, got %v", err)
	}

	// the same key on another diagram is unrelated
	require.NoError(t, store.Append(ctx, change("doc2", 1)))
}

func TestMemoryStore_UnknownDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	changes, err := store.ChangesSince(ctx, "missing", 0, 10)
	require.NoError(t, err)
	require.Empty(t, changes)

	latest, err := store.LatestSeq(ctx, "missing")
	require.NoError(t, err)
	require.Zero(t, latest)

	_, err = store.LatestSnapshot(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestMemoryStore_Snapshots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	for _, v := range []int64{200, 100} {
		require.NoError(t, store.SaveSnapshot(ctx, storage.Snapshot{
			DocumentID: "doc1",
			Version:    v,
			Payload:    json.RawMessage(`{"nodes":[],"edges":[]}`),
		}))
	}

	err := store.SaveSnapshot(ctx, storage.Snapshot{DocumentID: "doc1", Version: 100})
	require.ErrorIs(t, err, storage.ErrSnapshotExists)

	latest, err := store.LatestSnapshot(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, int64(200), latest.Version)

	at, err := store.SnapshotAtOrBefore(ctx, "doc1", 199)
	require.NoError(t, err)
	require.Equal(t, int64(100), at.Version)

	_, err = store.SnapshotAtOrBefore(ctx, "doc1", 99)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func(seq int64) {
			defer wg.Done()

			_ = store.Append(ctx, change("doc1", seq))
		}(int64(i + 1))
	}

	wg.Wait()

	latest, err := store.LatestSeq(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, int64(20), latest)

	changes, err := store.ChangesSince(ctx, "doc1", 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 20)
}
