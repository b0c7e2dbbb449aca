package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// documentData holds all persisted data for a single diagram.
type documentData struct {
	changes   []Change // ascending by seq
	ops       map[string]struct{}
	snapshots []Snapshot // ascending by version
}

// MemoryStore is an in-memory ChangeLog and SnapshotStore.
// Useful for testing and single process development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*documentData
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*documentData),
	}
}

func (m *MemoryStore) doc(docID string) *documentData {
	doc, ok := m.docs[docID]
	if !ok {
		doc = &documentData{ops: make(map[string]struct{})}
		m.docs[docID] = doc
	}

	return doc
}

func opKey(clientID string, localSeq int64) string {
	return clientID + "\x00" + strconv.FormatInt(localSeq, 10)
}

// Append records a change.
func (m *MemoryStore) Append(_ context.Context, change Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.doc(change.DocumentID)

	i := sort.Search(len(doc.changes), func(i int) bool { return doc.changes[i].Seq >= change.Seq })
	if i < len(doc.changes) && doc.changes[i].Seq == change.Seq {
		return ErrDuplicateSeq
	}

	key := opKey(change.ClientID, change.LocalSeq)
	if _, seen := doc.ops[key]; seen {
		return ErrDuplicateOperation
	}

	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}

	doc.changes = append(doc.changes, Change{})
	copy(doc.changes[i+1:], doc.changes[i:])
	doc.changes[i] = change
	doc.ops[key] = struct{}{}

	return nil
}

// ChangesSince returns changes with seq > since.
func (m *MemoryStore) ChangesSince(_ context.Context, docID string, since int64, limit int) ([]Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[docID]
	if !ok {
		return []Change{}, nil
	}

	i := sort.Search(len(doc.changes), func(i int) bool { return doc.changes[i].Seq > since })
	tail := doc.changes[i:]

	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}

	result := make([]Change, len(tail))
	copy(result, tail)

	return result, nil
}

// ChangesBetween returns changes with after < seq <= upTo.
func (m *MemoryStore) ChangesBetween(_ context.Context, docID string, after, upTo int64) ([]Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Change

	doc, ok := m.docs[docID]
	if !ok {
		return result, nil
	}

	for _, c := range doc.changes {
		if c.Seq > after && c.Seq <= upTo {
			result = append(result, c)
		}
	}

	return result, nil
}

// LatestSeq returns the highest recorded seq.
func (m *MemoryStore) LatestSeq(_ context.Context, docID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[docID]
	if !ok || len(doc.changes) == 0 {
		return 0, nil
	}

	return doc.changes[len(doc.changes)-1].Seq, nil
}

// SaveSnapshot persists a snapshot.
func (m *MemoryStore) SaveSnapshot(_ context.Context, snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.doc(snapshot.DocumentID)

	i := sort.Search(len(doc.snapshots), func(i int) bool { return doc.snapshots[i].Version >= snapshot.Version })
	if i < len(doc.snapshots) && doc.snapshots[i].Version == snapshot.Version {
		return ErrSnapshotExists
	}

	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}

	doc.snapshots = append(doc.snapshots, Snapshot{})
	copy(doc.snapshots[i+1:], doc.snapshots[i:])
	doc.snapshots[i] = snapshot

	return nil
}

// LatestSnapshot returns the newest snapshot.
func (m *MemoryStore) LatestSnapshot(_ context.Context, docID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[docID]
	if !ok || len(doc.snapshots) == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return doc.snapshots[len(doc.snapshots)-1], nil
}

// SnapshotAtOrBefore returns the newest snapshot with Version <= version.
func (m *MemoryStore) SnapshotAtOrBefore(_ context.Context, docID string, version int64) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[docID]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}

	i := sort.Search(len(doc.snapshots), func(i int) bool { return doc.snapshots[i].Version > version })
	if i == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return doc.snapshots[i-1], nil
}

// Ensure MemoryStore implements both interfaces.
var (
	_ ChangeLog     = (*MemoryStore)(nil)
	_ SnapshotStore = (*MemoryStore)(nil)
)
