package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]Entry
}

// NewMemoryDirectory creates an in-process directory.
func NewMemoryDirectory(ttl time.Duration) *MemoryDirectory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &MemoryDirectory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]Entry),
	}
}

func (d *MemoryDirectory) room(docID string) map[string]Entry {
	room, ok := d.entries[docID]
	if !ok {
		room = make(map[string]Entry)
		d.entries[docID] = room
	}

	return room
}

// Set implements Directory.
func (d *MemoryDirectory) Set(_ context.Context, docID string, entry Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry.ExpiresAt = d.now().Add(d.ttl)
	d.room(docID)[entry.UserID] = entry

	return nil
}

// Touch implements Directory.
func (d *MemoryDirectory) Touch(_ context.Context, docID, userID, email string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room := d.room(docID)

	entry, ok := room[userID]
	if !ok {
		entry = Entry{UserID: userID, Email: email}
	}

	entry.ExpiresAt = d.now().Add(d.ttl)
	room[userID] = entry

	return nil
}

// Remove implements Directory.
func (d *MemoryDirectory) Remove(_ context.Context, docID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if room, ok := d.entries[docID]; ok {
		delete(room, userID)

		if len(room) == 0 {
			delete(d.entries, docID)
		}
	}

	return nil
}

// List implements Directory.
func (d *MemoryDirectory) List(_ context.Context, docID string) ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	result := []Entry{}

	for _, e := range d.entries[docID] {
		if e.ExpiresAt.After(now) {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })

	return result, nil
}

// Sweep implements Directory.
func (d *MemoryDirectory) Sweep(_ context.Context, docID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	var removed []string

	room := d.entries[docID]
	for id, e := range room {
		if !e.ExpiresAt.After(now) {
			delete(room, id)
			removed = append(removed, id)
		}
	}

	if room != nil && len(room) == 0 {
		delete(d.entries, docID)
	}

	sort.Strings(removed)

	return removed, nil
}

var _ Directory = (*MemoryDirectory)(nil)
