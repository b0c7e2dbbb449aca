package presence

import (
	"context"
	"time"
)

// Defaults.
const (
	DefaultTTL           = 30 * time.Second
	DefaultSweepInterval = 15 * time.Second
	DefaultMinInterval   = 50 * time.Millisecond
)

// Cursor is a pointer position on the canvas.
type Cursor struct {
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
	Zoom *float64 `json:"zoom,omitempty"`
}

// State is what a client reports about itself.
type State struct {
	Cursor     *Cursor  `json:"cursor,omitempty"`
	Selections []string `json:"selections,omitempty"`
}

// Entry is one user's presence in a diagram.
type Entry struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	State     State     `json:"presence"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Directory tracks who is present in each diagram. Entries expire unless
// refreshed within the TTL.
type Directory interface {
	// Set stores the entry and refreshes its expiry.
	Set(ctx context.Context, docID string, entry Entry) error

	// Touch refreshes the expiry, creating a bare entry if none exists.
	Touch(ctx context.Context, docID, userID, email string) error

	// Remove deletes the entry.
	Remove(ctx context.Context, docID, userID string) error

	// List returns the unexpired entries ordered by user id.
	List(ctx context.Context, docID string) ([]Entry, error)

	// Sweep deletes expired entries and returns their user ids. Each
	// expired entry is reported by exactly one call.
	Sweep(ctx context.Context, docID string) ([]string, error)
}
