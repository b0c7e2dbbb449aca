package broadcast

import (
	"context"
	"encoding/json"
	"sync"
)

// Envelope is one room event travelling between processes.
type Envelope struct {
	DocumentID string          `json:"documentId"`
	Exclude    string          `json:"exclude,omitempty"` // connection id of the sender
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// Handler receives every envelope published on the bus.
type Handler func(Envelope)

// Bus fans room events out to every process, including the publisher.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Run delivers envelopes to handler until ctx is done.
	Run(ctx context.Context, handler Handler) error
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(docID, exclude, eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{DocumentID: docID, Exclude: exclude, Type: eventType, Payload: raw}, nil
}

// MemoryBus delivers envelopes synchronously inside one process.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]Handler)}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers {
		h(env)
	}

	return nil
}

// Run implements Bus.
func (b *MemoryBus) Run(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()

	return nil
}

// Subscribers returns the number of running handlers.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers)
}

var _ Bus = (*MemoryBus)(nil)
