package invite

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/serroba/online-diagrams/internal/acl"
)

// MemoryStore is an in-memory Store. Accepted invitations are granted
// through the given membership store while holding the store lock.
type MemoryStore struct {
	mu      sync.Mutex
	members acl.MembershipStore
	byID    map[string]*Invitation
	byToken map[string]string
}

// NewMemoryStore creates a new in-memory invitation store.
func NewMemoryStore(members acl.MembershipStore) *MemoryStore {
	return &MemoryStore{
		members: members,
		byID:    make(map[string]*Invitation),
		byToken: make(map[string]string),
	}
}

// Create stores a new invitation.
func (m *MemoryStore) Create(_ context.Context, inv Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := inv
	m.byID[inv.ID] = &stored
	m.byToken[inv.Token] = inv.ID

	return nil
}

// RevokePending revokes superseded invitations.
func (m *MemoryStore) RevokePending(_ context.Context, docID, inviterID, email string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inv := range m.byID {
		if inv.DocumentID == docID && inv.InviterID == inviterID && inv.InviteeEmail == email &&
			inv.Status == StatusPending && inv.ExpiresAt.After(now) {
			inv.Status = StatusRevoked
		}
	}

	return nil
}

// Get returns an invitation by id.
func (m *MemoryStore) Get(_ context.Context, id string) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}

	return *inv, nil
}

// GetByToken returns an invitation by token.
func (m *MemoryStore) GetByToken(ctx context.Context, token string) (Invitation, error) {
	m.mu.Lock()
	id, ok := m.byToken[token]
	m.mu.Unlock()

	if !ok {
		return Invitation{}, ErrNotFound
	}

	return m.Get(ctx, id)
}

// Revoke moves a pending invitation to REVOKED.
func (m *MemoryStore) Revoke(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[id]
	if !ok {
		return false, ErrNotFound
	}

	if inv.Status != StatusPending {
		return false, nil
	}

	inv.Status = StatusRevoked

	return true, nil
}

// Accept grants the role and marks the invitation accepted.
func (m *MemoryStore) Accept(ctx context.Context, id, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}

	if inv.Status != StatusPending {
		return ErrNotPending
	}

	if err := m.members.Grant(ctx, inv.DocumentID, userID, inv.Role); err != nil {
		return err
	}

	inv.Status = StatusAccepted
	inv.AcceptedAt = &at

	return nil
}

// List returns pending and accepted invitations, newest first.
func (m *MemoryStore) List(_ context.Context, docID string) ([]Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []Invitation{}

	for _, inv := range m.byID {
		if inv.DocumentID == docID && (inv.Status == StatusPending || inv.Status == StatusAccepted) {
			result = append(result, *inv)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	return result, nil
}

var _ Store = (*MemoryStore)(nil)
