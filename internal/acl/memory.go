package acl

import (
	"context"
	"sort"
	"sync"
)

// membershipKey uniquely identifies a user-diagram membership.
type membershipKey struct {
	docID  string
	userID string
}

// MemoryStore is an in-memory MembershipStore and OwnerLookup.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[membershipKey]Role
	owners  map[string]string
}

// NewMemoryStore creates a new in-memory membership store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members: make(map[membershipKey]Role),
		owners:  make(map[string]string),
	}
}

// SetProjectOwner registers a diagram and the owner of its project.
func (m *MemoryStore) SetProjectOwner(docID, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.owners[docID] = ownerID
}

// ProjectOwner implements OwnerLookup.
func (m *MemoryStore) ProjectOwner(_ context.Context, docID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[docID]
	if !ok {
		return "", ErrDocumentNotFound
	}

	return owner, nil
}

// Grant gives a user a role on a diagram.
func (m *MemoryStore) Grant(_ context.Context, docID, userID string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.members[membershipKey{docID: docID, userID: userID}] = role

	return nil
}

// UpdateRole changes an existing membership.
func (m *MemoryStore) UpdateRole(_ context.Context, docID, userID string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := membershipKey{docID: docID, userID: userID}
	if _, exists := m.members[key]; !exists {
		return ErrMembershipNotFound
	}

	m.members[key] = role

	return nil
}

// Revoke removes a user's membership.
func (m *MemoryStore) Revoke(_ context.Context, docID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := membershipKey{docID: docID, userID: userID}
	if _, exists := m.members[key]; !exists {
		return ErrMembershipNotFound
	}

	delete(m.members, key)

	return nil
}

// GetRole returns the user's explicit role.
func (m *MemoryStore) GetRole(_ context.Context, docID, userID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, exists := m.members[membershipKey{docID: docID, userID: userID}]
	if !exists {
		return 0, ErrMembershipNotFound
	}

	return role, nil
}

// ListMembers returns every membership of a diagram ordered by user id.
func (m *MemoryStore) ListMembers(_ context.Context, docID string) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Membership

	for key, role := range m.members {
		if key.docID == docID {
			result = append(result, Membership{DocumentID: key.docID, UserID: key.userID, Role: role})
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })

	return result, nil
}

var (
	_ MembershipStore = (*MemoryStore)(nil)
	_ OwnerLookup     = (*MemoryStore)(nil)
)
