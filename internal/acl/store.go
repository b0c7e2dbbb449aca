package acl

import (
	"context"
	"fmt"

	"github.com/serroba/online-diagrams/internal/apperr"
)

// Common errors.
var (
	ErrMembershipNotFound = fmt.Errorf("membership not found: %w", apperr.ErrNotFound)
	ErrDocumentNotFound   = fmt.Errorf("diagram not found: %w", apperr.ErrNotFound)
	ErrAccessDenied       = fmt.Errorf("access denied: %w", apperr.ErrForbidden)
	ErrInvalidRole        = fmt.Errorf("invalid role: %w", apperr.ErrValidation)
)

// MembershipStore persists explicit diagram roles.
type MembershipStore interface {
	// Grant gives a user a role on a diagram, replacing any previous one.
	Grant(ctx context.Context, docID, userID string, role Role) error

	// UpdateRole changes an existing membership.
	// Returns ErrMembershipNotFound if the user is not a member.
	UpdateRole(ctx context.Context, docID, userID string, role Role) error

	// Revoke removes a user's membership.
	// Returns ErrMembershipNotFound if the user is not a member.
	Revoke(ctx context.Context, docID, userID string) error

	// GetRole returns the user's explicit role.
	// Returns ErrMembershipNotFound if no row exists.
	GetRole(ctx context.Context, docID, userID string) (Role, error)

	// ListMembers returns every membership of a diagram.
	ListMembers(ctx context.Context, docID string) ([]Membership, error)
}

// OwnerLookup resolves the owner of the project a diagram belongs to.
type OwnerLookup interface {
	// ProjectOwner returns ErrDocumentNotFound for unknown diagrams.
	ProjectOwner(ctx context.Context, docID string) (string, error)
}
