package invite

import (
	"context"
	"fmt"
	"time"

	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/apperr"
)

// Status is the lifecycle state of an invitation.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRevoked  Status = "REVOKED"
)

// Common errors.
var (
	ErrNotFound      = fmt.Errorf("invitation not found: %w", apperr.ErrNotFound)
	ErrNotPending    = fmt.Errorf("invitation is not pending: %w", apperr.ErrValidation)
	ErrExpired       = fmt.Errorf("invitation expired: %w", apperr.ErrValidation)
	ErrTokenRequired = fmt.Errorf("token is required: %w", apperr.ErrValidation)
	ErrWrongEmail    = fmt.Errorf("invitation does not belong to this email: %w", apperr.ErrForbidden)
	ErrInvalidEmail  = fmt.Errorf("invalid invitee email: %w", apperr.ErrValidation)
	ErrInvalidRole   = fmt.Errorf("invitations grant EDITOR or VIEWER: %w", apperr.ErrValidation)
	ErrInvalidExpiry = fmt.Errorf("expiresInDays must be between %d and %d: %w", MinExpiryDays, MaxExpiryDays, apperr.ErrValidation)
)

// Expiry bounds in days.
const (
	DefaultExpiryDays = 7
	MinExpiryDays     = 1
	MaxExpiryDays     = 30
)

// Invitation offers a diagram role to whoever signs in with InviteeEmail.
type Invitation struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"documentId"`
	InviterID    string     `json:"inviterId"`
	InviteeEmail string     `json:"inviteeEmail"`
	Role         acl.Role   `json:"role"`
	Token        string     `json:"token"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
}

// Store persists invitations.
type Store interface {
	Create(ctx context.Context, inv Invitation) error

	// RevokePending revokes the unexpired pending invitations an inviter
	// sent to an email for a diagram.
	RevokePending(ctx context.Context, docID, inviterID, email string, now time.Time) error

	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Invitation, error)

	// GetByToken returns ErrNotFound for unknown tokens.
	GetByToken(ctx context.Context, token string) (Invitation, error)

	// Revoke moves a pending invitation to REVOKED. It reports false when
	// the invitation was no longer pending.
	Revoke(ctx context.Context, id string) (bool, error)

	// Accept atomically grants the invitation's role to userID and marks
	// it ACCEPTED. Returns ErrNotPending if it changed state concurrently.
	Accept(ctx context.Context, id, userID string, at time.Time) error

	// List returns pending and accepted invitations, newest first.
	List(ctx context.Context, docID string) ([]Invitation, error)
}
