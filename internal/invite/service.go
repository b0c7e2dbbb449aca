package invite

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/acl"
)

// Authorizer checks capabilities on a diagram.
type Authorizer interface {
	Require(ctx context.Context, docID, userID string, capability acl.Capability) error
}

// CreateRequest describes a new invitation.
type CreateRequest struct {
	InviteeEmail  string `json:"inviteeEmail"`
	Role          string `json:"role"`
	ExpiresInDays int    `json:"expiresInDays"`
}

// Service implements the invitation workflow.
type Service struct {
	store  Store
	auth   Authorizer
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates an invitation service.
func NewService(store Store, auth Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		auth:   auth,
		logger: logger.With().Str("component", "invite").Logger(),
		now:    time.Now,
	}
}

// Create issues an invitation and supersedes earlier pending ones from the
// same inviter to the same email.
func (s *Service) Create(ctx context.Context, inviterID, docID string, req CreateRequest) (Invitation, error) {
	if err := s.auth.Require(ctx, docID, inviterID, acl.CapManageMembers); err != nil {
		return Invitation{}, err
	}

	email, err := normalizeEmail(req.InviteeEmail)
	if err != nil {
		return Invitation{}, err
	}

	role := acl.Viewer

	if req.Role != "" {
		role, err = acl.ParseRole(req.Role)
		if err != nil || role == acl.Owner {
			return Invitation{}, ErrInvalidRole
		}
	}

	days := req.ExpiresInDays
	if days == 0 {
		days = DefaultExpiryDays
	}

	if days < MinExpiryDays || days > MaxExpiryDays {
		return Invitation{}, ErrInvalidExpiry
	}

	now := s.now()

	if err := s.store.RevokePending(ctx, docID, inviterID, email, now); err != nil {
		return Invitation{}, err
	}

	inv := Invitation{
		ID:           uuid.NewString(),
		DocumentID:   docID,
		InviterID:    inviterID,
		InviteeEmail: email,
		Role:         role,
		Token:        uuid.NewString(),
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.AddDate(0, 0, days),
	}

	if err := s.store.Create(ctx, inv); err != nil {
		return Invitation{}, err
	}

	s.logger.Info().
		Str("documentId", docID).
		Str("inviteId", inv.ID).
		Str("role", role.String()).
		Msg("invitation created")

	return inv, nil
}

// Revoke cancels a pending invitation. already is true when it was not
// pending anymore, which is not an error.
func (s *Service) Revoke(ctx context.Context, requesterID, inviteID string) (bool, error) {
	inv, err := s.store.Get(ctx, inviteID)
	if err != nil {
		return false, err
	}

	if err := s.auth.Require(ctx, inv.DocumentID, requesterID, acl.CapManageMembers); err != nil {
		return false, err
	}

	if inv.Status != StatusPending {
		return true, nil
	}

	revoked, err := s.store.Revoke(ctx, inviteID)
	if err != nil {
		return false, err
	}

	return !revoked, nil
}

// Accept redeems a token for the signed in user.
func (s *Service) Accept(ctx context.Context, userID, userEmail, token string) (acl.Membership, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return acl.Membership{}, ErrTokenRequired
	}

	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return acl.Membership{}, err
	}

	if inv.Status != StatusPending {
		return acl.Membership{}, ErrNotPending
	}

	now := s.now()
	if !inv.ExpiresAt.IsZero() && inv.ExpiresAt.Before(now) {
		return acl.Membership{}, ErrExpired
	}

	if !strings.EqualFold(strings.TrimSpace(inv.InviteeEmail), strings.TrimSpace(userEmail)) {
		return acl.Membership{}, ErrWrongEmail
	}

	if err := s.store.Accept(ctx, inv.ID, userID, now); err != nil {
		return acl.Membership{}, err
	}

	s.logger.Info().
		Str("documentId", inv.DocumentID).
		Str("inviteId", inv.ID).
		Str("userId", userID).
		Msg("invitation accepted")

	return acl.Membership{DocumentID: inv.DocumentID, UserID: userID, Role: inv.Role}, nil
}

// List returns the pending and accepted invitations of a diagram.
func (s *Service) List(ctx context.Context, requesterID, docID string) ([]Invitation, error) {
	if err := s.auth.Require(ctx, docID, requesterID, acl.CapManageMembers); err != nil {
		return nil, err
	}

	return s.store.List(ctx, docID)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}

	return strings.ToLower(addr.Address), nil
}
