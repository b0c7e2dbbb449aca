package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/invite"
	"gorm.io/gorm"
)

// InviteStore persists diagram invitations.
type InviteStore struct {
	db *gorm.DB
}

// NewInviteStore wraps an open database.
func NewInviteStore(db *gorm.DB) *InviteStore {
	return &InviteStore{db: db}
}

// Create inserts an invitation.
func (s *InviteStore) Create(ctx context.Context, inv invite.Invitation) error {
	rec := inviteRecord{
		ID:           inv.ID,
		DocumentID:   inv.DocumentID,
		InviterID:    inv.InviterID,
		InviteeEmail: inv.InviteeEmail,
		Role:         inv.Role.String(),
		Token:        inv.Token,
		Status:       string(inv.Status),
		CreatedAt:    inv.CreatedAt.UTC(),
		ExpiresAt:    inv.ExpiresAt.UTC(),
		AcceptedAt:   inv.AcceptedAt,
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return unavailable("create invitation", err)
	}

	return nil
}

// RevokePending revokes superseded invitations.
func (s *InviteStore) RevokePending(ctx context.Context, docID, inviterID, email string, now time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&inviteRecord{}).
		Where("document_id = ? AND inviter_id = ? AND invitee_email = ? AND status = ? AND expires_at > ?",
			docID, inviterID, email, string(invite.StatusPending), now.UTC()).
		Update("status", string(invite.StatusRevoked)).Error
	if err != nil {
		return unavailable("revoke pending invitations", err)
	}

	return nil
}

// Get returns an invitation by id.
func (s *InviteStore) Get(ctx context.Context, id string) (invite.Invitation, error) {
	return s.take(s.db.WithContext(ctx).Where("id = ?", id))
}

// GetByToken returns an invitation by token.
func (s *InviteStore) GetByToken(ctx context.Context, token string) (invite.Invitation, error) {
	return s.take(s.db.WithContext(ctx).Where("token = ?", token))
}

func (s *InviteStore) take(query *gorm.DB) (invite.Invitation, error) {
	var rec inviteRecord

	if err := query.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invite.Invitation{}, invite.ErrNotFound
		}

		return invite.Invitation{}, unavailable("load invitation", err)
	}

	return toInvitation(rec)
}

// Revoke moves a pending invitation to REVOKED.
func (s *InviteStore) Revoke(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&inviteRecord{}).
		Where("id = ? AND status = ?", id, string(invite.StatusPending)).
		Update("status", string(invite.StatusRevoked))
	if res.Error != nil {
		return false, unavailable("revoke invitation", res.Error)
	}

	return res.RowsAffected > 0, nil
}

// Accept grants the role and marks the invitation accepted in one
// transaction.
func (s *InviteStore) Accept(ctx context.Context, id, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec inviteRecord

		if err := tx.Where("id = ?", id).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invite.ErrNotFound
			}

			return unavailable("load invitation", err)
		}

		role, err := acl.ParseRole(rec.Role)
		if err != nil {
			return err
		}

		res := tx.Model(&inviteRecord{}).
			Where("id = ? AND status = ?", id, string(invite.StatusPending)).
			Updates(map[string]any{"status": string(invite.StatusAccepted), "accepted_at": at.UTC()})
		if res.Error != nil {
			return unavailable("accept invitation", res.Error)
		}

		if res.RowsAffected == 0 {
			return invite.ErrNotPending
		}

		if err := upsertMember(tx, rec.DocumentID, userID, role); err != nil {
			return unavailable("grant membership", err)
		}

		return nil
	})
}

// List returns pending and accepted invitations, newest first.
func (s *InviteStore) List(ctx context.Context, docID string) ([]invite.Invitation, error) {
	var records []inviteRecord

	err := s.db.WithContext(ctx).
		Where("document_id = ? AND status IN ?", docID, []string{string(invite.StatusPending), string(invite.StatusAccepted)}).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, unavailable("list invitations", err)
	}

	result := make([]invite.Invitation, 0, len(records))

	for _, r := range records {
		inv, err := toInvitation(r)
		if err != nil {
			return nil, err
		}

		result = append(result, inv)
	}

	return result, nil
}

func toInvitation(r inviteRecord) (invite.Invitation, error) {
	role, err := acl.ParseRole(r.Role)
	if err != nil {
		return invite.Invitation{}, err
	}

	return invite.Invitation{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		InviterID:    r.InviterID,
		InviteeEmail: r.InviteeEmail,
		Role:         role,
		Token:        r.Token,
		Status:       invite.Status(r.Status),
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		AcceptedAt:   r.AcceptedAt,
	}, nil
}

var _ invite.Store = (*InviteStore)(nil)
