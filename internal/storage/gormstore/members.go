package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/online-diagrams/internal/acl"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemberStore persists diagram memberships and resolves project owners.
type MemberStore struct {
	db *gorm.DB
}

// NewMemberStore wraps an open database.
func NewMemberStore(db *gorm.DB) *MemberStore {
	return &MemberStore{db: db}
}

func upsertMember(tx *gorm.DB, docID, userID string, role acl.Role) error {
	now := time.Now()

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(&memberRecord{
		DocumentID: docID,
		UserID:     userID,
		Role:       role.String(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}).Error
}

// Grant upserts a membership.
func (s *MemberStore) Grant(ctx context.Context, docID, userID string, role acl.Role) error {
	if err := upsertMember(s.db.WithContext(ctx), docID, userID, role); err != nil {
		return unavailable("grant membership", err)
	}

	return nil
}

// UpdateRole changes an existing membership.
func (s *MemberStore) UpdateRole(ctx context.Context, docID, userID string, role acl.Role) error {
	res := s.db.WithContext(ctx).
		Model(&memberRecord{}).
		Where("document_id = ? AND user_id = ?", docID, userID).
		Updates(map[string]any{"role": role.String(), "updated_at": time.Now()})
	if res.Error != nil {
		return unavailable("update membership", res.Error)
	}

	if res.RowsAffected == 0 {
		return acl.ErrMembershipNotFound
	}

	return nil
}

// Revoke deletes a membership.
func (s *MemberStore) Revoke(ctx context.Context, docID, userID string) error {
	res := s.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", docID, userID).
		Delete(&memberRecord{})
	if res.Error != nil {
		return unavailable("revoke membership", res.Error)
	}

	if res.RowsAffected == 0 {
		return acl.ErrMembershipNotFound
	}

	return nil
}

// GetRole returns the explicit role of a user.
func (s *MemberStore) GetRole(ctx context.Context, docID, userID string) (acl.Role, error) {
	var rec memberRecord

	err := s.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", docID, userID).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, acl.ErrMembershipNotFound
		}

		return 0, unavailable("load membership", err)
	}

	return acl.ParseRole(rec.Role)
}

// ListMembers returns the memberships of a diagram ordered by user id.
func (s *MemberStore) ListMembers(ctx context.Context, docID string) ([]acl.Membership, error) {
	var records []memberRecord

	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("user_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, unavailable("list memberships", err)
	}

	members := make([]acl.Membership, 0, len(records))

	for _, r := range records {
		role, err := acl.ParseRole(r.Role)
		if err != nil {
			return nil, err
		}

		members = append(members, acl.Membership{DocumentID: r.DocumentID, UserID: r.UserID, Role: role})
	}

	return members, nil
}

// ProjectOwner returns the owner of the project the diagram belongs to.
func (s *MemberStore) ProjectOwner(ctx context.Context, docID string) (string, error) {
	var row struct {
		OwnerID string
	}

	res := s.db.WithContext(ctx).
		Table("diagrams").
		Select("projects.owner_id AS owner_id").
		Joins("JOIN projects ON projects.id = diagrams.project_id").
		Where("diagrams.id = ?", docID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return "", unavailable("resolve project owner", res.Error)
	}

	if res.RowsAffected == 0 {
		return "", acl.ErrDocumentNotFound
	}

	return row.OwnerID, nil
}

// RegisterDiagram records a project and one of its diagrams. The metadata
// service normally owns these rows; this is used by development setups.
func (s *MemberStore) RegisterDiagram(ctx context.Context, projectID, ownerID, docID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&projectRecord{ID: projectID, OwnerID: ownerID}).Error; err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&diagramRecord{ID: docID, ProjectID: projectID}).Error
	})
}

var (
	_ acl.MembershipStore = (*MemberStore)(nil)
	_ acl.OwnerLookup     = (*MemberStore)(nil)
)
