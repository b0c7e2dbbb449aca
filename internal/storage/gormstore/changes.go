package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/serroba/online-diagrams/internal/diagram"
	"github.com/serroba/online-diagrams/internal/storage"
	"gorm.io/gorm"
)

// Store is the durable change log and snapshot store.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append inserts a change. The unique indexes on (document, seq) and
// (document, client, localSeq) reject replays across processes.
func (s *Store) Append(ctx context.Context, change storage.Change) error {
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}

	rec := changeRecord{
		DocumentID: change.DocumentID,
		Seq:        change.Seq,
		Type:       string(change.Type),
		Payload:    string(change.Payload),
		AuthorID:   change.AuthorID,
		ClientID:   change.ClientID,
		LocalSeq:   change.LocalSeq,
		CreatedAt:  change.CreatedAt,
	}

	err := s.db.WithContext(ctx).Create(&rec).Error
	if err == nil {
		return nil
	}

	if !isUniqueViolation(err) {
		return unavailable("append change", err)
	}

	var count int64

	lookup := s.db.WithContext(context.WithoutCancel(ctx)).
		Model(&changeRecord{}).
		Where("document_id = ? AND client_id = ? AND local_seq = ?", change.DocumentID, change.ClientID, change.LocalSeq).
		Count(&count)
	if lookup.Error != nil {
		return unavailable("inspect duplicate change", lookup.Error)
	}

	if count > 0 {
		return storage.ErrDuplicateOperation
	}

	return storage.ErrDuplicateSeq
}

// ChangesSince returns changes with seq > since, ascending.
func (s *Store) ChangesSince(ctx context.Context, docID string, since int64, limit int) ([]storage.Change, error) {
	query := s.db.WithContext(ctx).
		Where("document_id = ? AND seq > ?", docID, since).
		Order("seq ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []changeRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, unavailable("list changes", err)
	}

	return toChanges(records), nil
}

// ChangesBetween returns changes with after < seq <= upTo, ascending.
func (s *Store) ChangesBetween(ctx context.Context, docID string, after, upTo int64) ([]storage.Change, error) {
	var records []changeRecord

	err := s.db.WithContext(ctx).
		Where("document_id = ? AND seq > ? AND seq <= ?", docID, after, upTo).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, unavailable("list change range", err)
	}

	return toChanges(records), nil
}

// LatestSeq returns the highest recorded seq, or 0.
func (s *Store) LatestSeq(ctx context.Context, docID string) (int64, error) {
	var latest sql.NullInt64

	row := s.db.WithContext(ctx).
		Model(&changeRecord{}).
		Where("document_id = ?", docID).
		Select("MAX(seq)").
		Row()
	if err := row.Scan(&latest); err != nil {
		return 0, unavailable("latest seq", err)
	}

	return latest.Int64, nil
}

func toChanges(records []changeRecord) []storage.Change {
	changes := make([]storage.Change, len(records))

	for i, r := range records {
		changes[i] = storage.Change{
			DocumentID: r.DocumentID,
			Seq:        r.Seq,
			Type:       diagram.Kind(r.Type),
			Payload:    json.RawMessage(r.Payload),
			AuthorID:   r.AuthorID,
			ClientID:   r.ClientID,
			LocalSeq:   r.LocalSeq,
			CreatedAt:  r.CreatedAt,
		}
	}

	return changes
}

// SaveSnapshot stores a snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}

	rec := snapshotRecord{
		DocumentID: snapshot.DocumentID,
		Version:    snapshot.Version,
		Payload:    string(snapshot.Payload),
		AuthorID:   snapshot.AuthorID,
		CreatedAt:  snapshot.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return storage.ErrSnapshotExists
		}

		return unavailable("save snapshot", err)
	}

	return nil
}

// LatestSnapshot returns the newest snapshot.
func (s *Store) LatestSnapshot(ctx context.Context, docID string) (storage.Snapshot, error) {
	return s.findSnapshot(s.db.WithContext(ctx).Where("document_id = ?", docID))
}

// SnapshotAtOrBefore returns the newest snapshot with Version <= version.
func (s *Store) SnapshotAtOrBefore(ctx context.Context, docID string, version int64) (storage.Snapshot, error) {
	return s.findSnapshot(s.db.WithContext(ctx).Where("document_id = ? AND version <= ?", docID, version))
}

func (s *Store) findSnapshot(query *gorm.DB) (storage.Snapshot, error) {
	var rec snapshotRecord

	if err := query.Order("version DESC").Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.Snapshot{}, storage.ErrSnapshotNotFound
		}

		return storage.Snapshot{}, unavailable("load snapshot", err)
	}

	return storage.Snapshot{
		DocumentID: rec.DocumentID,
		Version:    rec.Version,
		Payload:    json.RawMessage(rec.Payload),
		AuthorID:   rec.AuthorID,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

var (
	_ storage.ChangeLog     = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)
