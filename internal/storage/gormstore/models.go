package gormstore

import "time"

// projectRecord and diagramRecord are owned by the diagram metadata
// service. They are only read here to resolve project ownership.
type projectRecord struct {
	ID      string `gorm:"primaryKey;size:64"`
	OwnerID string `gorm:"size:64;not null;index"`
}

func (projectRecord) TableName() string { return "projects" }

type diagramRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	ProjectID string `gorm:"size:64;not null;index"`
}

func (diagramRecord) TableName() string { return "diagrams" }

type changeRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	DocumentID string    `gorm:"size:64;not null;uniqueIndex:ux_changes_doc_seq,priority:1;uniqueIndex:ux_changes_doc_op,priority:1"`
	Seq        int64     `gorm:"not null;uniqueIndex:ux_changes_doc_seq,priority:2"`
	Type       string    `gorm:"size:32;not null"`
	Payload    string    `gorm:"type:text;not null"`
	AuthorID   string    `gorm:"size:64;not null"`
	ClientID   string    `gorm:"size:128;not null;uniqueIndex:ux_changes_doc_op,priority:2"`
	LocalSeq   int64     `gorm:"not null;uniqueIndex:ux_changes_doc_op,priority:3"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (changeRecord) TableName() string { return "diagram_changes" }

type snapshotRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	DocumentID string    `gorm:"size:64;not null;uniqueIndex:ux_snapshots_doc_version,priority:1"`
	Version    int64     `gorm:"not null;uniqueIndex:ux_snapshots_doc_version,priority:2"`
	Payload    string    `gorm:"type:text;not null"`
	AuthorID   string    `gorm:"size:64"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (snapshotRecord) TableName() string { return "diagram_snapshots" }

type memberRecord struct {
	DocumentID string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"primaryKey;size:64"`
	Role       string `gorm:"size:16;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (memberRecord) TableName() string { return "diagram_members" }

type inviteRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	DocumentID   string `gorm:"size:64;not null;index"`
	InviterID    string `gorm:"size:64;not null"`
	InviteeEmail string `gorm:"size:320;not null;index"`
	Role         string `gorm:"size:16;not null"`
	Token        string `gorm:"size:64;not null;uniqueIndex"`
	Status       string `gorm:"size:16;not null;index"`
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AcceptedAt   *time.Time
}

func (inviteRecord) TableName() string { return "diagram_invites" }
