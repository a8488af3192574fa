package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage that implements the driver.Valuer and sql.Scanner interfaces
// for GORM JSONB columns.
type JSONB json.RawMessage

// SessionModel maps to the "sessions" table.
type SessionModel struct {
	ID        string `gorm:"primaryKey"`
	AgentID   string `gorm:"not null;index"`
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (SessionModel) TableName() string { return "sessions" }

// SessionMessageModel maps to the "session_messages" table.
type SessionMessageModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID     string    `gorm:"not null;index:idx_session_seq,priority:1"`
	SeqNum        int       `gorm:"not null;index:idx_session_seq,priority:2"`
	Role          string    `gorm:"not null"`
	Content       string
	ContentBlocks JSONB `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

func (SessionMessageModel) TableName() string { return "session_messages" }

// AuditRecordModel maps to the "audit_records" table.
// No UpdatedAt or DeletedAt — the trail is append-only and immutable.
type AuditRecordModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index"`
	SessionID string    `gorm:"not null;index"`
	AgentID   string
	Tool      string `gorm:"not null;index"`
	Params    JSONB  `gorm:"type:jsonb"`
	EventType string `gorm:"not null;index"`
	Decision  string
	Result    string
	Error     string
	ElapsedMS int64
	CreatedAt time.Time `gorm:"index"`
}

func (AuditRecordModel) TableName() string { return "audit_records" }

// MemoryModel maps to the "memories" table.
type MemoryModel struct {
	Key       string `gorm:"primaryKey"`
	Content   string `gorm:"not null"`
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (MemoryModel) TableName() string { return "memories" }
