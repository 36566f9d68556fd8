package model

import "time"

// AuditEvent records a completed pipeline operation. Events are published to
// the broker and persisted asynchronously; they are never on a request's
// critical path.
type AuditEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Action     string    `gorm:"size:32;not null;index" json:"action"`
	SubjectID  string    `gorm:"size:36;not null;index" json:"subject_id"`
	DocumentID string    `gorm:"size:128;index" json:"document_id,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	AuditActionIngest   = "ingest"
	AuditActionDelete   = "delete_document"
	AuditActionQuestion = "question"
	AuditActionChat     = "chat"
)
