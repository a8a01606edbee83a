package models

import (
	"time"

	"github.com/google/uuid"
)

// CallbackRecord is an append-only audit row for every webhook the gateway
// delivers. The raw payload is persisted before any processing so a crash
// mid-processing leaves a re-processable record. AttemptID stays nil for
// orphans, payloads whose checkout request id matches no known attempt.
type CallbackRecord struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	AttemptID   *uuid.UUID `gorm:"type:uuid;index"`
	Payload     string     `gorm:"type:text;not null"`
	Processed   bool       `gorm:"not null;default:false"`
	ProcessedAt *time.Time

	CreatedAt time.Time
}
