package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

type Payment struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Amount      float64   `gorm:"type:numeric(10,2);not null"`
	Currency    string    `gorm:"size:3;not null;default:'KES'"`
	Status      string    `gorm:"size:20;not null"`
	Reference   string    `gorm:"size:100;not null"`
	PayerPhone  string    `gorm:"size:15;not null"`
	CompletedAt *time.Time
	FailedAt    *time.Time

	Attempts []PaymentAttempt `gorm:"foreignkey:PaymentID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
