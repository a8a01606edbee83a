package models

import (
	"time"

	"github.com/google/uuid"
)

// ResultCodeSuccess is the gateway code that marks an attempt as paid. Every
// other non-empty code is a failure.
const ResultCodeSuccess = "0"

// PaymentAttempt is one STK push sent to the gateway. A payment gets a new
// attempt for every retry; attempts are never reused once they carry a result.
type PaymentAttempt struct {
	ID                uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	PaymentID         uuid.UUID `gorm:"type:uuid;not null;index"`
	CheckoutRequestID string    `gorm:"size:255;not null;unique"`
	MerchantRequestID string    `gorm:"size:255"`
	PhoneNumber       string    `gorm:"size:15;not null"`
	Amount            float64   `gorm:"type:numeric(10,2);not null"`

	ResultCode    *string `gorm:"size:10"`
	ResultDesc    *string `gorm:"type:text"`
	ReceiptNumber *string `gorm:"size:50"`

	IsCallbackReceived bool `gorm:"not null;default:false"`
	CallbackReceivedAt *time.Time

	VerificationChecks int  `gorm:"not null;default:0"`
	NotFoundStreak     int  `gorm:"not null;default:0"`
	NeedsReview        bool `gorm:"not null;default:false"`

	Payment Payment `gorm:"foreignkey:PaymentID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether a result code has been recorded. Terminal
// attempts are immutable; a retry creates a fresh attempt instead.
func (a *PaymentAttempt) IsTerminal() bool {
	return a.ResultCode != nil
}

func (a *PaymentAttempt) Succeeded() bool {
	return a.ResultCode != nil && *a.ResultCode == ResultCodeSuccess
}
