package services

import (
	"time"

	"darasapay/models"
	"darasapay/store"
	"github.com/google/uuid"
)

// TransactionStore is the persistence surface the payment workflow needs. It
// is satisfied by store.PaymentStore and by fakes in tests.
type TransactionStore interface {
	CreatePaymentWithAttempt(payment *models.Payment, attempt *models.PaymentAttempt) error
	CreateRetryAttempt(paymentID uuid.UUID, attempt *models.PaymentAttempt) error
	FindPayment(id uuid.UUID) (*models.Payment, error)
	FindAttemptByCheckoutID(checkoutRequestID string) (*models.PaymentAttempt, error)
	LatestAttempt(paymentID uuid.UUID) (*models.PaymentAttempt, error)
	MarkAttemptResult(in store.MarkResultInput) (*store.MarkResultOutcome, error)
	FindStaleAttempts(grace time.Duration, maxChecks int) ([]models.PaymentAttempt, error)
	IncrementVerificationChecks(attemptID uuid.UUID) error
	IncrementNotFoundStreak(attemptID uuid.UUID) error
	ResetNotFoundStreak(attemptID uuid.UUID) error
	FlagForReview(attemptID uuid.UUID) error
	CreateCallbackRecord(record *models.CallbackRecord) error
	MarkCallbackProcessed(recordID uuid.UUID) error
	ListOrphanCallbacks() ([]models.CallbackRecord, error)
}
