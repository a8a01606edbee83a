package store

import (
	"errors"
	"time"

	"darasapay/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrAttemptNotFound = errors.New("payment attempt not found")
	// ErrRetryConflict is returned when a retry is requested for a payment
	// whose latest attempt is not terminally failed.
	ErrRetryConflict = errors.New("latest attempt is not failed, nothing to retry")
)

// PaymentStore is the single write path for payments, attempts and callback
// records. Every state mutation funnels through here; in particular
// MarkAttemptResult is the one guarded update both the webhook and the
// verifier converge on.
type PaymentStore struct {
	db *gorm.DB
}

func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// CreatePaymentWithAttempt persists a new pending payment together with its
// first attempt in one transaction, so there is never a payment without an
// attempt to correlate callbacks against.
func (s *PaymentStore) CreatePaymentWithAttempt(payment *models.Payment, attempt *models.PaymentAttempt) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		payment.Status = models.PaymentStatusPending
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		attempt.PaymentID = payment.ID
		return tx.Create(attempt).Error
	})
}

// CreateRetryAttempt appends a fresh attempt to a payment whose latest
// attempt has terminally failed, and moves the payment back to pending. The
// payment row is locked so two concurrent retries cannot both pass the
// latest-attempt check.
func (s *PaymentStore) CreateRetryAttempt(paymentID uuid.UUID, attempt *models.PaymentAttempt) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&payment, "id = ?", paymentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}

		var latest models.PaymentAttempt
		err = tx.Where("payment_id = ?", paymentID).
			Order("created_at DESC").
			First(&latest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAttemptNotFound
		}
		if err != nil {
			return err
		}
		if !latest.IsTerminal() || latest.Succeeded() {
			return ErrRetryConflict
		}

		attempt.PaymentID = paymentID
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}

		return tx.Model(&models.Payment{}).
			Where("id = ?", paymentID).
			Updates(map[string]interface{}{
				"status":    models.PaymentStatusPending,
				"failed_at": nil,
			}).Error
	})
}

func (s *PaymentStore) FindPayment(id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
		return db.Order("payment_attempts.created_at ASC")
	}).First(&payment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *PaymentStore) FindAttemptByCheckoutID(checkoutRequestID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := s.db.First(&attempt, "checkout_request_id = ?", checkoutRequestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (s *PaymentStore) LatestAttempt(paymentID uuid.UUID) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := s.db.Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// MarkResultInput carries one terminal outcome for an attempt, whichever of
// the webhook or the verifier learned it first.
type MarkResultInput struct {
	AttemptID     uuid.UUID
	ResultCode    string
	ResultDesc    string
	ReceiptNumber *string
	ViaCallback   bool
}

// MarkResultOutcome reports what the guarded update did. Applied is false
// when the attempt was already terminal and nothing was touched.
type MarkResultOutcome struct {
	Applied       bool
	PaymentStatus string
}

// MarkAttemptResult applies a terminal outcome to an attempt and its parent
// payment in one transaction. The attempt update is conditioned on the row
// still being non-terminal (result_code IS NULL), so concurrent callback and
// poll deliveries resolve to exactly one winner; the loser sees a no-op.
// The receipt number is therefore written at most once.
func (s *PaymentStore) MarkAttemptResult(in MarkResultInput) (*MarkResultOutcome, error) {
	outcome := &MarkResultOutcome{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var attempt models.PaymentAttempt
		err := tx.First(&attempt, "id = ?", in.AttemptID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAttemptNotFound
		}
		if err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"result_code": in.ResultCode,
			"result_desc": in.ResultDesc,
			"updated_at":  now,
		}
		if in.ReceiptNumber != nil {
			updates["receipt_number"] = *in.ReceiptNumber
		}
		if in.ViaCallback {
			updates["is_callback_received"] = true
			updates["callback_received_at"] = now
		}

		res := tx.Model(&models.PaymentAttempt{}).
			Where("id = ? AND result_code IS NULL", in.AttemptID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race or a duplicate delivery; attempt already terminal.
			// Re-read, the first read may predate the winning commit.
			if err := tx.First(&attempt, "id = ?", in.AttemptID).Error; err != nil {
				return err
			}
			outcome.Applied = false
			if attempt.Succeeded() {
				outcome.PaymentStatus = models.PaymentStatusCompleted
			} else {
				outcome.PaymentStatus = models.PaymentStatusFailed
			}
			return nil
		}

		paymentUpdates := map[string]interface{}{"updated_at": now}
		if in.ResultCode == models.ResultCodeSuccess {
			outcome.PaymentStatus = models.PaymentStatusCompleted
			paymentUpdates["status"] = models.PaymentStatusCompleted
			paymentUpdates["completed_at"] = now
		} else {
			outcome.PaymentStatus = models.PaymentStatusFailed
			paymentUpdates["status"] = models.PaymentStatusFailed
			paymentUpdates["failed_at"] = now
		}

		if err := tx.Model(&models.Payment{}).
			Where("id = ?", attempt.PaymentID).
			Updates(paymentUpdates).Error; err != nil {
			return err
		}

		outcome.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// FindStaleAttempts lists attempts still waiting for a callback past the
// grace window, skipping ones already flagged for manual review or past the
// verification budget.
func (s *PaymentStore) FindStaleAttempts(grace time.Duration, maxChecks int) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	cutoff := time.Now().Add(-grace)
	err := s.db.
		Where("result_code IS NULL AND is_callback_received = ? AND needs_review = ? AND created_at < ? AND verification_checks < ?",
			false, false, cutoff, maxChecks).
		Order("created_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (s *PaymentStore) IncrementVerificationChecks(attemptID uuid.UUID) error {
	return s.db.Model(&models.PaymentAttempt{}).
		Where("id = ?", attemptID).
		UpdateColumn("verification_checks", gorm.Expr("verification_checks + 1")).Error
}

// IncrementNotFoundStreak counts one more consecutive "transaction does not
// exist" answer for the attempt.
func (s *PaymentStore) IncrementNotFoundStreak(attemptID uuid.UUID) error {
	return s.db.Model(&models.PaymentAttempt{}).
		Where("id = ?", attemptID).
		UpdateColumn("not_found_streak", gorm.Expr("not_found_streak + 1")).Error
}

// ResetNotFoundStreak clears the streak when the gateway gives any other
// answer, so only an unbroken run of not-found answers can escalate.
func (s *PaymentStore) ResetNotFoundStreak(attemptID uuid.UUID) error {
	return s.db.Model(&models.PaymentAttempt{}).
		Where("id = ? AND not_found_streak > 0", attemptID).
		Update("not_found_streak", 0).Error
}

func (s *PaymentStore) FlagForReview(attemptID uuid.UUID) error {
	return s.db.Model(&models.PaymentAttempt{}).
		Where("id = ?", attemptID).
		Update("needs_review", true).Error
}

// CreateCallbackRecord stores the raw webhook payload before any processing,
// so the audit trail survives a crash mid-processing.
func (s *PaymentStore) CreateCallbackRecord(record *models.CallbackRecord) error {
	return s.db.Create(record).Error
}

func (s *PaymentStore) MarkCallbackProcessed(recordID uuid.UUID) error {
	now := time.Now()
	return s.db.Model(&models.CallbackRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{"processed": true, "processed_at": now}).Error
}

// ListOrphanCallbacks returns callback payloads that matched no known
// attempt, for operator follow-up.
func (s *PaymentStore) ListOrphanCallbacks() ([]models.CallbackRecord, error) {
	var records []models.CallbackRecord
	err := s.db.Where("attempt_id IS NULL").Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
