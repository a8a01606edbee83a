package services

import (
	"context"
	"fmt"
	"log"

	"darasapay/models"
	"darasapay/payments"
	"darasapay/store"
	"github.com/google/uuid"
)

// BusinessRejection means the gateway was reached and refused the push. This
// is a final answer for the attempt, never auto-retried; only an explicit
// retry call creates a new one.
type BusinessRejection struct {
	Code        string
	Description string
}

func (e *BusinessRejection) Error() string {
	return fmt.Sprintf("gateway rejected request: %s %s", e.Code, e.Description)
}

// PaymentService owns initiation and retry, the two paths that send an STK
// push and persist a new attempt for it.
type PaymentService struct {
	store   TransactionStore
	gateway payments.Client
}

func NewPaymentService(store TransactionStore, gateway payments.Client) *PaymentService {
	return &PaymentService{store: store, gateway: gateway}
}

// Initiate pushes to the gateway and persists a pending payment with its
// first attempt. The gateway client owns input validation, so nothing is
// written unless it accepted the push, and the persisted phone is the exact
// MSISDN the push went to.
func (s *PaymentService) Initiate(ctx context.Context, amount float64, phone, reference string) (*models.Payment, *models.PaymentAttempt, error) {
	result, err := s.gateway.InitiatePush(ctx, phone, amount, reference, "")
	if err != nil {
		return nil, nil, err
	}
	if !result.Accepted() {
		return nil, nil, &BusinessRejection{Code: result.ResponseCode, Description: result.ResponseDesc}
	}

	payment := &models.Payment{
		Amount:     amount,
		Currency:   "KES",
		Status:     models.PaymentStatusPending,
		Reference:  reference,
		PayerPhone: result.PhoneNumber,
	}
	attempt := &models.PaymentAttempt{
		CheckoutRequestID: result.CheckoutRequestID,
		MerchantRequestID: result.MerchantRequestID,
		PhoneNumber:       result.PhoneNumber,
		Amount:            amount,
	}

	if err := s.store.CreatePaymentWithAttempt(payment, attempt); err != nil {
		// The push is already on its way; the callback for this checkout id
		// will land as an orphan and surface via the orphan listing.
		log.Printf("🔥 Failed to persist payment for checkout %s: %v", result.CheckoutRequestID, err)
		return nil, nil, err
	}

	log.Printf("✅ STK push initiated for payment %s (checkout %s)", payment.ID, attempt.CheckoutRequestID)
	return payment, attempt, nil
}

// Retry sends a fresh push for a payment whose latest attempt failed. The
// old attempt is never touched; the new one is linked to the same payment
// and the payment goes back to pending.
func (s *PaymentService) Retry(ctx context.Context, paymentID uuid.UUID) (*models.PaymentAttempt, error) {
	payment, err := s.store.FindPayment(paymentID)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestAttempt(paymentID)
	if err != nil {
		return nil, err
	}
	if !latest.IsTerminal() || latest.Succeeded() {
		return nil, store.ErrRetryConflict
	}

	result, err := s.gateway.InitiatePush(ctx, payment.PayerPhone, payment.Amount, payment.Reference, "")
	if err != nil {
		return nil, err
	}
	if !result.Accepted() {
		return nil, &BusinessRejection{Code: result.ResponseCode, Description: result.ResponseDesc}
	}

	attempt := &models.PaymentAttempt{
		CheckoutRequestID: result.CheckoutRequestID,
		MerchantRequestID: result.MerchantRequestID,
		PhoneNumber:       payment.PayerPhone,
		Amount:            payment.Amount,
	}
	if err := s.store.CreateRetryAttempt(paymentID, attempt); err != nil {
		return nil, err
	}

	log.Printf("✅ Retry push initiated for payment %s (checkout %s)", paymentID, attempt.CheckoutRequestID)
	return attempt, nil
}

func (s *PaymentService) GetPayment(paymentID uuid.UUID) (*models.Payment, error) {
	return s.store.FindPayment(paymentID)
}

func (s *PaymentService) ListOrphanCallbacks() ([]models.CallbackRecord, error) {
	return s.store.ListOrphanCallbacks()
}
