package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"darasapay/models"
	"darasapay/payments"
	"darasapay/store"
	"github.com/google/uuid"
)

// fakeStore mimics PaymentStore in memory, including the guarded-update
// semantics of MarkAttemptResult, so the services can be exercised without a
// database.
type fakeStore struct {
	payments map[uuid.UUID]*models.Payment
	attempts map[uuid.UUID]*models.PaymentAttempt
	records  []*models.CallbackRecord

	seq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments: make(map[uuid.UUID]*models.Payment),
		attempts: make(map[uuid.UUID]*models.PaymentAttempt),
	}
}

func (f *fakeStore) nextTime() time.Time {
	f.seq++
	return time.Now().Add(time.Duration(f.seq) * time.Millisecond)
}

func (f *fakeStore) CreatePaymentWithAttempt(payment *models.Payment, attempt *models.PaymentAttempt) error {
	payment.ID = uuid.New()
	payment.Status = models.PaymentStatusPending
	payment.CreatedAt = f.nextTime()
	f.payments[payment.ID] = payment

	attempt.ID = uuid.New()
	attempt.PaymentID = payment.ID
	attempt.CreatedAt = f.nextTime()
	f.attempts[attempt.ID] = attempt
	return nil
}

func (f *fakeStore) CreateRetryAttempt(paymentID uuid.UUID, attempt *models.PaymentAttempt) error {
	payment, ok := f.payments[paymentID]
	if !ok {
		return store.ErrPaymentNotFound
	}
	latest := f.latest(paymentID)
	if latest == nil {
		return store.ErrAttemptNotFound
	}
	if !latest.IsTerminal() || latest.Succeeded() {
		return store.ErrRetryConflict
	}

	attempt.ID = uuid.New()
	attempt.PaymentID = paymentID
	attempt.CreatedAt = f.nextTime()
	f.attempts[attempt.ID] = attempt

	payment.Status = models.PaymentStatusPending
	payment.FailedAt = nil
	return nil
}

func (f *fakeStore) FindPayment(id uuid.UUID) (*models.Payment, error) {
	payment, ok := f.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return payment, nil
}

func (f *fakeStore) FindAttemptByCheckoutID(checkoutRequestID string) (*models.PaymentAttempt, error) {
	for _, a := range f.attempts {
		if a.CheckoutRequestID == checkoutRequestID {
			return a, nil
		}
	}
	return nil, store.ErrAttemptNotFound
}

func (f *fakeStore) LatestAttempt(paymentID uuid.UUID) (*models.PaymentAttempt, error) {
	latest := f.latest(paymentID)
	if latest == nil {
		return nil, store.ErrAttemptNotFound
	}
	return latest, nil
}

func (f *fakeStore) latest(paymentID uuid.UUID) *models.PaymentAttempt {
	var all []*models.PaymentAttempt
	for _, a := range f.attempts {
		if a.PaymentID == paymentID {
			all = append(all, a)
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all[0]
}

func (f *fakeStore) MarkAttemptResult(in store.MarkResultInput) (*store.MarkResultOutcome, error) {
	attempt, ok := f.attempts[in.AttemptID]
	if !ok {
		return nil, store.ErrAttemptNotFound
	}

	if attempt.IsTerminal() {
		status := models.PaymentStatusFailed
		if attempt.Succeeded() {
			status = models.PaymentStatusCompleted
		}
		return &store.MarkResultOutcome{Applied: false, PaymentStatus: status}, nil
	}

	now := time.Now()
	code := in.ResultCode
	desc := in.ResultDesc
	attempt.ResultCode = &code
	attempt.ResultDesc = &desc
	if in.ReceiptNumber != nil {
		receipt := *in.ReceiptNumber
		attempt.ReceiptNumber = &receipt
	}
	if in.ViaCallback {
		attempt.IsCallbackReceived = true
		attempt.CallbackReceivedAt = &now
	}

	payment := f.payments[attempt.PaymentID]
	status := models.PaymentStatusFailed
	if code == models.ResultCodeSuccess {
		status = models.PaymentStatusCompleted
		payment.CompletedAt = &now
	} else {
		payment.FailedAt = &now
	}
	payment.Status = status

	return &store.MarkResultOutcome{Applied: true, PaymentStatus: status}, nil
}

func (f *fakeStore) FindStaleAttempts(grace time.Duration, maxChecks int) ([]models.PaymentAttempt, error) {
	var stale []models.PaymentAttempt
	for _, a := range f.attempts {
		if !a.IsTerminal() && !a.IsCallbackReceived && !a.NeedsReview && a.VerificationChecks < maxChecks {
			stale = append(stale, *a)
		}
	}
	return stale, nil
}

func (f *fakeStore) IncrementVerificationChecks(attemptID uuid.UUID) error {
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return store.ErrAttemptNotFound
	}
	attempt.VerificationChecks++
	return nil
}

func (f *fakeStore) IncrementNotFoundStreak(attemptID uuid.UUID) error {
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return store.ErrAttemptNotFound
	}
	attempt.NotFoundStreak++
	return nil
}

func (f *fakeStore) ResetNotFoundStreak(attemptID uuid.UUID) error {
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return store.ErrAttemptNotFound
	}
	attempt.NotFoundStreak = 0
	return nil
}

func (f *fakeStore) FlagForReview(attemptID uuid.UUID) error {
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return store.ErrAttemptNotFound
	}
	attempt.NeedsReview = true
	return nil
}

func (f *fakeStore) CreateCallbackRecord(record *models.CallbackRecord) error {
	record.ID = uuid.New()
	record.CreatedAt = f.nextTime()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeStore) MarkCallbackProcessed(recordID uuid.UUID) error {
	for _, r := range f.records {
		if r.ID == recordID {
			now := time.Now()
			r.Processed = true
			r.ProcessedAt = &now
			return nil
		}
	}
	return fmt.Errorf("callback record %s not found", recordID)
}

func (f *fakeStore) ListOrphanCallbacks() ([]models.CallbackRecord, error) {
	var orphans []models.CallbackRecord
	for _, r := range f.records {
		if r.AttemptID == nil {
			orphans = append(orphans, *r)
		}
	}
	return orphans, nil
}

var _ TransactionStore = (*fakeStore)(nil)

// fakeGateway scripts the gateway client. Push results and query outcomes
// are consumed in order, so a retry can hand out a different checkout id
// than the first push and a poll sequence can change its answer per sweep.
// Like the real client, push input is validated before anything counts as a
// network call.
type fakeGateway struct {
	pushResults   []*payments.PushResult
	pushErr       error
	queryOutcome  *payments.QueryOutcome
	queryOutcomes []*payments.QueryOutcome
	queryErr      error

	pushCalls  int
	queryCalls int
	lastPhone  string
	lastAmount float64
	lastRef    string
}

func (f *fakeGateway) Authenticate(ctx context.Context) (string, error) {
	return "test-token", nil
}

func (f *fakeGateway) InitiatePush(ctx context.Context, phone string, amount float64, reference, description string) (*payments.PushResult, error) {
	sanitized, err := payments.SanitizePhoneNumber(phone)
	if err != nil {
		return nil, err
	}

	f.pushCalls++
	f.lastPhone = sanitized
	f.lastAmount = amount
	f.lastRef = reference
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	if len(f.pushResults) == 0 {
		return &payments.PushResult{
			CheckoutRequestID: fmt.Sprintf("ws_CO_%d", f.pushCalls),
			MerchantRequestID: fmt.Sprintf("mr_%d", f.pushCalls),
			PhoneNumber:       sanitized,
			ResponseCode:      "0",
		}, nil
	}
	result := f.pushResults[0]
	if len(f.pushResults) > 1 {
		f.pushResults = f.pushResults[1:]
	}
	if result.PhoneNumber == "" {
		result.PhoneNumber = sanitized
	}
	return result, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*payments.QueryOutcome, error) {
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOutcomes) > 0 {
		outcome := f.queryOutcomes[0]
		f.queryOutcomes = f.queryOutcomes[1:]
		return outcome, nil
	}
	return f.queryOutcome, nil
}

var _ payments.Client = (*fakeGateway)(nil)
