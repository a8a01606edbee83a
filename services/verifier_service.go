package services

import (
	"context"
	"errors"
	"log"
	"time"

	"darasapay/metrics"
	"darasapay/models"
	"darasapay/payments"
	"darasapay/store"
	"github.com/sethvargo/go-retry"
)

const (
	// DefaultGraceWindow is how long an attempt may wait for its callback
	// before the verifier starts polling the gateway for it.
	DefaultGraceWindow = 60 * time.Second
	// DefaultMaxChecks bounds how often one attempt is polled before it is
	// flagged for manual review.
	DefaultMaxChecks = 5
	// DefaultNotFoundThreshold is how many consecutive "transaction does
	// not exist" answers we accept before concluding the push was lost and
	// failing it. Any other answer in between resets the streak, so a
	// transient lookup miss on the gateway side cannot escalate.
	DefaultNotFoundThreshold = 3

	// Gateway code used when the verifier fails an attempt the gateway has
	// no record of. 1037 is the gateway's own unreachable-device timeout
	// family, the closest match to an unconfirmed push.
	resultCodeLost = "1037"
)

// VerifierService reconciles attempts whose callback never arrived. It polls
// the gateway and applies the same guarded transition the webhook path uses,
// so whichever of the two learns the outcome first wins and the other
// becomes a no-op.
type VerifierService struct {
	store   TransactionStore
	gateway payments.Client

	GraceWindow       time.Duration
	MaxChecks         int
	NotFoundThreshold int
}

func NewVerifierService(store TransactionStore, gateway payments.Client) *VerifierService {
	return &VerifierService{
		store:             store,
		gateway:           gateway,
		GraceWindow:       DefaultGraceWindow,
		MaxChecks:         DefaultMaxChecks,
		NotFoundThreshold: DefaultNotFoundThreshold,
	}
}

// VerifyPending scans for stale attempts and polls the gateway for each,
// returning how many were driven to a terminal state. One bad attempt never
// stops the sweep.
func (s *VerifierService) VerifyPending(ctx context.Context) (int, error) {
	attempts, err := s.store.FindStaleAttempts(s.GraceWindow, s.MaxChecks)
	if err != nil {
		return 0, err
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	log.Printf("Verifier: checking %d attempt(s) without a callback", len(attempts))

	reconciled := 0
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return reconciled, ctx.Err()
		}
		if s.verifyOne(ctx, attempt) {
			reconciled++
		}
	}
	return reconciled, nil
}

func (s *VerifierService) verifyOne(ctx context.Context, attempt models.PaymentAttempt) bool {
	outcome, err := s.queryWithBackoff(ctx, attempt.CheckoutRequestID)
	if err != nil {
		metrics.GatewayErrors.Inc()
		log.Printf("⚠️ Verifier: gateway unreachable for checkout %s: %v", attempt.CheckoutRequestID, err)
		s.clearNotFoundStreak(attempt)
		s.recordCheck(attempt, s.MaxChecks)
		return false
	}

	switch outcome.State {
	case payments.QueryResolved:
		res, err := s.store.MarkAttemptResult(store.MarkResultInput{
			AttemptID:  attempt.ID,
			ResultCode: outcome.ResultCode,
			ResultDesc: outcome.ResultDesc,
		})
		if err != nil {
			log.Printf("🔥 Verifier: failed to apply result for checkout %s: %v", attempt.CheckoutRequestID, err)
			return false
		}
		if res.Applied {
			log.Printf("Verifier: reconciled checkout %s, payment %s is %s", attempt.CheckoutRequestID, attempt.PaymentID, res.PaymentStatus)
			metrics.AttemptsReconciled.Inc()
			return true
		}
		// Callback beat us to it; nothing left to do.
		return false

	case payments.QueryNotFound:
		if attempt.NotFoundStreak+1 >= s.NotFoundThreshold {
			res, err := s.store.MarkAttemptResult(store.MarkResultInput{
				AttemptID:  attempt.ID,
				ResultCode: resultCodeLost,
				ResultDesc: "Transaction not found at gateway",
			})
			if err != nil {
				log.Printf("🔥 Verifier: failed to fail lost checkout %s: %v", attempt.CheckoutRequestID, err)
				return false
			}
			if res.Applied {
				log.Printf("Verifier: checkout %s not found at gateway, payment %s marked failed", attempt.CheckoutRequestID, attempt.PaymentID)
				metrics.AttemptsReconciled.Inc()
			}
			return res.Applied
		}
		if err := s.store.IncrementNotFoundStreak(attempt.ID); err != nil {
			log.Printf("🔥 Verifier: failed to record not-found answer for attempt %s: %v", attempt.ID, err)
		}
		s.recordCheck(attempt, s.MaxChecks)
		return false

	default: // still processing on the gateway side
		s.clearNotFoundStreak(attempt)
		s.recordCheck(attempt, s.MaxChecks)
		return false
	}
}

// clearNotFoundStreak breaks a run of not-found answers once the gateway
// says anything else about the attempt.
func (s *VerifierService) clearNotFoundStreak(attempt models.PaymentAttempt) {
	if attempt.NotFoundStreak == 0 {
		return
	}
	if err := s.store.ResetNotFoundStreak(attempt.ID); err != nil {
		log.Printf("🔥 Verifier: failed to reset not-found streak for attempt %s: %v", attempt.ID, err)
	}
}

// queryWithBackoff retries transport failures with capped exponential
// backoff. Business answers (resolved, processing, not found) come back on
// the first reachable response and are never retried here.
func (s *VerifierService) queryWithBackoff(ctx context.Context, checkoutRequestID string) (*payments.QueryOutcome, error) {
	var outcome *payments.QueryOutcome

	backoff := retry.WithMaxRetries(2, retry.WithCappedDuration(5*time.Second, retry.NewExponential(500*time.Millisecond)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
		if err != nil {
			var gwErr *payments.GatewayError
			if errors.As(err, &gwErr) {
				return retry.RetryableError(err)
			}
			return err
		}
		outcome = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// recordCheck burns one unit of the attempt's verification budget and flags
// it for manual review when the budget is gone.
func (s *VerifierService) recordCheck(attempt models.PaymentAttempt, maxChecks int) {
	if err := s.store.IncrementVerificationChecks(attempt.ID); err != nil {
		log.Printf("🔥 Verifier: failed to record check for attempt %s: %v", attempt.ID, err)
		return
	}
	if attempt.VerificationChecks+1 >= maxChecks {
		if err := s.store.FlagForReview(attempt.ID); err != nil {
			log.Printf("🔥 Verifier: failed to flag attempt %s for review: %v", attempt.ID, err)
			return
		}
		metrics.AttemptsFlaggedForReview.Inc()
		log.Printf("⚠️ Verifier: attempt %s exhausted its verification budget, flagged for manual review", attempt.ID)
	}
}
