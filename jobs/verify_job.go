package jobs

import (
	"context"
	"log"
	"time"

	"darasapay/services"
)

// VerifyPendingPayments wraps the verifier sweep for the cron scheduler.
func VerifyPendingPayments(verifier *services.VerifierService) func() {
	return func() {
		log.Println("Running job: VerifyPendingPayments...")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		count, err := verifier.VerifyPending(ctx)
		if err != nil {
			log.Printf("Error verifying pending payments: %v", err)
			return
		}
		if count > 0 {
			log.Printf("Reconciled %d payment attempt(s)", count)
		}
	}
}
