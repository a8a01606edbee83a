package services

import (
	"context"
	"errors"
	"testing"

	"darasapay/models"
	"darasapay/payments"
	"darasapay/store"
	"github.com/google/uuid"
)

func TestPaymentServiceInitiate(t *testing.T) {
	t.Run("creates pending payment with first attempt", func(t *testing.T) {
		fs := newFakeStore()
		gw := &fakeGateway{}
		svc := NewPaymentService(fs, gw)

		payment, attempt, err := svc.Initiate(context.Background(), 100, "0712345678", "INV1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payment.Status != models.PaymentStatusPending {
			t.Errorf("expected pending payment, got %s", payment.Status)
		}
		if attempt.CheckoutRequestID == "" {
			t.Error("expected attempt to carry a checkout request id")
		}
		if attempt.PaymentID != payment.ID {
			t.Error("attempt not linked to payment")
		}
		if gw.lastPhone != "254712345678" {
			t.Errorf("expected sanitized phone 254712345678, got %s", gw.lastPhone)
		}
		if payment.PayerPhone != "254712345678" || attempt.PhoneNumber != "254712345678" {
			t.Errorf("expected the MSISDN the gateway was given to be persisted, got %q / %q",
				payment.PayerPhone, attempt.PhoneNumber)
		}
	})

	t.Run("rejects phone without trunk prefix before any network call", func(t *testing.T) {
		fs := newFakeStore()
		gw := &fakeGateway{}
		svc := NewPaymentService(fs, gw)

		_, _, err := svc.Initiate(context.Background(), 100, "712345678", "INV1")

		var valErr *payments.ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if gw.pushCalls != 0 {
			t.Errorf("expected no gateway calls, got %d", gw.pushCalls)
		}
		if len(fs.payments) != 0 || len(fs.attempts) != 0 {
			t.Error("expected no rows persisted")
		}
	})

	t.Run("business rejection persists nothing", func(t *testing.T) {
		fs := newFakeStore()
		gw := &fakeGateway{pushResults: []*payments.PushResult{{
			CheckoutRequestID: "ws_CO_1",
			ResponseCode:      "1",
			ResponseDesc:      "Insufficient merchant balance",
		}}}
		svc := NewPaymentService(fs, gw)

		_, _, err := svc.Initiate(context.Background(), 100, "0712345678", "INV1")

		var rejection *BusinessRejection
		if !errors.As(err, &rejection) {
			t.Fatalf("expected BusinessRejection, got %v", err)
		}
		if rejection.Code != "1" {
			t.Errorf("expected rejection code 1, got %s", rejection.Code)
		}
		if len(fs.payments) != 0 {
			t.Error("expected no payment persisted after rejection")
		}
	})

	t.Run("gateway unavailable propagates as retryable error", func(t *testing.T) {
		fs := newFakeStore()
		gw := &fakeGateway{pushErr: &payments.GatewayError{Op: "stkpush", Err: errors.New("connection refused")}}
		svc := NewPaymentService(fs, gw)

		_, _, err := svc.Initiate(context.Background(), 100, "0712345678", "INV1")

		var gwErr *payments.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("expected GatewayError, got %v", err)
		}
		if len(fs.payments) != 0 {
			t.Error("expected no payment persisted after transport failure")
		}
	})
}

func TestPaymentServiceRetry(t *testing.T) {
	initiate := func(t *testing.T, fs *fakeStore, gw *fakeGateway) (*models.Payment, *models.PaymentAttempt) {
		t.Helper()
		svc := NewPaymentService(fs, gw)
		payment, attempt, err := svc.Initiate(context.Background(), 250, "0712345678", "INV9")
		if err != nil {
			t.Fatalf("initiate: %v", err)
		}
		return payment, attempt
	}

	fail := func(t *testing.T, fs *fakeStore, attemptID uuid.UUID) {
		t.Helper()
		if _, err := fs.MarkAttemptResult(store.MarkResultInput{
			AttemptID:  attemptID,
			ResultCode: "1032",
			ResultDesc: "Request cancelled by user",
		}); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	t.Run("conflict while latest attempt is still pending", func(t *testing.T) {
		fs := newFakeStore()
		gw := &fakeGateway{}
		payment, _ := initiate(t, fs, gw)

		svc := NewPaymentService(fs, gw)
		_, err := svc.Retry(context.Background(), payment.ID)
		if !errors.Is(err, store.ErrRetryConflict) {
			t.Fatalf("expected ErrRetryConflict, got %v", err)
		}
	})

	t.Run("conflict when latest attempt completed", func(t *testing.T) {
		fs := newFakeStore()
		gw := &fakeGateway{}
		payment, attempt := initiate(t, fs, gw)

		receipt := "ABC123"
		if _, err := fs.MarkAttemptResult(store.MarkResultInput{
			AttemptID:     attempt.ID,
			ResultCode:    models.ResultCodeSuccess,
			ReceiptNumber: &receipt,
		}); err != nil {
			t.Fatalf("mark completed: %v", err)
		}

		svc := NewPaymentService(fs, gw)
		_, err := svc.Retry(context.Background(), payment.ID)
		if !errors.Is(err, store.ErrRetryConflict) {
			t.Fatalf("expected ErrRetryConflict, got %v", err)
		}
	})

	t.Run("failed attempt yields a fresh attempt and pending payment", func(t *testing.T) {
		fs := newFakeStore()
		gw := &fakeGateway{}
		payment, first := initiate(t, fs, gw)
		fail(t, fs, first.ID)

		svc := NewPaymentService(fs, gw)
		second, err := svc.Retry(context.Background(), payment.ID)
		if err != nil {
			t.Fatalf("retry: %v", err)
		}

		if second.CheckoutRequestID == first.CheckoutRequestID {
			t.Error("expected a new checkout request id for the retry attempt")
		}
		if payment.Status != models.PaymentStatusPending {
			t.Errorf("expected payment back to pending, got %s", payment.Status)
		}
		if first.ResultCode == nil || *first.ResultCode != "1032" {
			t.Error("original attempt must keep its terminal state")
		}
		if gw.lastPhone != first.PhoneNumber || gw.lastAmount != first.Amount {
			t.Error("retry must reuse the original phone and amount")
		}
	})

	t.Run("unknown payment", func(t *testing.T) {
		fs := newFakeStore()
		svc := NewPaymentService(fs, &fakeGateway{})
		_, err := svc.Retry(context.Background(), uuid.New())
		if !errors.Is(err, store.ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
	})
}
