package handlers

import (
	"errors"
	"log"

	config "darasapay/configs"
	"darasapay/payments"
	"darasapay/services"
	"darasapay/store"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var validate = validator.New()

type PaymentHandler struct {
	cfg       *config.Config
	payments  *services.PaymentService
	callbacks *services.CallbackService
	verifier  *services.VerifierService
}

func NewPaymentHandler(cfg *config.Config, paymentSvc *services.PaymentService, callbackSvc *services.CallbackService, verifierSvc *services.VerifierService) *PaymentHandler {
	return &PaymentHandler{
		cfg:       cfg,
		payments:  paymentSvc,
		callbacks: callbackSvc,
		verifier:  verifierSvc,
	}
}

type InitiatePaymentRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Phone     string  `json:"phone" validate:"required"`
	Reference string  `json:"reference" validate:"required,max=100"`
}

func (h *PaymentHandler) InitiatePayment(c *fiber.Ctx) error {
	var req InitiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error", "message": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error", "message": err.Error()})
	}

	payment, attempt, err := h.payments.Initiate(c.Context(), req.Amount, req.Phone, req.Reference)
	if err != nil {
		return h.mapPaymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"paymentId":         payment.ID,
			"checkoutRequestId": attempt.CheckoutRequestID,
			"paymentStatus":     payment.Status,
		},
	})
}

// HandlePaymentWebhook always acknowledges with success. The gateway does
// not redeliver acknowledged callbacks but will retry-storm on anything
// else, so processing failures are logged and counted, never surfaced.
func (h *PaymentHandler) HandlePaymentWebhook(c *fiber.Ctx) error {
	if err := h.callbacks.HandleNotification(c.Body()); err != nil {
		log.Printf("🔥 Webhook processing error (acknowledged anyway): %v", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func (h *PaymentHandler) RetryPayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("paymentId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error", "message": "Invalid payment ID format"})
	}

	attempt, err := h.payments.Retry(c.Context(), paymentID)
	if err != nil {
		return h.mapPaymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"paymentId":         attempt.PaymentID,
			"checkoutRequestId": attempt.CheckoutRequestID,
			"paymentStatus":     "pending",
		},
	})
}

func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("paymentId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error", "message": "Invalid payment ID format"})
	}

	payment, err := h.payments.GetPayment(paymentID)
	if err != nil {
		return h.mapPaymentError(c, err)
	}

	return c.JSON(fiber.Map{"status": "success", "data": payment})
}

// VerifyPayments triggers one reconciliation sweep on demand, the same one
// the cron job runs.
func (h *PaymentHandler) VerifyPayments(c *fiber.Ctx) error {
	count, err := h.verifier.VerifyPending(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"reconciled": count}})
}

func (h *PaymentHandler) ListOrphanCallbacks(c *fiber.Ctx) error {
	records, err := h.payments.ListOrphanCallbacks()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error", "message": "Database error"})
	}
	return c.JSON(fiber.Map{"status": "success", "data": records})
}

// Health reports configuration completeness without failing the service, so
// a deploy with missing gateway credentials is visible before the first
// payment is attempted.
func (h *PaymentHandler) Health(c *fiber.Ctx) error {
	fieldErrs := h.cfg.Validate()
	if len(fieldErrs) == 0 {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	problems := make([]fiber.Map, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fiber.Map{"field": fe.Field, "reason": fe.Reason})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "degraded", "config": problems})
}

func (h *PaymentHandler) mapPaymentError(c *fiber.Ctx, err error) error {
	var valErr *payments.ValidationError
	if errors.As(err, &valErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error", "message": valErr.Error()})
	}

	var rejection *services.BusinessRejection
	if errors.As(err, &rejection) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"status": "error", "message": rejection.Error()})
	}

	var gwErr *payments.GatewayError
	if errors.As(err, &gwErr) {
		log.Printf("🔥 Gateway unavailable: %v", gwErr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"status": "error", "message": "Payment gateway is unavailable, please retry shortly"})
	}

	switch {
	case errors.Is(err, store.ErrPaymentNotFound), errors.Is(err, store.ErrAttemptNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"status": "error", "message": "Payment not found"})
	case errors.Is(err, store.ErrRetryConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"status": "error", "message": "Only payments whose latest attempt failed can be retried"})
	}

	log.Printf("🔥 Unexpected payment error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error", "message": "Internal server error"})
}
