package routes

import (
	"darasapay/handlers"
	"github.com/gofiber/fiber/v2"
)

func PaymentRoutes(app *fiber.App, h *handlers.PaymentHandler) {
	app.Get("/health", h.Health)

	api := app.Group("/api/v1")

	api.Post("/payments", h.InitiatePayment)
	api.Post("/payments/webhook", h.HandlePaymentWebhook)
	api.Post("/payments/verify", h.VerifyPayments)
	api.Get("/payments/callbacks/orphans", h.ListOrphanCallbacks)
	api.Get("/payments/:paymentId", h.GetPayment)
	api.Post("/payments/:paymentId/retry", h.RetryPayment)
}
