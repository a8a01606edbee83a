package main

import (
	"log"
	"net/http"
	"time"

	config "darasapay/configs"
	"darasapay/database"
	"darasapay/handlers"
	"darasapay/jobs"
	"darasapay/payments"
	"darasapay/routes"
	"darasapay/services"
	"darasapay/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()
	for _, fieldErr := range cfg.Validate() {
		log.Printf("⚠️ %v", fieldErr)
	}

	database.ConnectDB(cfg.DatabaseURL)
	database.Migrate()

	gateway := payments.NewDarajaClient(cfg)
	paymentStore := store.NewPaymentStore(database.DB)

	paymentSvc := services.NewPaymentService(paymentStore, gateway)
	callbackSvc := services.NewCallbackService(paymentStore)
	verifierSvc := services.NewVerifierService(paymentStore, gateway)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc("* * * * *", jobs.VerifyPendingPayments(verifierSvc)); err != nil {
		log.Fatalf("🔥 Failed to schedule payment verification job: %v", err)
	}
	go c.Start()
	log.Println("✅ Cron job for payment verification scheduled successfully.")

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9091", nil); err != nil {
			log.Printf("⚠️ Metrics server stopped: %v", err)
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:       "DarasaPay",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Africa/Nairobi",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	handler := handlers.NewPaymentHandler(cfg, paymentSvc, callbackSvc, verifierSvc)
	routes.PaymentRoutes(app, handler)

	log.Fatal(app.Listen(":" + cfg.Port))
}
