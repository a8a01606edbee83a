package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the service reads from the environment. It is
// loaded once in main and injected; nothing else reads os.Getenv.
type Config struct {
	Port        string
	DatabaseURL string

	MpesaBaseURL        string
	MpesaShortcode      string
	MpesaPasskey        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaEnvironment    string

	CallbackBaseURL string
	TransactionDesc string

	AmountMin float64
	AmountMax float64
}

// FieldError describes one missing or invalid configuration field.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("Warning: .env file not found, reading from system environment variables")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaShortcode:      os.Getenv("MPESA_SHORTCODE"),
		MpesaPasskey:        os.Getenv("MPESA_PASSKEY"),
		MpesaConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		MpesaEnvironment:    getEnv("MPESA_ENV", "sandbox"),
		CallbackBaseURL:     os.Getenv("WEBHOOK_BASE_URL"),
		TransactionDesc:     getEnv("MPESA_TRANSACTION_DESC", "DarasaPay school fees"),
		AmountMin:           getEnvFloat("MPESA_AMOUNT_MIN", 1),
		AmountMax:           getEnvFloat("MPESA_AMOUNT_MAX", 70000),
	}
}

// Validate reports every missing or invalid field instead of stopping at the
// first, so a diagnostics caller can show the full picture. It never panics.
func (c *Config) Validate() []FieldError {
	var errs []FieldError

	required := []struct {
		field string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"MPESA_SHORTCODE", c.MpesaShortcode},
		{"MPESA_PASSKEY", c.MpesaPasskey},
		{"MPESA_CONSUMER_KEY", c.MpesaConsumerKey},
		{"MPESA_CONSUMER_SECRET", c.MpesaConsumerSecret},
		{"WEBHOOK_BASE_URL", c.CallbackBaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, FieldError{Field: r.field, Reason: "is not set"})
		}
	}

	if c.MpesaEnvironment != "sandbox" && c.MpesaEnvironment != "production" {
		errs = append(errs, FieldError{Field: "MPESA_ENV", Reason: "must be sandbox or production"})
	}
	if _, err := url.ParseRequestURI(c.MpesaBaseURL); err != nil {
		errs = append(errs, FieldError{Field: "MPESA_BASE_URL", Reason: "is not a valid URL"})
	}
	if c.CallbackBaseURL != "" {
		if _, err := url.ParseRequestURI(c.CallbackBaseURL); err != nil {
			errs = append(errs, FieldError{Field: "WEBHOOK_BASE_URL", Reason: "is not a valid URL"})
		}
	}
	if c.AmountMin < 1 {
		errs = append(errs, FieldError{Field: "MPESA_AMOUNT_MIN", Reason: "must be at least 1"})
	}
	if c.AmountMax <= c.AmountMin {
		errs = append(errs, FieldError{Field: "MPESA_AMOUNT_MAX", Reason: "must be greater than MPESA_AMOUNT_MIN"})
	}

	return errs
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s is not a number, using default %v", key, fallback)
		return fallback
	}
	return f
}
