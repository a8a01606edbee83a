package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"darasapay/metrics"
	"darasapay/models"
	"darasapay/store"
)

// CallbackPayload is the gateway's asynchronous notification envelope. The
// metadata items only show up on successful payments; everything inside is
// parsed defensively because the gateway is not consistent about types.
type CallbackPayload struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackService turns webhook deliveries into attempt outcomes. Errors out
// of HandleNotification are for logging only; the HTTP layer acknowledges the
// gateway with success no matter what, since the gateway treats anything else
// as an invitation to retry-storm.
type CallbackService struct {
	store TransactionStore
}

func NewCallbackService(store TransactionStore) *CallbackService {
	return &CallbackService{store: store}
}

// HandleNotification persists the raw payload first, then correlates it to
// an attempt and applies the guarded transition, then marks the audit record
// processed. A crash between the steps leaves an unprocessed record that an
// operator can replay.
func (s *CallbackService) HandleNotification(raw []byte) error {
	var payload CallbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		record := &models.CallbackRecord{Payload: string(raw)}
		if storeErr := s.store.CreateCallbackRecord(record); storeErr != nil {
			return fmt.Errorf("store unparseable callback: %w", storeErr)
		}
		metrics.CallbacksOrphaned.Inc()
		return fmt.Errorf("unparseable callback payload: %w", err)
	}

	stk := payload.Body.StkCallback
	record := &models.CallbackRecord{Payload: string(raw)}

	attempt, err := s.store.FindAttemptByCheckoutID(stk.CheckoutRequestID)
	if err != nil && !errors.Is(err, store.ErrAttemptNotFound) {
		// Keep the audit row even when correlation is unavailable.
		if storeErr := s.store.CreateCallbackRecord(record); storeErr != nil {
			return fmt.Errorf("store callback record: %w", storeErr)
		}
		return err
	}
	if attempt != nil {
		record.AttemptID = &attempt.ID
	}
	if err := s.store.CreateCallbackRecord(record); err != nil {
		return fmt.Errorf("store callback record: %w", err)
	}

	if attempt == nil {
		log.Printf("⚠️ Orphan callback for unknown checkout %q", stk.CheckoutRequestID)
		metrics.CallbacksOrphaned.Inc()
		return nil
	}

	resultCode := stk.ResultCode.String()
	if resultCode == "" {
		log.Printf("⚠️ Callback for checkout %s carries no result code, leaving attempt pending", stk.CheckoutRequestID)
		return nil
	}

	meta := extractMetadata(payload)
	if meta.Amount != 0 && meta.Amount != attempt.Amount {
		log.Printf("⚠️ Callback amount %.2f differs from attempt amount %.2f (checkout %s)",
			meta.Amount, attempt.Amount, stk.CheckoutRequestID)
	}

	outcome, err := s.store.MarkAttemptResult(store.MarkResultInput{
		AttemptID:     attempt.ID,
		ResultCode:    resultCode,
		ResultDesc:    stk.ResultDesc,
		ReceiptNumber: meta.ReceiptNumber,
		ViaCallback:   true,
	})
	if err != nil {
		return fmt.Errorf("apply callback result: %w", err)
	}

	if !outcome.Applied {
		log.Printf("Duplicate callback for checkout %s ignored, attempt already terminal", stk.CheckoutRequestID)
		metrics.CallbacksDuplicate.Inc()
	} else {
		log.Printf("Callback applied for checkout %s: payment %s is %s", stk.CheckoutRequestID, attempt.PaymentID, outcome.PaymentStatus)
		metrics.CallbacksProcessed.Inc()
	}

	if err := s.store.MarkCallbackProcessed(record.ID); err != nil {
		return fmt.Errorf("mark callback processed: %w", err)
	}
	return nil
}

type callbackMetadata struct {
	ReceiptNumber *string
	Amount        float64
	PhoneNumber   string
}

func extractMetadata(payload CallbackPayload) callbackMetadata {
	var meta callbackMetadata
	for _, item := range payload.Body.StkCallback.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if val, ok := item.Value.(string); ok && val != "" {
				meta.ReceiptNumber = &val
			}
		case "Amount":
			switch val := item.Value.(type) {
			case float64:
				meta.Amount = val
			case string:
				if f, err := strconv.ParseFloat(val, 64); err == nil {
					meta.Amount = f
				}
			}
		case "PhoneNumber":
			switch val := item.Value.(type) {
			case string:
				meta.PhoneNumber = val
			case float64:
				meta.PhoneNumber = strconv.FormatFloat(val, 'f', 0, 64)
			}
		}
	}
	return meta
}
