package payments

import "fmt"

// ValidationError means the caller's input was bad. No network call was made
// and retrying with the same input will never succeed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// GatewayError means the gateway could not be reached or did not answer
// sensibly (timeout, DNS, non-2xx, malformed body, auth failure). These are
// transport-level and safe to retry with backoff.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("mpesa %s: gateway unavailable: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
