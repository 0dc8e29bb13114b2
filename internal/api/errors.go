package api

import (
	"errors"
	"fmt"
)

// ErrDeliveryRejected matches every *DeliveryError.
var ErrDeliveryRejected = errors.New("monitoring API rejected the record")

// DeliveryError is returned when the API answered with anything other than
// "200 OK".
type DeliveryError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("delivery failed: %d %s: %s", e.StatusCode, e.Reason, e.Body)
	}
	return fmt.Sprintf("delivery failed: %d %s", e.StatusCode, e.Reason)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryRejected
}

// RetryableError marks a 5xx answer that may succeed when retried.
type RetryableError struct {
	StatusCode int
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: status %d", e.StatusCode)
}
