package sdk

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors matched by APIError. Use errors.Is() to check.
var (
	ErrUnauthorized = errors.New("llmgate: unauthorized")
	ErrForbidden    = errors.New("llmgate: forbidden")
	ErrBadRequest   = errors.New("llmgate: bad request")
	ErrUnavailable  = errors.New("llmgate: service unavailable")
)

// APIError is a non-2xx response other than a quota denial.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("llmgate: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("llmgate: %d: %s", e.Status, e.Message)
}

// Is maps the HTTP status onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	case ErrUnavailable:
		return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusBadGateway
	default:
		return false
	}
}

// QuotaUsage is a used/limit pair. Limit 0 means unlimited.
type QuotaUsage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// QuotaSnapshot holds the daily request and monthly token counters.
type QuotaSnapshot struct {
	Daily   QuotaUsage `json:"daily"`
	Monthly QuotaUsage `json:"monthly"`
}

// QuotaError is returned when the server denies a request with 429.
type QuotaError struct {
	Reason  string        `json:"reason"`
	ResetAt time.Time     `json:"resetAt"`
	Usage   QuotaSnapshot `json:"usage"`
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("llmgate: rate limit exceeded: %s (resets %s)", e.Reason, e.ResetAt.Format(time.RFC3339))
}

// StreamError is the terminal error event of a chat stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llmgate: stream failed: " + e.Message }
