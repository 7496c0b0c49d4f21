package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a malformed chat or admin request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownModel signals a model that is absent from the capability table.
	ErrUnknownModel = errors.New("unknown model")
	// ErrForbidden signals an authenticated caller without the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrContentRejected signals a message flagged by the moderation filter.
	ErrContentRejected = errors.New("content rejected by moderation")

	// ErrQuotaExceeded signals a denial by the quota gate.
	ErrQuotaExceeded = errors.New("rate limit exceeded")
	// ErrQuotaUnavailable signals that quota counters could not be read.
	ErrQuotaUnavailable = errors.New("quota state unavailable")

	// ErrBackendUnavailable signals a network, auth or 5xx failure talking to the backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendRejected signals a 4xx response from the backend.
	ErrBackendRejected = errors.New("backend rejected request")
	// ErrBackendRateLimited signals a backend-side 429.
	ErrBackendRateLimited = errors.New("backend rate limited")
	// ErrBackendTimeout signals that the backend exceeded the wall-clock ceiling.
	ErrBackendTimeout = errors.New("backend timed out")
)

// QuotaKind tells which ceiling produced a denial.
type QuotaKind string

// Quota ceilings.
const (
	QuotaDaily   QuotaKind = "daily"
	QuotaMonthly QuotaKind = "monthly"
)

// QuotaUsage is a used/limit pair. Limit 0 means unlimited.
type QuotaUsage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// QuotaSnapshot reports the counters a gate decision was based on.
type QuotaSnapshot struct {
	Daily   QuotaUsage `json:"daily"`
	Monthly QuotaUsage `json:"monthly"`
}

// QuotaDeniedError wraps ErrQuotaExceeded with the reason and reset instant.
type QuotaDeniedError struct {
	Kind    QuotaKind
	Reason  string
	ResetAt time.Time
	Usage   QuotaSnapshot
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("%s: %s (resets %s)", ErrQuotaExceeded.Error(), e.Reason, e.ResetAt.Format(time.RFC3339))
}

func (e *QuotaDeniedError) Unwrap() error { return ErrQuotaExceeded }

// BackendRejectedError carries a 4xx backend response. The message is the
// backend's own text and is safe to surface to the client.
type BackendRejectedError struct {
	Status  int
	Code    string
	Param   string
	Message string
}

func (e *BackendRejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s: %s", ErrBackendRejected.Error(), e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %d: %s", ErrBackendRejected.Error(), e.Status, e.Message)
}

func (e *BackendRejectedError) Unwrap() error { return ErrBackendRejected }

// Is makes a backend 429 match ErrBackendRateLimited as well.
func (e *BackendRejectedError) Is(target error) bool {
	return target == ErrBackendRateLimited && e.Status == http.StatusTooManyRequests
}
