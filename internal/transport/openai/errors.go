package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// Backend error codes with special handling.
const (
	codeUnsupportedValue = "unsupported_value"
	codeRateLimit        = "rate_limit_exceeded"
	codeServerError      = "server_error"
	paramStream          = "stream"
)

// errStreamUnsupported marks a structured request that must be retried as a
// blocking call. It never leaves this package.
var errStreamUnsupported = errors.New("streaming unsupported for this request")

// classify maps a go-openai or transport error onto the domain taxonomy.
// Context errors are passed through so the caller can tell cancellation and
// deadline apart from backend failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fromAPIError(apiErr.HTTPStatusCode, apiErr)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fromBody(reqErr.HTTPStatusCode, reqErr.Body)
	}

	switch {
	case errors.Is(err, openai.ErrReasoningModelMaxTokensDeprecated),
		errors.Is(err, openai.ErrReasoningModelLimitationsOther),
		errors.Is(err, openai.ErrReasoningModelLimitationsLogprobs),
		errors.Is(err, openai.ErrChatCompletionInvalidModel):
		return &domain.BackendRejectedError{
			Status:  http.StatusBadRequest,
			Code:    codeUnsupportedValue,
			Message: err.Error(),
		}
	}

	return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
}

// fromBody decodes an OpenAI error envelope. Bodies that are not an envelope
// are classified by status alone.
func fromBody(status int, body []byte) error {
	var env openai.ErrorResponse
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return fromAPIError(status, env.Error)
	}
	msg := extractDetail(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fromStatus(status, "", "", msg)
}

func fromAPIError(status int, e *openai.APIError) error {
	param := ""
	if e.Param != nil {
		param = *e.Param
	}
	code := codeString(e.Code)
	if code == codeUnsupportedValue && param == paramStream {
		return fmt.Errorf("%w: %s", errStreamUnsupported, e.Message)
	}
	if status == 0 {
		status = statusForCode(code)
	}
	return fromStatus(status, code, param, e.Message)
}

func fromStatus(status int, code, param, msg string) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", domain.ErrBackendUnavailable, status, msg)
	case status >= http.StatusBadRequest:
		return &domain.BackendRejectedError{Status: status, Code: code, Param: param, Message: msg}
	default:
		return fmt.Errorf("%w: unexpected status %d: %s", domain.ErrBackendUnavailable, status, msg)
	}
}

// statusForCode guesses a status for errors delivered inside a stream.
func statusForCode(code string) int {
	switch code {
	case "", codeServerError:
		return http.StatusInternalServerError
	case codeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// codeString normalizes APIError.Code, which may be a string or a number.
func codeString(code any) string {
	switch c := code.(type) {
	case nil:
		return ""
	case string:
		return c
	case int:
		return strconv.Itoa(c)
	default:
		return fmt.Sprint(c)
	}
}

// errorType labels an error for metrics.
func errorType(err error) string {
	var rejected *domain.BackendRejectedError
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &rejected):
		if rejected.Status == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return "rejected"
	default:
		return "unavailable"
	}
}

// extractDetail extracts the "detail" field some compatible providers use.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
