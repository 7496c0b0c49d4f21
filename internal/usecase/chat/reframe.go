package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// errConsumerGone stops relaying when the event consumer stopped listening.
var errConsumerGone = errors.New("event consumer gone")

// Client-facing failure texts. Backend rejections carry their own message.
const (
	msgTimeout     = "The AI service took too long to respond. Please try again."
	msgUnavailable = "The AI service is temporarily unavailable. Please try again later."
	msgRateLimited = "The AI service is busy right now. Please try again shortly."
	msgInternal    = "An unexpected error occurred. Please try again."
)

// relay forwards every backend fragment as one Token event, in order, and
// returns the concatenated text. onFirst runs when the first fragment arrives.
func relay(ctx context.Context, st *Stream, fs domain.FragmentStream, onFirst func()) (string, error) {
	var text strings.Builder
	first := true
	for fs.Next() {
		frag := fs.Fragment()
		if first {
			first = false
			if onFirst != nil {
				onFirst()
			}
		}
		text.WriteString(frag)
		if !st.send(ctx, domain.Token{Text: frag}) {
			return text.String(), errConsumerGone
		}
	}
	if err := fs.Err(); err != nil {
		return text.String(), err
	}
	return text.String(), nil
}

// failureMessage maps an internal error onto text that is safe to show the client.
func failureMessage(err error) string {
	var rejected *domain.BackendRejectedError
	switch {
	case errors.Is(err, domain.ErrBackendTimeout):
		return msgTimeout
	case errors.Is(err, domain.ErrBackendRateLimited):
		if errors.As(err, &rejected) && rejected.Message != "" {
			return rejected.Message
		}
		return msgRateLimited
	case errors.As(err, &rejected):
		if rejected.Message != "" {
			return rejected.Message
		}
		return msgUnavailable
	case errors.Is(err, domain.ErrBackendUnavailable):
		return msgUnavailable
	default:
		return msgInternal
	}
}

// outcome is the metrics status label of a finished request.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errConsumerGone), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, domain.ErrBackendTimeout):
		return "timeout"
	default:
		return "error"
	}
}
