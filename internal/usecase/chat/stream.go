package chat

import (
	"context"
	"sync/atomic"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// State is a position in the request lifecycle.
type State int32

// Lifecycle states. Done and Errored are terminal.
const (
	StateIdle State = iota
	StateGating
	StateDispatching
	StateStreaming
	StateFinalizing
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGating:
		return "gating"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Stream is one accepted request. Events delivers session, tokens and exactly
// one terminal event, then closes. The channel is unbuffered, so the consumer
// sets the pace at which backend fragments are pulled.
type Stream struct {
	SessionID string
	MessageID string
	Model     string
	Variant   domain.Variant

	events chan domain.Event
	done   chan struct{}
	state  atomic.Int32

	// terminated is owned by the producer goroutine.
	terminated bool
}

func newStream() *Stream {
	return &Stream{
		events: make(chan domain.Event),
		done:   make(chan struct{}),
	}
}

// Events returns the outward event channel.
func (s *Stream) Events() <-chan domain.Event { return s.events }

// Done is closed once the producer goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// State reports the current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

func (s *Stream) setState(st State) { s.state.Store(int32(st)) }

// send delivers ev unless the consumer went away first.
func (s *Stream) send(ctx context.Context, ev domain.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
