package domain

// Event is one item of the outward stream protocol.
// A stream carries SessionStarted first, then any number of Token events,
// then exactly one of Completed or Failed.
type Event interface {
	// Name is the wire event name.
	Name() string
	isEvent()
}

// Wire event names.
const (
	EventSession = "session"
	EventToken   = "token"
	EventDone    = "done"
	EventError   = "error"
)

// SessionStarted announces the session and the id of the persisted user turn.
type SessionStarted struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

// Token carries one backend fragment.
type Token struct {
	Text string `json:"text"`
}

// Completed terminates a successful stream.
type Completed struct {
	Success bool  `json:"success"`
	Tokens  int64 `json:"tokens"`
	Cost    int64 `json:"cost"`
}

// Failed terminates a stream with a client-safe message.
type Failed struct {
	Message string `json:"message"`
}

func (SessionStarted) Name() string { return EventSession }
func (Token) Name() string          { return EventToken }
func (Completed) Name() string      { return EventDone }
func (Failed) Name() string         { return EventError }

func (SessionStarted) isEvent() {}
func (Token) isEvent()          {}
func (Completed) isEvent()      {}
func (Failed) isEvent()         {}

// Terminal reports whether e ends a stream.
func Terminal(e Event) bool {
	switch e.(type) {
	case Completed, Failed:
		return true
	default:
		return false
	}
}
