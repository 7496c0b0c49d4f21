package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kailas-cloud/llmgate/pkg/sse"
)

// Chat modes.
const (
	ModeAuto     = "auto"
	ModeInstant  = "instant"
	ModeThinking = "thinking"
	ModePro      = "pro"
)

// ChatRequest is one user message. Empty Model selects the server default and
// empty SessionID starts a new session.
type ChatRequest struct {
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// EventType names a stream event.
type EventType string

// Stream event types.
const (
	EventSession EventType = "session"
	EventToken   EventType = "token"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one decoded stream event. Fields not carried by Type are zero.
type Event struct {
	Type      EventType
	SessionID string
	MessageID string
	Text      string
	Tokens    int64
	Cost      int64
	Message   string
}

type eventData struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	Success   bool   `json:"success"`
	Tokens    int64  `json:"tokens"`
	Cost      int64  `json:"cost"`
	Message   string `json:"message"`
}

// Result summarizes a finished stream.
type Result struct {
	SessionID string
	MessageID string
	Text      string
	Tokens    int64
	CostCents int64
}

// ChatStream iterates over the events of one chat reply.
//
//	stream, err := client.Chat(ctx, sdk.ChatRequest{Message: "hi"})
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Event().Text)
//	}
//	if err := stream.Err(); err != nil { ... }
type ChatStream struct {
	body  io.ReadCloser
	dec   *sse.Decoder
	obs   *observer
	start time.Time

	cur    Event
	result Result
	text   strings.Builder
	done   bool
	err    error
}

// Chat sends req and opens the reply stream. Errors before the stream opens,
// including *QuotaError, are returned directly.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	start := time.Now()

	hreq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat", req)
	if err != nil {
		c.obs.observe("chat", start, err)
		return nil, err
	}
	hreq.Header.Set("Accept", sse.ContentType)

	resp, err := c.send(hreq)
	if err != nil {
		c.obs.observe("chat", start, err)
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, sse.ContentType) {
		_ = resp.Body.Close()
		err = fmt.Errorf("llmgate: unexpected content type %q", ct)
		c.obs.observe("chat", start, err)
		return nil, err
	}

	return &ChatStream{
		body:  resp.Body,
		dec:   sse.NewDecoder(resp.Body),
		obs:   c.obs,
		start: start,
	}, nil
}

// Next advances to the next event. It returns false after the terminal event
// or on failure; check Err afterwards.
func (s *ChatStream) Next() bool {
	if s.done {
		return false
	}

	raw, err := s.dec.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		s.finish(fmt.Errorf("llmgate: read stream: %w", err))
		return false
	}

	var data eventData
	if err := raw.Decode(&data); err != nil {
		s.finish(fmt.Errorf("llmgate: decode %s event: %w", raw.Name, err))
		return false
	}

	s.cur = Event{
		Type:      EventType(raw.Name),
		SessionID: data.SessionID,
		MessageID: data.MessageID,
		Text:      data.Text,
		Tokens:    data.Tokens,
		Cost:      data.Cost,
		Message:   data.Message,
	}

	switch s.cur.Type {
	case EventSession:
		s.result.SessionID = data.SessionID
		s.result.MessageID = data.MessageID
	case EventToken:
		s.text.WriteString(data.Text)
	case EventDone:
		s.result.Tokens = data.Tokens
		s.result.CostCents = data.Cost
		s.finish(nil)
	case EventError:
		s.finish(&StreamError{Message: data.Message})
	}
	return true
}

func (s *ChatStream) finish(err error) {
	s.done = true
	s.err = err
	s.obs.observe("chat", s.start, err)
	_ = s.body.Close()
}

// Event returns the current event.
func (s *ChatStream) Event() Event { return s.cur }

// Err returns the stream failure. A server-side error event is a *StreamError.
func (s *ChatStream) Err() error { return s.err }

// Result returns the accumulated reply. It is complete once Next returned false and Err is nil.
func (s *ChatStream) Result() Result {
	r := s.result
	r.Text = s.text.String()
	return r
}

// Close abandons the stream. The server stops the backend call without accounting it.
func (s *ChatStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}

// Collect drains the stream and returns the full reply.
func (s *ChatStream) Collect() (Result, error) {
	for s.Next() {
	}
	return s.Result(), s.Err()
}
