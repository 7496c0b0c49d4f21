package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/logger"
	chatuc "github.com/kailas-cloud/llmgate/internal/usecase/chat"
	"github.com/kailas-cloud/llmgate/pkg/sse"
)

const (
	defaultKeepAlive = 15 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsReadLimit      = 1 << 20
)

// Frame is the WebSocket envelope of one stream event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Chat handles POST /v1/chat and streams the reply as Server-Sent Events.
// Errors detected before the stream opens are plain JSON responses.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req chatuc.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	st, err := s.chat.Start(ctx, p, &req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := sse.NewEncoder(w)
	s.pump(ctx, cancel, st,
		func(ev domain.Event) error { return enc.Encode(ev.Name(), ev) },
		func() error { return enc.Comment("keep-alive") },
	)
}

// ChatSocket handles GET /v1/chat/ws. The first client frame is a chat
// request; the reply is streamed as {event, data} frames and the socket is
// closed after the terminal event.
func (s *Server) ChatSocket(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logger.FromContext(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsReadLimit)

	var req chatuc.Request
	if err := conn.ReadJSON(&req); err != nil {
		_ = s.writeFrame(conn, domain.Failed{Message: "Invalid request frame: " + err.Error()})
		s.closeSocket(conn, websocket.CloseUnsupportedData)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	st, err := s.chat.Start(ctx, p, &req)
	if err != nil {
		_ = s.writeFrameRaw(conn, domain.EventError, s.errorBody(r, err))
		s.closeSocket(conn, websocket.ClosePolicyViolation)
		return
	}

	// The reader only watches for the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.FromContext(ctx).Info("websocket closed", zap.Error(err))
				}
				return
			}
		}
	}()

	s.pump(ctx, cancel, st,
		func(ev domain.Event) error { return s.writeFrame(conn, ev) },
		func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
		},
	)
	if ctx.Err() == nil {
		s.closeSocket(conn, websocket.CloseNormalClosure)
	}
}

// pump forwards stream events to write until the stream ends. On a write
// failure the request is cancelled and the remaining events are drained so
// the producer can exit.
func (s *Server) pump(
	ctx context.Context, cancel context.CancelFunc, st *chatuc.Stream,
	write func(domain.Event) error, keepAlive func() error,
) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	events := st.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				logger.FromContext(ctx).Info("client write failed", zap.Error(err))
				cancel()
				drain(events)
				return
			}
		case <-ticker.C:
			if err := keepAlive(); err != nil {
				cancel()
				drain(events)
				return
			}
		case <-ctx.Done():
			drain(events)
			return
		}
	}
}

func drain(events <-chan domain.Event) {
	for range events {
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.writeFrameRaw(conn, ev.Name(), data)
}

func (s *Server) writeFrameRaw(conn *websocket.Conn, name string, data json.RawMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(Frame{Event: name, Data: data})
}

func (s *Server) closeSocket(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}

// errorBody renders err through the HTTP error chain and returns the JSON body.
func (s *Server) errorBody(r *http.Request, err error) json.RawMessage {
	rec := &bufferedResponse{header: make(http.Header)}
	s.handleDomainError(rec, r, err)
	body := bytes.TrimSpace(rec.body.Bytes())
	if !json.Valid(body) {
		body, _ = json.Marshal(ErrorResponse{Code: codeInternal, Message: "internal error"})
	}
	return body
}

// bufferedResponse captures a handler response in memory.
type bufferedResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedResponse) WriteHeader(status int) { b.status = status }

var _ http.ResponseWriter = (*bufferedResponse)(nil)
