package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/llmgate/pkg/sse"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, append([]Option{WithToken("tok")}, opts...)...)
	require.NoError(t, err)
	return c
}

func writeSSE(t *testing.T, w http.ResponseWriter, events ...sse.Event) {
	t.Helper()
	w.Header().Set("Content-Type", sse.ContentType)
	w.WriteHeader(http.StatusOK)
	enc := sse.NewEncoder(w)
	for _, ev := range events {
		assert.NoError(t, enc.WriteEvent(ev))
	}
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("localhost:8080")
	require.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	cfg := &clientConfig{}
	hc := &http.Client{}
	logger := slog.Default()
	reg := prometheus.NewRegistry()

	WithToken("abc").apply(cfg)
	WithHTTPClient(hc).apply(cfg)
	WithUserAgent("ctl/1").apply(cfg)
	WithLogger(logger).apply(cfg)
	WithPrometheus(reg).apply(cfg)

	assert.Equal(t, "abc", cfg.token)
	assert.Same(t, hc, cfg.httpClient)
	assert.Equal(t, "ctl/1", cfg.userAgent)
	assert.Same(t, logger, cfg.logger)
	assert.Equal(t, reg, cfg.metricsReg)
}

func TestChat_Stream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Message)
		assert.Equal(t, ModeThinking, req.Mode)

		writeSSE(t, w,
			sse.Event{Name: "session", Data: []byte(`{"sessionId":"s-1","messageId":"m-1"}`)},
			sse.Event{Name: "token", Data: []byte(`{"text":"Hel"}`)},
			sse.Event{Name: "token", Data: []byte(`{"text":"lo"}`)},
			sse.Event{Name: "done", Data: []byte(`{"success":true,"tokens":42,"cost":3}`)},
		)
	})

	stream, err := c.Chat(context.Background(), ChatRequest{Message: "hello", Mode: ModeThinking})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	var types []EventType
	for stream.Next() {
		types = append(types, stream.Event().Type)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []EventType{EventSession, EventToken, EventToken, EventDone}, types)

	res := stream.Result()
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, int64(42), res.Tokens)
	assert.Equal(t, int64(3), res.CostCents)
	assert.False(t, stream.Next())
}

func TestChat_ErrorEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(t, w,
			sse.Event{Name: "session", Data: []byte(`{"sessionId":"s-1","messageId":"m-1"}`)},
			sse.Event{Name: "token", Data: []byte(`{"text":"par"}`)},
			sse.Event{Name: "error", Data: []byte(`{"message":"The AI service took too long to respond. Please try again."}`)},
		)
	})

	stream, err := c.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.NoError(t, err)

	res, err := stream.Collect()
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "too long")
	assert.Equal(t, "par", res.Text)
}

func TestChat_TruncatedStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(t, w, sse.Event{Name: "session", Data: []byte(`{"sessionId":"s-1"}`)})
	})

	stream, err := c.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.NoError(t, err)

	_, err = stream.Collect()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChat_QuotaExceeded(t *testing.T) {
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Reset", reset.Format(time.RFC3339))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"Rate limit exceeded","reason":"Daily request limit reached for gpt-5",`+
			`"resetAt":"2026-03-15T00:00:00Z","usage":{"daily":{"used":5,"limit":5},"monthly":{"used":0,"limit":0}}}`)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Message: "hi", Model: "gpt-5"})

	q, ok := IsQuotaExceeded(err)
	require.True(t, ok, "got %v", err)
	assert.Contains(t, q.Reason, "Daily request limit")
	assert.True(t, q.ResetAt.Equal(reset))
	assert.Equal(t, int64(5), q.Usage.Daily.Used)
}

func TestChat_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":"unknown_model","message":"model \"gpt-2\": unknown model"}`)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Message: "hi", Model: "gpt-2"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unknown_model", apiErr.Code)
	assert.ErrorIs(t, err, ErrBadRequest)
	_, quota := IsQuotaExceeded(err)
	assert.False(t, quota)
}

func TestChat_UnexpectedContentType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.Error(t, err)
}

func TestUsage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/usage", r.URL.Path)
		assert.Equal(t, "day", r.URL.Query().Get("period"))
		_, _ = io.WriteString(w, `{"period":"day","from":"2026-03-14T00:00:00Z","to":"2026-03-14T00:00:00Z",`+
			`"models":[{"model":"gpt-5","tokensUsed":120,"messages":2,"costCents":4}],`+
			`"total":{"model":"","tokensUsed":120,"messages":2,"costCents":4}}`)
	})

	report, err := c.Usage(context.Background(), PeriodDay)

	require.NoError(t, err)
	assert.Equal(t, PeriodDay, report.Period)
	require.Len(t, report.Models, 1)
	assert.Equal(t, int64(120), report.Total.TokensUsed)
}

func TestLimits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gpt-5", r.URL.Query().Get("model"))
		_, _ = io.WriteString(w, `{"model":"gpt-5","daily":{"used":1,"limit":5},"monthly":{"used":900,"limit":1000}}`)
	})

	l, err := c.Limits(context.Background(), "gpt-5")

	require.NoError(t, err)
	assert.Equal(t, int64(5), l.Daily.Limit)
	assert.Equal(t, int64(900), l.Monthly.Used)
}

func TestSetLimit_Forbidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var l RateLimit
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&l))
		assert.Equal(t, int64(10), l.DailyRequestLimit)
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":"forbidden","message":"forbidden"}`)
	})

	err := c.SetLimit(context.Background(), RateLimit{Model: "gpt-5", Role: "student", DailyRequestLimit: 10})

	assert.ErrorIs(t, err, ErrForbidden)
}

func TestObserver_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			_, _ = io.WriteString(w, `{"models":[{"name":"gpt-5","api":"responses"}]}`)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"reason":"Monthly token limit reached for gpt-5","resetAt":"2026-04-01T00:00:00Z"}`)
	}, WithPrometheus(reg))

	models, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)

	_, err = c.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.Error(t, err)

	// A second client on the same registry reuses the collectors.
	_, err = New("http://localhost:1", WithPrometheus(reg))
	require.NoError(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "llmgate_sdk_operations_total"))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.obs.metrics.operations.WithLabelValues("models", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.obs.metrics.operations.WithLabelValues("chat", "quota_exceeded")))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "ok", status(nil))
	assert.Equal(t, "quota_exceeded", status(&QuotaError{}))
	assert.Equal(t, "stream_error", status(&StreamError{}))
	assert.Equal(t, "error", status(errors.New("boom")))
}
