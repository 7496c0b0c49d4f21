package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/metrics"
	"github.com/kailas-cloud/llmgate/internal/usecase/quota"
)

// --- Mocks ---

type stubCatalog struct {
	variants map[string]domain.Variant
	tuning   domain.Tuning
	gotMode  domain.Mode
}

func (c *stubCatalog) Variant(model string) (domain.Variant, bool) {
	v, ok := c.variants[model]
	return v, ok
}

func (c *stubCatalog) Tuning(_ string, mode domain.Mode) domain.Tuning {
	c.gotMode = mode
	return c.tuning
}

type stubGate struct {
	decision quota.Decision
	err      error
	calls    int
	gotRole  string
}

func (g *stubGate) Check(_ context.Context, _, role, _ string) (quota.Decision, error) {
	g.calls++
	g.gotRole = role
	if g.err != nil {
		return quota.Decision{}, g.err
	}
	return g.decision, nil
}

type memStore struct {
	mu        sync.Mutex
	turns     map[string][]domain.ConversationTurn
	titles    map[string]string
	gotLimit  int
	appendErr error
	failRole  domain.Role
}

func newMemStore() *memStore {
	return &memStore{turns: map[string][]domain.ConversationTurn{}, titles: map[string]string{}}
}

func (m *memStore) EnsureSession(_ context.Context, account, session, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := account + "/" + session
	if _, ok := m.titles[key]; !ok {
		m.titles[key] = title
	}
	return nil
}

func (m *memStore) AppendTurn(
	_ context.Context, account, session string, turn domain.ConversationTurn,
) (domain.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil && turn.Role == m.failRole {
		return domain.ConversationTurn{}, m.appendErr
	}
	key := account + "/" + session
	turn.ID = fmt.Sprintf("turn-%d", len(m.turns[key])+1)
	m.turns[key] = append(m.turns[key], turn)
	return turn, nil
}

func (m *memStore) LoadRecentTurns(_ context.Context, account, session string, limit int) ([]domain.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gotLimit = limit
	all := m.turns[account+"/"+session]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]domain.ConversationTurn(nil), all...), nil
}

func (m *memStore) session(account, session string) []domain.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ConversationTurn(nil), m.turns[account+"/"+session]...)
}

type recordingLedger struct {
	mu      sync.Mutex
	records []domain.UsageRecord
	err     error
}

func (l *recordingLedger) IncrementUsage(_ context.Context, rec domain.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return l.err
}

func (l *recordingLedger) all() []domain.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.UsageRecord(nil), l.records...)
}

type flatCost struct{}

// Estimate charges one cent per ten tokens.
func (flatCost) Estimate(_ string, u domain.TokenUsage) int64 { return u.Total() / 10 }

type stubFilter struct {
	flagged bool
	err     error
	calls   int
}

func (f *stubFilter) Moderate(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.flagged, f.err
}

// scriptStream yields fragments, then fails with err or finishes with usage.
type scriptStream struct {
	fragments []string
	usage     domain.TokenUsage
	err       error
	endless   bool

	pos    int
	cur    string
	closed atomic.Bool
}

func (s *scriptStream) Next() bool {
	if s.closed.Load() {
		return false
	}
	if s.endless {
		s.cur = "x"
		return true
	}
	if s.pos >= len(s.fragments) {
		return false
	}
	s.cur = s.fragments[s.pos]
	s.pos++
	return true
}

func (s *scriptStream) Fragment() string { return s.cur }

func (s *scriptStream) Usage() domain.TokenUsage { return s.usage }

func (s *scriptStream) Err() error {
	if s.pos >= len(s.fragments) {
		return s.err
	}
	return nil
}

func (s *scriptStream) Close() error {
	s.closed.Store(true)
	return nil
}

type stubBackend struct {
	stream  *scriptStream
	openErr error
	block   bool
	panics  bool

	mu    sync.Mutex
	calls int
	req   *domain.NormalizedRequest
}

func (b *stubBackend) Stream(ctx context.Context, req *domain.NormalizedRequest) (domain.FragmentStream, error) {
	b.mu.Lock()
	b.calls++
	b.req = req
	b.mu.Unlock()

	switch {
	case b.panics:
		panic("backend exploded")
	case b.block:
		<-ctx.Done()
		return nil, ctx.Err()
	case b.openErr != nil:
		return nil, b.openErr
	}
	return b.stream, nil
}

func (b *stubBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// --- Helpers ---

const testModel = "gpt-4o-mini"

var student = domain.Principal{AccountID: "acc-1", Role: "student"}

type fixture struct {
	catalog *stubCatalog
	gate    *stubGate
	store   *memStore
	ledger  *recordingLedger
	backend *stubBackend
	filter  *stubFilter
	svc     *Service
}

func newFixture(t *testing.T, backend *stubBackend, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &stubCatalog{
			variants: map[string]domain.Variant{
				testModel: domain.VariantChat,
				"gpt-5":   domain.VariantResponses,
			},
			tuning: domain.Tuning{Temperature: 0.7, TopP: 1, MaxOutputTokens: 2048},
		},
		gate:    &stubGate{decision: quota.Decision{Allowed: true}},
		store:   newMemStore(),
		ledger:  &recordingLedger{},
		backend: backend,
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC) }
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	f.svc = New(Deps{
		Models: f.catalog,
		Quota:  f.gate,
		Store:  f.store,
		Ledger: f.ledger,
		Cost:   flatCost{},
		Backends: map[domain.Variant]domain.Backend{
			domain.VariantChat:      backend,
			domain.VariantResponses: backend,
		},
	}, cfg)
	return f
}

func (f *fixture) withFilter(filter *stubFilter) {
	f.filter = filter
	f.svc.filter = filter
}

// collect drains the stream until it is closed.
func collect(t *testing.T, st *Stream) []domain.Event {
	t.Helper()
	var events []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close, got %d events", len(events))
		}
	}
}

func names(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Name()
	}
	return out
}

// shape collapses runs of token events so streams of different length compare equal.
func shape(events []domain.Event) []string {
	var out []string
	for _, n := range names(events) {
		if n == domain.EventToken && len(out) > 0 && out[len(out)-1] == domain.EventToken {
			continue
		}
		out = append(out, n)
	}
	return out
}

func waitDone(t *testing.T, st *Stream) {
	t.Helper()
	select {
	case <-st.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("producer goroutine did not exit")
	}
}

// --- Tests ---

func TestStart_StreamsFragmentsInOrder(t *testing.T) {
	stream := &scriptStream{
		fragments: []string{"Hel", "lo ", "world"},
		usage:     domain.TokenUsage{InputTokens: 12, OutputTokens: 8},
	}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi there", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	require.Equal(t, []string{"session", "token", "token", "token", "done"}, names(events))

	started := events[0].(domain.SessionStarted)
	assert.Equal(t, st.SessionID, started.SessionID)
	assert.Equal(t, st.MessageID, started.MessageID)
	assert.NotEmpty(t, started.SessionID)

	assert.Equal(t, domain.Token{Text: "Hel"}, events[1])
	assert.Equal(t, domain.Token{Text: "lo "}, events[2])
	assert.Equal(t, domain.Token{Text: "world"}, events[3])
	assert.Equal(t, domain.Completed{Success: true, Tokens: 20, Cost: 2}, events[4])

	waitDone(t, st)
	assert.Equal(t, StateDone, st.State())
	assert.True(t, stream.closed.Load(), "backend stream must be closed")
}

func TestStart_RecordsUsageExactlyOnce(t *testing.T) {
	stream := &scriptStream{
		fragments: []string{"ok"},
		usage:     domain.TokenUsage{InputTokens: 100, OutputTokens: 40, ReasoningTokens: 30},
	}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "count me", Model: testModel})
	require.NoError(t, err)
	collect(t, st)
	waitDone(t, st)

	records := f.ledger.all()
	require.Len(t, records, 1)
	assert.Equal(t, domain.UsageRecord{
		AccountID:    "acc-1",
		Day:          time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Model:        testModel,
		InputTokens:  100,
		OutputTokens: 40,
		Requests:     1,
		CostCents:    14,
	}, records[0])
}

func TestStart_PersistsBothTurns(t *testing.T) {
	stream := &scriptStream{
		fragments: []string{"Hello", " back"},
		usage:     domain.TokenUsage{InputTokens: 5, OutputTokens: 5},
	}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "  hello  ", Model: testModel})
	require.NoError(t, err)
	collect(t, st)
	waitDone(t, st)

	turns := f.store.session("acc-1", st.SessionID)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Equal(t, st.MessageID, turns[0].ID)

	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hello back", turns[1].Text)
	assert.Equal(t, testModel, turns[1].Model)
	assert.Equal(t, int64(10), turns[1].Tokens)
	assert.Equal(t, int64(1), turns[1].CostCents)

	assert.Equal(t, "hello", f.store.titles["acc-1/"+st.SessionID])
}

func TestStart_SendsHistoryAndTuning(t *testing.T) {
	backend := &stubBackend{stream: &scriptStream{fragments: []string{"a"}}}
	f := newFixture(t, backend, Config{HistoryLimit: 2})

	const session = "sess-1"
	for _, text := range []string{"first", "second", "third"} {
		_, err := f.store.AppendTurn(context.Background(), "acc-1", session, domain.ConversationTurn{
			Role: domain.RoleUser, Text: text,
		})
		require.NoError(t, err)
	}

	st, err := f.svc.Start(context.Background(), student, &Request{
		Message: "fourth", Model: "gpt-5", Mode: "thinking", SessionID: session,
	})
	require.NoError(t, err)
	collect(t, st)

	assert.Equal(t, 2, f.store.gotLimit)
	require.NotNil(t, backend.req)
	assert.Equal(t, "gpt-5", backend.req.Model)
	assert.Equal(t, domain.VariantResponses, backend.req.Variant)
	require.Len(t, backend.req.Turns, 2)
	assert.Equal(t, "third", backend.req.Turns[0].Text)
	assert.Equal(t, "fourth", backend.req.Turns[1].Text)
	assert.Equal(t, domain.ModeThinking, f.catalog.gotMode)
	assert.Equal(t, f.catalog.tuning, backend.req.Tuning)
}

func TestStart_DefaultHistoryLimit(t *testing.T) {
	f := newFixture(t, &stubBackend{stream: &scriptStream{fragments: []string{"a"}}}, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.NoError(t, err)
	collect(t, st)

	assert.Equal(t, 30, f.store.gotLimit)
}

func TestStart_DefaultModel(t *testing.T) {
	backend := &stubBackend{stream: &scriptStream{fragments: []string{"a"}}}
	f := newFixture(t, backend, Config{DefaultModel: testModel})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi"})
	require.NoError(t, err)
	collect(t, st)

	assert.Equal(t, testModel, st.Model)
	assert.Equal(t, testModel, backend.req.Model)
}

func TestStart_QuotaDenied(t *testing.T) {
	backend := &stubBackend{stream: &scriptStream{fragments: []string{"never"}}}
	f := newFixture(t, backend, Config{})
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	f.gate.decision = quota.Decision{
		Kind:    domain.QuotaDaily,
		Reason:  "Daily request limit reached for " + testModel,
		ResetAt: reset,
		Usage:   &domain.QuotaSnapshot{Daily: domain.QuotaUsage{Used: 5, Limit: 5}},
	}
	before := testutil.ToFloat64(metrics.QuotaDenialsTotal.WithLabelValues(testModel, "daily"))

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "one more", Model: testModel})
	require.Nil(t, st)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	var denied *domain.QuotaDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Contains(t, denied.Reason, "Daily")
	assert.Equal(t, reset, denied.ResetAt)
	assert.Equal(t, int64(5), denied.Usage.Daily.Used)

	assert.Equal(t, 0, backend.callCount(), "backend must not be called")
	assert.Empty(t, f.ledger.all(), "ledger must not change")
	assert.Empty(t, f.store.turns, "no turn is stored for a denied request")
	assert.Equal(t, "student", f.gate.gotRole)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.QuotaDenialsTotal.WithLabelValues(testModel, "daily")))
}

func TestStart_QuotaUnavailable(t *testing.T) {
	backend := &stubBackend{stream: &scriptStream{}}
	f := newFixture(t, backend, Config{})
	f.gate.err = fmt.Errorf("read: %w", domain.ErrQuotaUnavailable)

	_, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.ErrorIs(t, err, domain.ErrQuotaUnavailable)
	assert.Equal(t, 0, backend.callCount())
}

func TestStart_Validation(t *testing.T) {
	tests := []struct {
		name    string
		p       domain.Principal
		req     Request
		wantErr error
	}{
		{"empty message", student, Request{Message: "   ", Model: testModel}, domain.ErrInvalidRequest},
		{"too long", student, Request{Message: strings.Repeat("a", maxMessageRunes+1), Model: testModel}, domain.ErrInvalidRequest},
		{"no account", domain.Principal{}, Request{Message: "hi", Model: testModel}, domain.ErrInvalidRequest},
		{"bad mode", student, Request{Message: "hi", Model: testModel, Mode: "turbo"}, domain.ErrInvalidRequest},
		{"bad session", student, Request{Message: "hi", Model: testModel, SessionID: "a:b"}, domain.ErrInvalidRequest},
		{"no model", student, Request{Message: "hi"}, domain.ErrInvalidRequest},
		{"unknown model", student, Request{Message: "hi", Model: "gpt-2"}, domain.ErrUnknownModel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &stubBackend{stream: &scriptStream{}}
			f := newFixture(t, backend, Config{})

			st, err := f.svc.Start(context.Background(), tc.p, &tc.req)
			require.Nil(t, st)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 0, f.gate.calls)
			assert.Equal(t, 0, backend.callCount())
		})
	}
}

func TestStart_ModerationRejects(t *testing.T) {
	backend := &stubBackend{stream: &scriptStream{}}
	f := newFixture(t, backend, Config{})
	f.withFilter(&stubFilter{flagged: true})

	_, err := f.svc.Start(context.Background(), student, &Request{Message: "bad words", Model: testModel})
	require.ErrorIs(t, err, domain.ErrContentRejected)
	assert.Equal(t, 1, f.gate.calls)
	assert.Equal(t, 1, f.filter.calls)
	assert.Equal(t, 0, backend.callCount())
	assert.Empty(t, f.store.turns, "no turn is stored for rejected content")
}

func TestStart_QuotaDeniedSkipsModeration(t *testing.T) {
	backend := &stubBackend{stream: &scriptStream{}}
	f := newFixture(t, backend, Config{})
	f.withFilter(&stubFilter{})
	f.gate.decision = quota.Decision{
		Kind:    domain.QuotaDaily,
		Reason:  "Daily request limit reached for " + testModel,
		ResetAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	}

	_, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 1, f.gate.calls)
	assert.Equal(t, 0, f.filter.calls, "moderation must not run for a denied request")
	assert.Equal(t, 0, backend.callCount())
}

func TestStart_ModerationError(t *testing.T) {
	f := newFixture(t, &stubBackend{stream: &scriptStream{}}, Config{})
	f.withFilter(&stubFilter{err: domain.ErrBackendUnavailable})

	_, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestStart_BlockingFallbackHasStreamingShape(t *testing.T) {
	streaming := newFixture(t, &stubBackend{stream: &scriptStream{
		fragments: []string{"The ", "answer"},
		usage:     domain.TokenUsage{InputTokens: 3, OutputTokens: 2},
	}}, Config{})
	fallback := newFixture(t, &stubBackend{stream: &scriptStream{
		fragments: []string{"The answer"},
		usage:     domain.TokenUsage{InputTokens: 3, OutputTokens: 2},
	}}, Config{})

	a, err := streaming.svc.Start(context.Background(), student, &Request{Message: "q", Model: "gpt-5"})
	require.NoError(t, err)
	b, err := fallback.svc.Start(context.Background(), student, &Request{Message: "q", Model: "gpt-5"})
	require.NoError(t, err)

	streamed := collect(t, a)
	blocking := collect(t, b)

	assert.Equal(t, shape(streamed), shape(blocking))
	require.Equal(t, []string{"session", "token", "done"}, names(blocking))
	assert.Equal(t, domain.Token{Text: "The answer"}, blocking[1])
	assert.Equal(t, blocking[2], streamed[3])
}

func TestStart_OpenRejected(t *testing.T) {
	backend := &stubBackend{openErr: &domain.BackendRejectedError{
		Status: 400, Code: "context_length_exceeded", Message: "This model's maximum context length is 8192 tokens.",
	}}
	f := newFixture(t, backend, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "long", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	require.Equal(t, []string{"session", "error"}, names(events))
	assert.Equal(t, "This model's maximum context length is 8192 tokens.", events[1].(domain.Failed).Message)

	waitDone(t, st)
	assert.Equal(t, StateErrored, st.State())
	assert.Empty(t, f.ledger.all())
}

func TestStart_MidStreamFailure(t *testing.T) {
	stream := &scriptStream{
		fragments: []string{"partial"},
		err:       fmt.Errorf("read: %w", domain.ErrBackendUnavailable),
	}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	require.Equal(t, []string{"session", "token", "error"}, names(events))
	assert.Equal(t, msgUnavailable, events[2].(domain.Failed).Message)

	waitDone(t, st)
	assert.Equal(t, StateErrored, st.State())
	assert.Empty(t, f.ledger.all(), "failed streams are not accounted")
	assert.Len(t, f.store.session("acc-1", st.SessionID), 1, "no assistant turn for a failed stream")
	assert.True(t, stream.closed.Load())
}

func TestStart_BackendTimeout(t *testing.T) {
	f := newFixture(t, &stubBackend{block: true}, Config{BackendTimeout: 20 * time.Millisecond})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	require.Equal(t, []string{"session", "error"}, names(events))
	assert.Equal(t, msgTimeout, events[1].(domain.Failed).Message)
	assert.Empty(t, f.ledger.all())
}

func TestStart_ConsumerCancel(t *testing.T) {
	stream := &scriptStream{endless: true}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	st, err := f.svc.Start(ctx, student, &Request{Message: "go on forever", Model: testModel})
	require.NoError(t, err)

	ev := <-st.Events()
	require.Equal(t, domain.EventSession, ev.Name())
	ev = <-st.Events()
	require.Equal(t, domain.EventToken, ev.Name())

	cancel()
	waitDone(t, st)

	for ev := range st.Events() {
		assert.False(t, domain.Terminal(ev), "no terminal event after cancellation")
	}
	assert.Equal(t, StateErrored, st.State())
	assert.True(t, stream.closed.Load(), "backend stream must be closed on cancel")
	assert.Empty(t, f.ledger.all(), "cancelled streams are not accounted")
}

func TestStart_RecoversPanic(t *testing.T) {
	f := newFixture(t, &stubBackend{panics: true}, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "boom", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	require.Equal(t, []string{"session", "error"}, names(events))
	assert.Equal(t, msgInternal, events[1].(domain.Failed).Message)
	assert.Equal(t, StateErrored, st.State())
}

func TestStart_LedgerFailureStillCompletes(t *testing.T) {
	stream := &scriptStream{fragments: []string{"fine"}, usage: domain.TokenUsage{InputTokens: 1, OutputTokens: 1}}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})
	f.ledger.err = errors.New("redis down")
	before := testutil.ToFloat64(metrics.LedgerWriteFailuresTotal)

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	require.Equal(t, []string{"session", "token", "done"}, names(events))
	assert.True(t, events[2].(domain.Completed).Success)
	assert.Len(t, f.ledger.all(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LedgerWriteFailuresTotal))
}

func TestStart_AssistantTurnFailureStillAccounts(t *testing.T) {
	stream := &scriptStream{fragments: []string{"fine"}, usage: domain.TokenUsage{InputTokens: 1, OutputTokens: 1}}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})
	f.store.appendErr = errors.New("write failed")
	f.store.failRole = domain.RoleAssistant

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	require.Equal(t, []string{"session", "token", "done"}, names(events))
	assert.Len(t, f.ledger.all(), 1)
}

func TestStart_ClampsNegativeUsage(t *testing.T) {
	stream := &scriptStream{fragments: []string{"x"}, usage: domain.TokenUsage{InputTokens: -5, OutputTokens: 20}}
	f := newFixture(t, &stubBackend{stream: stream}, Config{})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.NoError(t, err)

	events := collect(t, st)
	assert.Equal(t, domain.Completed{Success: true, Tokens: 20, Cost: 2}, events[len(events)-1])
	require.Len(t, f.ledger.all(), 1)
	assert.Equal(t, int64(0), f.ledger.all()[0].InputTokens)
}

func TestStart_LedgerDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	// 22:30 UTC is already the next day at UTC+3.
	now := func() time.Time { return time.Date(2026, 3, 14, 22, 30, 0, 0, time.UTC) }
	stream := &scriptStream{fragments: []string{"x"}, usage: domain.TokenUsage{InputTokens: 1}}
	f := newFixture(t, &stubBackend{stream: stream}, Config{Location: loc, Now: now})

	st, err := f.svc.Start(context.Background(), student, &Request{Message: "hi", Model: testModel})
	require.NoError(t, err)
	collect(t, st)

	require.Len(t, f.ledger.all(), 1)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, loc), f.ledger.all()[0].Day)
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", fmt.Errorf("%w: slow", domain.ErrBackendTimeout), msgTimeout},
		{"unavailable", domain.ErrBackendUnavailable, msgUnavailable},
		{"rejected", &domain.BackendRejectedError{Status: 400, Message: "bad input"}, "bad input"},
		{"rate limited", &domain.BackendRejectedError{Status: 429}, msgRateLimited},
		{"rejected without message", &domain.BackendRejectedError{Status: 404}, msgUnavailable},
		{"unknown", errors.New("dial tcp 10.0.0.1: secret detail"), msgInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, failureMessage(tc.err))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "unknown", State(42).String())
}
