// Package chat runs one conversational request through the quota gate and a
// backend, and reframes the backend output into the outward event protocol.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/logger"
	"github.com/kailas-cloud/llmgate/internal/metrics"
)

const (
	defaultHistoryLimit   = 30
	defaultBackendTimeout = 120 * time.Second
	finalizeTimeout       = 5 * time.Second
	maxMessageRunes       = 32000
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Request is one chat message from a client.
type Request struct {
	Message   string `json:"message"`
	Model     string `json:"model"`
	Mode      string `json:"mode"`
	SessionID string `json:"sessionId"`
}

// Deps are the collaborators of the Service. Filter is optional.
type Deps struct {
	Models   ModelCatalog
	Quota    QuotaGate
	Store    ConversationStore
	Ledger   UsageRecorder
	Cost     CostEstimator
	Filter   ContentFilter
	Backends map[domain.Variant]domain.Backend
}

// Config tunes the Service. Zero values select the defaults.
type Config struct {
	DefaultModel   string
	HistoryLimit   int
	BackendTimeout time.Duration

	// Location sets the ledger day boundary and must match the quota gate.
	Location *time.Location
	Now      func() time.Time
}

// Service orchestrates streaming chat requests.
type Service struct {
	models   ModelCatalog
	gate     QuotaGate
	store    ConversationStore
	ledger   UsageRecorder
	cost     CostEstimator
	filter   ContentFilter
	backends map[domain.Variant]domain.Backend

	defaultModel string
	historyLimit int
	timeout      time.Duration
	loc          *time.Location
	now          func() time.Time
}

// New creates a chat Service.
func New(d Deps, cfg Config) *Service {
	s := &Service{
		models:       d.Models,
		gate:         d.Quota,
		store:        d.Store,
		ledger:       d.Ledger,
		cost:         d.Cost,
		filter:       d.Filter,
		backends:     d.Backends,
		defaultModel: cfg.DefaultModel,
		historyLimit: cfg.HistoryLimit,
		timeout:      cfg.BackendTimeout,
		loc:          cfg.Location,
		now:          cfg.Now,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = defaultHistoryLimit
	}
	if s.timeout <= 0 {
		s.timeout = defaultBackendTimeout
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start validates and gates req, persists the user turn and loads history.
// Errors returned here happen before any backend call. On success the
// returned Stream is driven by a goroutine until ctx is cancelled or a
// terminal event is delivered.
func (s *Service) Start(ctx context.Context, p domain.Principal, req *Request) (*Stream, error) {
	if p.AccountID == "" {
		return nil, fmt.Errorf("missing account: %w", domain.ErrInvalidRequest)
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, fmt.Errorf("message is required: %w", domain.ErrInvalidRequest)
	}
	if utf8.RuneCountInString(msg) > maxMessageRunes {
		return nil, fmt.Errorf("message exceeds %d characters: %w", maxMessageRunes, domain.ErrInvalidRequest)
	}
	if req.SessionID != "" && !sessionIDPattern.MatchString(req.SessionID) {
		return nil, fmt.Errorf("malformed session id: %w", domain.ErrInvalidRequest)
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = s.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("model is required: %w", domain.ErrInvalidRequest)
	}
	variant, ok := s.models.Variant(model)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", model, domain.ErrUnknownModel)
	}
	backend, ok := s.backends[variant]
	if !ok {
		return nil, fmt.Errorf("model %q: no %s backend: %w", model, variant, domain.ErrUnknownModel)
	}

	ctx, log := logger.WithFields(ctx,
		zap.String("account_id", p.AccountID),
		zap.String("model", model),
		zap.String("variant", string(variant)),
	)

	st := newStream()
	st.Model = model
	st.Variant = variant

	st.setState(StateGating)
	decision, err := s.gate.Check(ctx, p.AccountID, p.Role, model)
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if !decision.Allowed {
		metrics.QuotaDenialsTotal.WithLabelValues(model, string(decision.Kind)).Inc()
		log.Info("quota denied",
			zap.String("kind", string(decision.Kind)),
			zap.Time("reset_at", decision.ResetAt),
		)
		return nil, decision.Err()
	}

	// No backend call, moderation included, precedes the quota decision.
	if s.filter != nil {
		flagged, err := s.filter.Moderate(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("moderation: %w", err)
		}
		if flagged {
			log.Info("message rejected by moderation")
			return nil, domain.ErrContentRejected
		}
	}

	session := req.SessionID
	if session == "" {
		session = uuid.NewString()
	}
	if err := s.store.EnsureSession(ctx, p.AccountID, session, domain.SessionTitle(msg)); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	userTurn, err := s.store.AppendTurn(ctx, p.AccountID, session, domain.ConversationTurn{
		Role: domain.RoleUser,
		Text: msg,
	})
	if err != nil {
		return nil, fmt.Errorf("save user turn: %w", err)
	}
	history, err := s.store.LoadRecentTurns(ctx, p.AccountID, session, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	st.SessionID = session
	st.MessageID = userTurn.ID
	ctx, _ = logger.WithFields(ctx, zap.String("session_id", session))

	nreq := &domain.NormalizedRequest{
		Model:   model,
		Variant: variant,
		Turns:   history,
		Tuning:  s.models.Tuning(model, mode),
	}

	metrics.ActiveStreams.Inc()
	go s.run(ctx, st, p, backend, nreq)
	return st, nil
}

func (s *Service) run(
	ctx context.Context, st *Stream, p domain.Principal, backend domain.Backend, req *domain.NormalizedRequest,
) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("chat stream panic", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
			if !st.terminated {
				st.setState(StateErrored)
				st.send(ctx, domain.Failed{Message: msgInternal})
			}
		}
		metrics.ChatRequestsTotal.WithLabelValues(req.Model, string(req.Variant), outcome(err)).Inc()
		metrics.ActiveStreams.Dec()
		close(st.events)
		close(st.done)
	}()

	err = s.dispatch(ctx, st, p, backend, req)
}

func (s *Service) dispatch(
	ctx context.Context, st *Stream, p domain.Principal, backend domain.Backend, req *domain.NormalizedRequest,
) error {
	st.setState(StateDispatching)
	if !st.send(ctx, domain.SessionStarted{SessionID: st.SessionID, MessageID: st.MessageID}) {
		return s.fail(ctx, ctx, st, errConsumerGone)
	}

	bctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	labels := []string{req.Model, string(req.Variant)}
	started := time.Now()

	fs, err := backend.Stream(bctx, req)
	if err != nil {
		return s.fail(ctx, bctx, st, err)
	}
	defer func() { _ = fs.Close() }()

	st.setState(StateStreaming)
	text, err := relay(ctx, st, fs, func() {
		metrics.BackendFirstTokenSeconds.WithLabelValues(labels...).Observe(time.Since(started).Seconds())
	})
	if err != nil {
		return s.fail(ctx, bctx, st, err)
	}
	metrics.BackendRequestDuration.WithLabelValues(labels...).Observe(time.Since(started).Seconds())

	return s.finalize(ctx, st, p, req, text, fs.Usage())
}

// fail ends the stream without accounting. A cancelled consumer gets no event.
func (s *Service) fail(ctx, bctx context.Context, st *Stream, err error) error {
	log := logger.FromContext(ctx)
	st.setState(StateErrored)

	if errors.Is(err, errConsumerGone) || ctx.Err() != nil {
		log.Info("chat stream cancelled by client", zap.Error(err))
		return errConsumerGone
	}
	if errors.Is(bctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", domain.ErrBackendTimeout, s.timeout, err)
	}

	log.Warn("chat stream failed", zap.Error(err))
	st.terminated = true
	st.send(ctx, domain.Failed{Message: failureMessage(err)})
	return err
}

// finalize prices the response, persists it and records usage exactly once.
func (s *Service) finalize(
	ctx context.Context, st *Stream, p domain.Principal, req *domain.NormalizedRequest, text string, usage domain.TokenUsage,
) error {
	st.setState(StateFinalizing)
	log := logger.FromContext(ctx)

	usage = usage.Clamp()
	cost := s.cost.Estimate(req.Model, usage)

	// Usage is final at this point, so a client disconnect must not skip accounting.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	_, err := s.store.AppendTurn(fctx, p.AccountID, st.SessionID, domain.ConversationTurn{
		Role:      domain.RoleAssistant,
		Text:      text,
		Model:     req.Model,
		Tokens:    usage.Total(),
		CostCents: cost,
	})
	if err != nil {
		log.Error("failed to save assistant turn", zap.Error(err))
	}

	rec := domain.UsageRecord{
		AccountID:    p.AccountID,
		Day:          s.today(),
		Model:        req.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Requests:     1,
		CostCents:    cost,
	}
	if err := s.ledger.IncrementUsage(fctx, rec); err != nil {
		metrics.LedgerWriteFailuresTotal.Inc()
		log.Error("failed to record usage",
			zap.Error(err),
			zap.Int64("input_tokens", rec.InputTokens),
			zap.Int64("output_tokens", rec.OutputTokens),
			zap.Int64("cost_cents", cost),
		)
	}

	metrics.TokensTotal.WithLabelValues(req.Model, "input").Add(float64(usage.InputTokens))
	metrics.TokensTotal.WithLabelValues(req.Model, "output").Add(float64(usage.OutputTokens))
	metrics.TokensTotal.WithLabelValues(req.Model, "reasoning").Add(float64(usage.ReasoningTokens))
	metrics.CostCentsTotal.WithLabelValues(req.Model).Add(float64(cost))

	log.Info("chat completed",
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Int64("cost_cents", cost),
	)

	st.setState(StateDone)
	st.terminated = true
	st.send(ctx, domain.Completed{Success: true, Tokens: usage.Total(), Cost: cost})
	return nil
}

// today is local midnight in the ledger's time zone.
func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}
