// Package chi exposes the gateway over HTTP, Server-Sent Events and WebSocket.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/catalog"
	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/logger"
	chatuc "github.com/kailas-cloud/llmgate/internal/usecase/chat"
	healthuc "github.com/kailas-cloud/llmgate/internal/usecase/health"
	limitsuc "github.com/kailas-cloud/llmgate/internal/usecase/limits"
	usageuc "github.com/kailas-cloud/llmgate/internal/usecase/usage"
)

// Error codes of ErrorResponse.
const (
	codeBadRequest         = "bad_request"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeNotFound           = "not_found"
	codeUnknownModel       = "unknown_model"
	codeContentRejected    = "content_rejected"
	codeQuotaUnavailable   = "quota_unavailable"
	codeBackendUnavailable = "backend_unavailable"
	codeBackendRejected    = "backend_rejected"
	codeInternal           = "internal_error"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every non-quota error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QuotaResponse is the JSON body of a 429 quota denial.
type QuotaResponse struct {
	Error   string               `json:"error"`
	Reason  string               `json:"reason"`
	ResetAt time.Time            `json:"resetAt"`
	Usage   domain.QuotaSnapshot `json:"usage"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the gateway API.
type Server struct {
	chat          *chatuc.Service
	usage         *usageuc.Service
	limits        *limitsuc.Service
	models        *catalog.Catalog
	health        *healthuc.Service
	upgrader      websocket.Upgrader
	keepAlive     time.Duration
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	chat *chatuc.Service,
	usage *usageuc.Service,
	limits *limitsuc.Service,
	models *catalog.Catalog,
	health *healthuc.Service,
) *Server {
	s := &Server{
		chat:      chat,
		usage:     usage,
		limits:    limits,
		models:    models,
		health:    health,
		keepAlive: defaultKeepAlive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.errorHandlers = []errorHandler{
		quotaDeniedHandler,
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrUnknownModel, http.StatusBadRequest, codeUnknownModel),
		sentinelHandler(domain.ErrContentRejected, http.StatusBadRequest, codeContentRejected),
		sentinelHandler(domain.ErrForbidden, http.StatusForbidden, codeForbidden),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrQuotaUnavailable, http.StatusServiceUnavailable, codeQuotaUnavailable),
		backendRejectedHandler,
		sentinelHandler(domain.ErrBackendUnavailable, http.StatusBadGateway, codeBackendUnavailable),
	}
	return s
}

// WithOriginCheck restricts WebSocket upgrades to origins accepted by check.
func (s *Server) WithOriginCheck(check func(r *http.Request) bool) *Server {
	s.upgrader.CheckOrigin = check
	return s
}

// WithKeepAlive sets the SSE keep-alive comment interval.
func (s *Server) WithKeepAlive(d time.Duration) *Server {
	if d > 0 {
		s.keepAlive = d
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.Chat)
		r.Get("/chat/ws", s.ChatSocket)
		r.Get("/models", s.ListModels)
		r.Get("/usage", s.GetUsage)
		r.Get("/usage/limits", s.GetLimits)
		r.Get("/admin/limits", s.ListPolicies)
		r.Put("/admin/limits", s.SetPolicy)
	})
}

// ModelInfo describes one servable model.
type ModelInfo struct {
	Name      string                `json:"name"`
	API       domain.Variant        `json:"api"`
	Pricing   ModelPricing          `json:"pricing"`
	Qualities []domain.ImageQuality `json:"qualities,omitempty"`
}

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	Input     float64 `json:"input"`
	Output    float64 `json:"output"`
	Reasoning float64 `json:"reasoning,omitempty"`
}

// ListModels handles GET /v1/models.
func (s *Server) ListModels(w http.ResponseWriter, _ *http.Request) {
	names := s.models.Names()
	items := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		m, _ := s.models.Lookup(name)
		info := ModelInfo{
			Name: name,
			API:  m.Variant,
			Pricing: ModelPricing{
				Input:     m.Pricing.Input,
				Output:    m.Pricing.Output,
				Reasoning: m.Pricing.Reasoning,
			},
		}
		if m.Quality {
			info.Qualities = []domain.ImageQuality{
				s.models.QualityTier(name, "low"),
				s.models.QualityTier(name, "high"),
			}
		}
		items = append(items, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": items})
}

// GetUsage handles GET /v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	period, err := usageuc.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	report, err := s.usage.GetReport(r.Context(), p.AccountID, period)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if report.Models == nil {
		report.Models = []domain.ModelUsage{}
	}
	writeJSON(w, http.StatusOK, report)
}

// LimitsResponse is the caller's quota snapshot for one model.
type LimitsResponse struct {
	Model string `json:"model"`
	domain.QuotaSnapshot
}

// GetLimits handles GET /v1/usage/limits.
func (s *Server) GetLimits(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	model := r.URL.Query().Get("model")

	snap, err := s.usage.GetLimits(r.Context(), p, model)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LimitsResponse{Model: model, QuotaSnapshot: snap})
}

// ListPolicies handles GET /v1/admin/limits.
func (s *Server) ListPolicies(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	policies, err := s.limits.List(r.Context(), p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if policies == nil {
		policies = []domain.RateLimitPolicy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"limits": policies})
}

// SetPolicy handles PUT /v1/admin/limits.
func (s *Server) SetPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req domain.RateLimitPolicy
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := s.limits.Set(r.Context(), p, req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("rate limit updated",
		zap.String("model", req.Model),
		zap.String("role", req.Role),
		zap.Int64("daily_request_limit", req.DailyRequestLimit),
		zap.Int64("monthly_token_limit", req.MonthlyTokenLimit),
		zap.String("by", p.AccountID),
	)
	writeJSON(w, http.StatusOK, req)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := domain.PrincipalFromContext(r.Context())
	if !ok || p.AccountID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, errMissingCredentials.Error())
		return domain.Principal{}, false
	}
	return p, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrUnknownModel,
		domain.ErrContentRejected,
		domain.ErrForbidden,
		domain.ErrNotFound,
		domain.ErrQuotaExceeded,
		domain.ErrQuotaUnavailable,
		domain.ErrBackendUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		if errors.Is(sentinel, domain.ErrInvalidRequest) || errors.Is(sentinel, domain.ErrUnknownModel) {
			// Validation messages name the offending field and are safe to return.
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return true
	}
}

// quotaDeniedHandler answers a quota denial with 429, X-RateLimit-Reset and the usage snapshot.
func quotaDeniedHandler(w http.ResponseWriter, err error, _ string) bool {
	var denied *domain.QuotaDeniedError
	if !errors.As(err, &denied) {
		return false
	}
	w.Header().Set("X-RateLimit-Reset", denied.ResetAt.UTC().Format(time.RFC3339))
	writeJSON(w, http.StatusTooManyRequests, QuotaResponse{
		Error:   "Rate limit exceeded",
		Reason:  denied.Reason,
		ResetAt: denied.ResetAt.UTC(),
		Usage:   denied.Usage,
	})
	return true
}

// backendRejectedHandler surfaces a backend 4xx message verbatim.
func backendRejectedHandler(w http.ResponseWriter, err error, _ string) bool {
	var rejected *domain.BackendRejectedError
	if !errors.As(err, &rejected) {
		return false
	}
	status := http.StatusBadGateway
	if rejected.Status == http.StatusTooManyRequests {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, codeBackendRejected, rejected.Message)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
