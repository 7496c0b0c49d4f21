package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/catalog"
	"github.com/kailas-cloud/llmgate/internal/config"
	"github.com/kailas-cloud/llmgate/internal/db"
	dbRedis "github.com/kailas-cloud/llmgate/internal/db/redis"
	"github.com/kailas-cloud/llmgate/internal/domain"
	logpkg "github.com/kailas-cloud/llmgate/internal/logger"
	"github.com/kailas-cloud/llmgate/internal/metrics"
	"github.com/kailas-cloud/llmgate/internal/repository/conversation"
	"github.com/kailas-cloud/llmgate/internal/repository/ledger"
	"github.com/kailas-cloud/llmgate/internal/repository/policy"
	chiTransport "github.com/kailas-cloud/llmgate/internal/transport/chi"
	openaiBackend "github.com/kailas-cloud/llmgate/internal/transport/openai"
	"github.com/kailas-cloud/llmgate/internal/transport/ssm"
	chatuc "github.com/kailas-cloud/llmgate/internal/usecase/chat"
	"github.com/kailas-cloud/llmgate/internal/usecase/cost"
	healthuc "github.com/kailas-cloud/llmgate/internal/usecase/health"
	limitsuc "github.com/kailas-cloud/llmgate/internal/usecase/limits"
	"github.com/kailas-cloud/llmgate/internal/usecase/quota"
	usageuc "github.com/kailas-cloud/llmgate/internal/usecase/usage"
	"github.com/kailas-cloud/llmgate/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting llmgate API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("conversation_driver", cfg.Conversation.Driver),
	)

	// redis and valkey speak the same protocol.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterHTTPMetrics()
	metrics.RegisterChatMetrics()

	loc, err := cfg.Quota.Location()
	if err != nil {
		logger.Fatal("Invalid quota timezone", zap.Error(err))
	}

	models := buildCatalog(cfg.Models)
	usageLedger := ledger.New(store, cfg.Storage.KeyPrefix)
	policies := policy.New(store, cfg.Storage.KeyPrefix)
	if n, err := policies.Seed(ctx, limitPolicies(cfg.Limits)); err != nil {
		logger.Fatal("Failed to seed rate limits", zap.Error(err))
	} else {
		logger.Info("Rate limits seeded", zap.Int("created", n), zap.Int("configured", len(cfg.Limits)))
	}

	convStore, err := buildConversationStore(ctx, cfg.Conversation, store, cfg.Storage.KeyPrefix)
	if err != nil {
		logger.Fatal("Failed to create conversation store", zap.Error(err))
	}

	apiKey, err := resolveAPIKey(ctx, cfg.Backend)
	if err != nil {
		logger.Fatal("Failed to resolve backend API key", zap.Error(err))
	}
	client := openaiBackend.New(&openaiBackend.Config{
		APIKey:       apiKey,
		BaseURL:      cfg.Backend.BaseURL,
		Organization: cfg.Backend.Organization,
		Logger:       logger,
	})

	// Pass nil interface (not typed nil pointer) when moderation is off.
	var filter chatuc.ContentFilter
	if cfg.Backend.Moderation {
		filter = client
	}

	gate := quota.New(policies, usageLedger, quota.Config{
		ExemptRoles: cfg.Quota.ExemptRoles,
		Location:    loc,
	})

	chatSvc := chatuc.New(chatuc.Deps{
		Models: models,
		Quota:  gate,
		Store:  convStore,
		Ledger: usageLedger,
		Cost:   cost.New(models),
		Filter: filter,
		Backends: map[domain.Variant]domain.Backend{
			domain.VariantChat:      openaiBackend.NewChatBackend(client),
			domain.VariantResponses: openaiBackend.NewResponsesBackend(client),
		},
	}, chatuc.Config{
		DefaultModel:   cfg.Backend.DefaultModel,
		HistoryLimit:   cfg.Conversation.HistoryLimit,
		BackendTimeout: cfg.Backend.Timeout(),
		Location:       loc,
	})
	usageSvc := usageuc.New(usageLedger, gate, models, loc)
	limitsSvc := limitsuc.New(policies, models)
	healthSvc := healthuc.New(store, client)

	server := chiTransport.NewServer(chatSvc, usageSvc, limitsSvc, models, healthSvc)
	auth := chiTransport.NewAuthenticator(apiKeys(cfg.Auth.APIKeys), cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if !auth.Enabled() {
		logger.Warn("Authentication disabled, all requests run as " + chiTransport.AnonymousAccount)
	}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(auth.Middleware())
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildCatalog converts the configured models into the capability table.
func buildCatalog(cfgModels map[string]config.ModelConfig) *catalog.Catalog {
	models := make([]catalog.Model, 0, len(cfgModels))
	for name, m := range cfgModels {
		entry := catalog.Model{
			Name:    name,
			Variant: domain.Variant(m.API),
			Pricing: domain.Pricing{
				Input:     m.Pricing.Input,
				Output:    m.Pricing.Output,
				Reasoning: m.Pricing.Reasoning,
			},
			Quality: m.Quality,
			Modes:   make(map[domain.Mode]domain.Tuning, len(m.Modes)),
		}
		for mode, t := range m.Modes {
			tuning := domain.Tuning{
				MaxOutputTokens: t.MaxOutputTokens,
				ReasoningEffort: t.ReasoningEffort,
				Verbosity:       t.Verbosity,
			}
			if t.Temperature != nil {
				tuning.Temperature = *t.Temperature
			}
			if t.TopP != nil {
				tuning.TopP = *t.TopP
			}
			entry.Modes[domain.Mode(mode)] = tuning
		}
		models = append(models, entry)
	}
	return catalog.New(models...)
}

func limitPolicies(limits []config.LimitConfig) []domain.RateLimitPolicy {
	out := make([]domain.RateLimitPolicy, 0, len(limits))
	for _, l := range limits {
		out = append(out, domain.RateLimitPolicy{
			Model:             l.Model,
			Role:              l.Role,
			DailyRequestLimit: l.DailyRequestLimit,
			MonthlyTokenLimit: l.MonthlyTokenLimit,
		})
	}
	return out
}

func apiKeys(keys []config.APIKeyConfig) []chiTransport.APIKey {
	out := make([]chiTransport.APIKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, chiTransport.APIKey{Key: k.Key, Account: k.Account, Role: k.Role})
	}
	return out
}

// buildConversationStore selects the turn store. DynamoDB uses the default AWS credential chain.
func buildConversationStore(
	ctx context.Context, cfg config.ConversationConfig, store db.Store, prefix string,
) (chatuc.ConversationStore, error) {
	switch cfg.Driver {
	case "dynamodb":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return conversation.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.TTL())
	default:
		return conversation.NewRedisStore(store, prefix, cfg.TTL()), nil
	}
}

// resolveAPIKey prefers the inline key and falls back to SSM Parameter Store.
func resolveAPIKey(ctx context.Context, cfg config.BackendConfig) (string, error) {
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	secret, err := ssm.NewSecret(awsssm.NewFromConfig(awsCfg), cfg.APIKeySSM)
	if err != nil {
		return "", err
	}
	return secret.Value(ctx)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
