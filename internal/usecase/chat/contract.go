package chat

import (
	"context"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/usecase/quota"
)

// ModelCatalog resolves a model to its variant and mode tuning.
type ModelCatalog interface {
	Variant(model string) (domain.Variant, bool)
	Tuning(model string, mode domain.Mode) domain.Tuning
}

// QuotaGate decides whether a request may reach the backend.
type QuotaGate interface {
	Check(ctx context.Context, account, role, model string) (quota.Decision, error)
}

// ConversationStore persists session turns.
type ConversationStore interface {
	EnsureSession(ctx context.Context, account, session, title string) error
	AppendTurn(ctx context.Context, account, session string, turn domain.ConversationTurn) (domain.ConversationTurn, error)
	LoadRecentTurns(ctx context.Context, account, session string, limit int) ([]domain.ConversationTurn, error)
}

// UsageRecorder increments the usage ledger.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, rec domain.UsageRecord) error
}

// CostEstimator prices a usage record in cents.
type CostEstimator interface {
	Estimate(model string, usage domain.TokenUsage) int64
}

// ContentFilter flags messages that must not reach the backend.
type ContentFilter interface {
	Moderate(ctx context.Context, text string) (bool, error)
}
