package quota

import (
	"context"
	"time"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// PolicyReader looks up rate limit policies.
type PolicyReader interface {
	GetPolicy(ctx context.Context, model, role string) (domain.RateLimitPolicy, bool, error)
}

// LedgerReader reads usage counters.
type LedgerReader interface {
	SumRequests(ctx context.Context, account, model string, day time.Time) (int64, error)
	SumTokens(ctx context.Context, account, model string, from, to time.Time) (int64, error)
}
