package limits

import (
	"context"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// PolicyRepository stores rate limit policies.
type PolicyRepository interface {
	SetPolicy(ctx context.Context, p domain.RateLimitPolicy) error
	List(ctx context.Context) ([]domain.RateLimitPolicy, error)
}

// ModelChecker tells whether a model is served.
type ModelChecker interface {
	Variant(model string) (domain.Variant, bool)
}
