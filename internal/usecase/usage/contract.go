package usage

import (
	"context"
	"time"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// LedgerSummarizer aggregates usage per model over a date range.
type LedgerSummarizer interface {
	Summary(ctx context.Context, account string, from, to time.Time) ([]domain.ModelUsage, error)
}

// QuotaSnapshotter reports quota counters for one model.
type QuotaSnapshotter interface {
	Snapshot(ctx context.Context, account, role, model string) (domain.QuotaSnapshot, error)
}

// ModelChecker tells whether a model is served.
type ModelChecker interface {
	Variant(model string) (domain.Variant, bool)
}
