package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a client-supplied period. Empty means month.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodMonth:
		return PeriodMonth, nil
	case PeriodDay:
		return PeriodDay, nil
	default:
		return "", fmt.Errorf("period %q: %w", s, domain.ErrInvalidRequest)
	}
}

// Report is the usage of one account over a period, grouped by model.
type Report struct {
	Period Period              `json:"period"`
	From   time.Time           `json:"from"`
	To     time.Time           `json:"to"`
	Models []domain.ModelUsage `json:"models"`
	Total  domain.ModelUsage   `json:"total"`
}

// Service handles usage reporting.
type Service struct {
	ledger LedgerSummarizer
	quota  QuotaSnapshotter
	models ModelChecker
	loc    *time.Location
	now    func() time.Time
}

// New creates a Service. loc nil means time.Local.
func New(ledger LedgerSummarizer, quota QuotaSnapshotter, models ModelChecker, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{ledger: ledger, quota: quota, models: models, loc: loc, now: time.Now}
}

// GetReport builds the period-to-date report of account.
func (s *Service) GetReport(ctx context.Context, account string, period Period) (Report, error) {
	now := s.now().In(s.loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	from := to
	if period == PeriodMonth {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	}

	rows, err := s.ledger.Summary(ctx, account, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("usage summary: %w", err)
	}

	r := Report{Period: period, From: from, To: to, Models: rows}
	for _, m := range rows {
		r.Total.InputTokens += m.InputTokens
		r.Total.OutputTokens += m.OutputTokens
		r.Total.TokensUsed += m.TokensUsed
		r.Total.Messages += m.Messages
		r.Total.CostCents += m.CostCents
	}
	return r, nil
}

// GetLimits reports the caller's quota counters for model.
func (s *Service) GetLimits(ctx context.Context, p domain.Principal, model string) (domain.QuotaSnapshot, error) {
	if model == "" {
		return domain.QuotaSnapshot{}, fmt.Errorf("model is required: %w", domain.ErrInvalidRequest)
	}
	if _, ok := s.models.Variant(model); !ok {
		return domain.QuotaSnapshot{}, fmt.Errorf("model %q: %w", model, domain.ErrUnknownModel)
	}
	snap, err := s.quota.Snapshot(ctx, p.AccountID, p.Role, model)
	if err != nil {
		return domain.QuotaSnapshot{}, fmt.Errorf("usage limits: %w", err)
	}
	return snap, nil
}
