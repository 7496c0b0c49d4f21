// Package quota decides whether an account may issue another request to a model.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// Decision is the outcome of one gate check.
type Decision struct {
	Allowed bool
	Kind    domain.QuotaKind
	Reason  string
	ResetAt time.Time
	// Usage is nil for exempt roles and models without a policy.
	Usage *domain.QuotaSnapshot
}

// Err converts a denial into *domain.QuotaDeniedError. It returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	e := &domain.QuotaDeniedError{Kind: d.Kind, Reason: d.Reason, ResetAt: d.ResetAt}
	if d.Usage != nil {
		e.Usage = *d.Usage
	}
	return e
}

// Config tunes the gate. Zero values fall back to time.Local and time.Now.
type Config struct {
	ExemptRoles []string
	Location    *time.Location
	Now         func() time.Time
}

// Gate evaluates daily request and monthly token ceilings against the ledger.
type Gate struct {
	policies PolicyReader
	ledger   LedgerReader
	exempt   map[string]struct{}
	loc      *time.Location
	now      func() time.Time
}

// New creates a Gate.
func New(policies PolicyReader, ledger LedgerReader, cfg Config) *Gate {
	g := &Gate{
		policies: policies,
		ledger:   ledger,
		exempt:   make(map[string]struct{}, len(cfg.ExemptRoles)),
		loc:      cfg.Location,
		now:      cfg.Now,
	}
	for _, r := range cfg.ExemptRoles {
		g.exempt[r] = struct{}{}
	}
	if g.loc == nil {
		g.loc = time.Local
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Exempt reports whether role bypasses the gate.
func (g *Gate) Exempt(role string) bool {
	_, ok := g.exempt[role]
	return ok
}

// Check decides whether account (with role) may send one more request to model.
// Exempt roles are allowed without touching the ledger. Read failures are
// reported as domain.ErrQuotaUnavailable and must be treated as a denial.
func (g *Gate) Check(ctx context.Context, account, role, model string) (Decision, error) {
	if g.Exempt(role) {
		return Decision{Allowed: true}, nil
	}

	policy, ok, err := g.policies.GetPolicy(ctx, model, role)
	if err != nil {
		return Decision{}, fmt.Errorf("quota policy %s/%s: %v: %w", model, role, err, domain.ErrQuotaUnavailable)
	}
	if !ok || policy.Unlimited() {
		return Decision{Allowed: true}, nil
	}

	today, monthStart := g.windows()
	snap := domain.QuotaSnapshot{
		Daily:   domain.QuotaUsage{Limit: policy.DailyRequestLimit},
		Monthly: domain.QuotaUsage{Limit: policy.MonthlyTokenLimit},
	}

	snap.Daily.Used, err = g.ledger.SumRequests(ctx, account, model, today)
	if err != nil {
		return Decision{}, fmt.Errorf("quota daily usage: %v: %w", err, domain.ErrQuotaUnavailable)
	}
	if policy.DailyRequestLimit > 0 && snap.Daily.Used >= policy.DailyRequestLimit {
		return Decision{
			Kind:    domain.QuotaDaily,
			Reason:  "Daily request limit reached for " + model,
			ResetAt: today.AddDate(0, 0, 1),
			Usage:   &snap,
		}, nil
	}

	snap.Monthly.Used, err = g.ledger.SumTokens(ctx, account, model, monthStart, today)
	if err != nil {
		return Decision{}, fmt.Errorf("quota monthly usage: %v: %w", err, domain.ErrQuotaUnavailable)
	}
	if policy.MonthlyTokenLimit > 0 && snap.Monthly.Used >= policy.MonthlyTokenLimit {
		return Decision{
			Kind:    domain.QuotaMonthly,
			Reason:  "Monthly token limit reached for " + model,
			ResetAt: monthStart.AddDate(0, 1, 0),
			Usage:   &snap,
		}, nil
	}

	return Decision{Allowed: true, Usage: &snap}, nil
}

// Snapshot reports both counters and limits for (account, model) regardless of
// role exemption. Limits are zero when no policy applies.
func (g *Gate) Snapshot(ctx context.Context, account, role, model string) (domain.QuotaSnapshot, error) {
	var snap domain.QuotaSnapshot

	policy, ok, err := g.policies.GetPolicy(ctx, model, role)
	if err != nil {
		return snap, fmt.Errorf("quota policy %s/%s: %v: %w", model, role, err, domain.ErrQuotaUnavailable)
	}
	if ok && !g.Exempt(role) {
		snap.Daily.Limit = policy.DailyRequestLimit
		snap.Monthly.Limit = policy.MonthlyTokenLimit
	}

	today, monthStart := g.windows()
	if snap.Daily.Used, err = g.ledger.SumRequests(ctx, account, model, today); err != nil {
		return snap, fmt.Errorf("quota daily usage: %v: %w", err, domain.ErrQuotaUnavailable)
	}
	if snap.Monthly.Used, err = g.ledger.SumTokens(ctx, account, model, monthStart, today); err != nil {
		return snap, fmt.Errorf("quota monthly usage: %v: %w", err, domain.ErrQuotaUnavailable)
	}
	return snap, nil
}

// windows returns local midnight today and the first day of the current month.
func (g *Gate) windows() (today, monthStart time.Time) {
	now := g.now().In(g.loc)
	today = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.loc)
	monthStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, g.loc)
	return today, monthStart
}
