// Package ledger keeps per (account, day, model) usage counters in Redis hashes.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// Hash fields of a day record.
const (
	fieldRequests     = "requests"
	fieldInputTokens  = "input_tokens"
	fieldOutputTokens = "output_tokens"
	fieldCostCents    = "cost_cents"
)

const (
	dayLayout           = "2006-01-02"
	monthLayout         = "2006-01"
	maxSummaryRangeDays = 93
)

// store is the consumer interface for ledger operations (ISP).
type store interface {
	HIncrBy(ctx context.Context, key string, deltas map[string]int64) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Ledger is the usage ledger. Records are never expired or deleted here;
// retention is an operational concern.
type Ledger struct {
	store  store
	prefix string
}

// New creates a ledger. prefix namespaces every key (e.g. "llmgate:").
func New(s store, prefix string) *Ledger {
	return &Ledger{store: s, prefix: prefix}
}

func (l *Ledger) dayKey(account, model string, day time.Time) string {
	return fmt.Sprintf("%susage:%s:%s:%s", l.prefix, account, model, day.Format(dayLayout))
}

func (l *Ledger) modelsKey(account string, month time.Time) string {
	return fmt.Sprintf("%susage:%s:models:%s", l.prefix, account, month.Format(monthLayout))
}

// IncrementUsage adds rec to the (account, day, model) record, creating it on first use.
// All counters of the record move together.
func (l *Ledger) IncrementUsage(ctx context.Context, rec domain.UsageRecord) error {
	if rec.AccountID == "" || rec.Model == "" {
		return fmt.Errorf("ledger increment: account and model are required: %w", domain.ErrInvalidRequest)
	}

	key := l.dayKey(rec.AccountID, rec.Model, rec.Day)
	err := l.store.HIncrBy(ctx, key, map[string]int64{
		fieldRequests:     rec.Requests,
		fieldInputTokens:  rec.InputTokens,
		fieldOutputTokens: rec.OutputTokens,
		fieldCostCents:    rec.CostCents,
	})
	if err != nil {
		return fmt.Errorf("ledger increment %s: %w", key, err)
	}

	if err := l.store.SAdd(ctx, l.modelsKey(rec.AccountID, rec.Day), rec.Model); err != nil {
		return fmt.Errorf("ledger index model %s: %w", rec.Model, err)
	}
	return nil
}

// SumRequests returns the request count of one local day.
func (l *Ledger) SumRequests(ctx context.Context, account, model string, day time.Time) (int64, error) {
	key := l.dayKey(account, model, day)
	fields, err := l.store.HGetAll(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("ledger read %s: %w", key, err)
	}
	rec, err := parseRecord(fields)
	if err != nil {
		return 0, fmt.Errorf("ledger parse %s: %w", key, err)
	}
	return rec.Requests, nil
}

// SumTokens returns input plus output tokens over the days from..to inclusive.
func (l *Ledger) SumTokens(ctx context.Context, account, model string, from, to time.Time) (int64, error) {
	days := daysBetween(from, to)
	keys := make([]string, len(days))
	for i, d := range days {
		keys[i] = l.dayKey(account, model, d)
	}

	hashes, err := l.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("ledger read %d days: %w", len(keys), err)
	}

	var total int64
	for i, h := range hashes {
		rec, err := parseRecord(h)
		if err != nil {
			return 0, fmt.Errorf("ledger parse %s: %w", keys[i], err)
		}
		total += rec.InputTokens + rec.OutputTokens
	}
	return total, nil
}

// Summary aggregates every model the account used between from and to, sorted by model.
func (l *Ledger) Summary(ctx context.Context, account string, from, to time.Time) ([]domain.ModelUsage, error) {
	days := daysBetween(from, to)
	if len(days) > maxSummaryRangeDays {
		return nil, fmt.Errorf("ledger summary: range of %d days exceeds %d: %w",
			len(days), maxSummaryRangeDays, domain.ErrInvalidRequest)
	}

	models, err := l.modelsIn(ctx, account, days)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return []domain.ModelUsage{}, nil
	}

	keys := make([]string, 0, len(models)*len(days))
	for _, m := range models {
		for _, d := range days {
			keys = append(keys, l.dayKey(account, m, d))
		}
	}

	hashes, err := l.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("ledger summary read: %w", err)
	}

	out := make([]domain.ModelUsage, len(models))
	for mi, m := range models {
		row := domain.ModelUsage{Model: m}
		for di := range days {
			idx := mi*len(days) + di
			rec, err := parseRecord(hashes[idx])
			if err != nil {
				return nil, fmt.Errorf("ledger parse %s: %w", keys[idx], err)
			}
			row.InputTokens += rec.InputTokens
			row.OutputTokens += rec.OutputTokens
			row.Messages += rec.Requests
			row.CostCents += rec.CostCents
		}
		row.TokensUsed = row.InputTokens + row.OutputTokens
		out[mi] = row
	}
	return out, nil
}

func (l *Ledger) modelsIn(ctx context.Context, account string, days []time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var lastMonth string
	for _, d := range days {
		month := d.Format(monthLayout)
		if month == lastMonth {
			continue
		}
		lastMonth = month

		members, err := l.store.SMembers(ctx, l.modelsKey(account, d))
		if err != nil {
			return nil, fmt.Errorf("ledger models %s: %w", month, err)
		}
		for _, m := range members {
			seen[m] = struct{}{}
		}
	}

	models := make([]string, 0, len(seen))
	for m := range seen {
		models = append(models, m)
	}
	sort.Strings(models)
	return models, nil
}

// parseRecord decodes a day hash. Missing fields count as zero.
func parseRecord(fields map[string]string) (domain.UsageRecord, error) {
	var rec domain.UsageRecord
	targets := []struct {
		name string
		dst  *int64
	}{
		{fieldRequests, &rec.Requests},
		{fieldInputTokens, &rec.InputTokens},
		{fieldOutputTokens, &rec.OutputTokens},
		{fieldCostCents, &rec.CostCents},
	}
	for _, t := range targets {
		raw, ok := fields[t.name]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.UsageRecord{}, fmt.Errorf("field %s: %w", t.name, err)
		}
		*t.dst = v
	}
	return rec, nil
}

// daysBetween lists calendar days from..to inclusive in from's location.
func daysBetween(from, to time.Time) []time.Time {
	loc := from.Location()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	to = to.In(loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
