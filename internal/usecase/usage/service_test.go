package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// --- Mocks ---

type mockLedger struct {
	rows     []domain.ModelUsage
	err      error
	from, to time.Time
}

func (m *mockLedger) Summary(_ context.Context, _ string, from, to time.Time) ([]domain.ModelUsage, error) {
	m.from, m.to = from, to
	return m.rows, m.err
}

type mockQuota struct {
	snap domain.QuotaSnapshot
	err  error
	role string
}

func (m *mockQuota) Snapshot(_ context.Context, _, role, _ string) (domain.QuotaSnapshot, error) {
	m.role = role
	return m.snap, m.err
}

type mockModels map[string]domain.Variant

func (m mockModels) Variant(model string) (domain.Variant, bool) {
	v, ok := m[model]
	return v, ok
}

func newTestService(l *mockLedger, q *mockQuota) *Service {
	s := New(l, q, mockModels{"gpt-5": domain.VariantResponses}, time.UTC)
	s.now = func() time.Time { return time.Date(2026, time.May, 20, 18, 0, 0, 0, time.UTC) }
	return s
}

// --- Tests ---

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod(""); err != nil || p != PeriodMonth {
		t.Errorf("empty: got %q, %v", p, err)
	}
	if p, err := ParsePeriod("day"); err != nil || p != PeriodDay {
		t.Errorf("day: got %q, %v", p, err)
	}
	if _, err := ParsePeriod("year"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("year: expected ErrInvalidRequest, got %v", err)
	}
}

func TestGetReport_Month(t *testing.T) {
	l := &mockLedger{rows: []domain.ModelUsage{
		{Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, TokensUsed: 150, Messages: 2, CostCents: 3},
		{Model: "gpt-5", InputTokens: 10, OutputTokens: 40, TokensUsed: 50, Messages: 1, CostCents: 7},
	}}
	r, err := newTestService(l, &mockQuota{}).GetReport(context.Background(), "acc", PeriodMonth)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}

	if !l.from.Equal(time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from: got %v", l.from)
	}
	if !l.to.Equal(time.Date(2026, time.May, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to: got %v", l.to)
	}
	if len(r.Models) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(r.Models))
	}
	if r.Total.TokensUsed != 200 || r.Total.Messages != 3 || r.Total.CostCents != 10 {
		t.Errorf("total: got %+v", r.Total)
	}
}

func TestGetReport_Day(t *testing.T) {
	l := &mockLedger{rows: []domain.ModelUsage{}}
	r, err := newTestService(l, &mockQuota{}).GetReport(context.Background(), "acc", PeriodDay)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if !l.from.Equal(l.to) {
		t.Errorf("day report should cover a single day, got %v..%v", l.from, l.to)
	}
	if r.Models == nil || r.Total.TokensUsed != 0 {
		t.Errorf("unexpected empty report: %+v", r)
	}
}

func TestGetReport_LedgerError(t *testing.T) {
	l := &mockLedger{err: errors.New("conn refused")}
	if _, err := newTestService(l, &mockQuota{}).GetReport(context.Background(), "acc", PeriodMonth); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetLimits(t *testing.T) {
	q := &mockQuota{snap: domain.QuotaSnapshot{Daily: domain.QuotaUsage{Used: 2, Limit: 5}}}
	svc := newTestService(&mockLedger{}, q)

	snap, err := svc.GetLimits(context.Background(), domain.Principal{AccountID: "acc", Role: "student"}, "gpt-5")
	if err != nil {
		t.Fatalf("GetLimits: %v", err)
	}
	if snap.Daily.Limit != 5 || q.role != "student" {
		t.Errorf("got %+v (role %q)", snap, q.role)
	}

	if _, err := svc.GetLimits(context.Background(), domain.Principal{AccountID: "acc"}, ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty model: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.GetLimits(context.Background(), domain.Principal{AccountID: "acc"}, "nope"); !errors.Is(err, domain.ErrUnknownModel) {
		t.Errorf("unknown model: expected ErrUnknownModel, got %v", err)
	}
}
