package domain

import "time"

// TokenUsage is the terminal usage record of one backend stream.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
}

// Total returns input plus output tokens. Reasoning tokens are part of output.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Clamp replaces negative counts with zero.
func (u TokenUsage) Clamp() TokenUsage {
	if u.InputTokens < 0 {
		u.InputTokens = 0
	}
	if u.OutputTokens < 0 {
		u.OutputTokens = 0
	}
	if u.ReasoningTokens < 0 {
		u.ReasoningTokens = 0
	}
	return u
}

// UsageRecord is the per (account, day, model) aggregate kept by the ledger.
// Records are only ever incremented.
type UsageRecord struct {
	AccountID    string
	Day          time.Time
	Model        string
	InputTokens  int64
	OutputTokens int64
	Requests     int64
	CostCents    int64
}

// ModelUsage is one row of a usage summary.
type ModelUsage struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	TokensUsed   int64  `json:"tokensUsed"`
	Messages     int64  `json:"messages"`
	CostCents    int64  `json:"costCents"`
}

// RateLimitPolicy binds quota ceilings to a (model, role) pair. Zero means unlimited.
type RateLimitPolicy struct {
	Model             string `json:"model"`
	Role              string `json:"role"`
	DailyRequestLimit int64  `json:"dailyRequestLimit"`
	MonthlyTokenLimit int64  `json:"monthlyTokenLimit"`
}

// Unlimited reports whether neither ceiling applies.
func (p RateLimitPolicy) Unlimited() bool {
	return p.DailyRequestLimit <= 0 && p.MonthlyTokenLimit <= 0
}
