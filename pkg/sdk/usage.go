package sdk

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// UsagePeriod is the aggregation granularity for usage reports.
type UsagePeriod string

// UsagePeriod constants.
const (
	PeriodDay   UsagePeriod = "day"
	PeriodMonth UsagePeriod = "month"
)

// ModelUsage is the usage of one model.
type ModelUsage struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	TokensUsed   int64  `json:"tokensUsed"`
	Messages     int64  `json:"messages"`
	CostCents    int64  `json:"costCents"`
}

// UsageReport is the caller's period-to-date usage grouped by model.
type UsageReport struct {
	Period UsagePeriod  `json:"period"`
	From   time.Time    `json:"from"`
	To     time.Time    `json:"to"`
	Models []ModelUsage `json:"models"`
	Total  ModelUsage   `json:"total"`
}

// Limits is the caller's quota state for one model.
type Limits struct {
	Model   string     `json:"model"`
	Daily   QuotaUsage `json:"daily"`
	Monthly QuotaUsage `json:"monthly"`
}

// RateLimit is a quota policy for a (model, role) pair. Zero means unlimited.
type RateLimit struct {
	Model             string `json:"model"`
	Role              string `json:"role"`
	DailyRequestLimit int64  `json:"dailyRequestLimit"`
	MonthlyTokenLimit int64  `json:"monthlyTokenLimit"`
}

// Model describes one servable model.
type Model struct {
	Name      string   `json:"name"`
	API       string   `json:"api"`
	Qualities []string `json:"qualities,omitempty"`
	Pricing   struct {
		Input     float64 `json:"input"`
		Output    float64 `json:"output"`
		Reasoning float64 `json:"reasoning,omitempty"`
	} `json:"pricing"`
}

// HealthStatus represents the aggregated server health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok", "degraded", "error"
	Checks map[string]string `json:"checks"` // component → "ok"/"error"
}

// Usage returns the caller's usage report. Empty period means month.
func (c *Client) Usage(ctx context.Context, period UsagePeriod) (*UsageReport, error) {
	path := "/v1/usage"
	if period != "" {
		path += "?period=" + url.QueryEscape(string(period))
	}
	var out UsageReport
	if err := c.do(ctx, "usage", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Limits returns the caller's quota counters for model.
func (c *Client) Limits(ctx context.Context, model string) (*Limits, error) {
	var out Limits
	path := "/v1/usage/limits?model=" + url.QueryEscape(model)
	if err := c.do(ctx, "limits", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetLimit creates or replaces a rate limit policy. Requires the admin role.
func (c *Client) SetLimit(ctx context.Context, l RateLimit) error {
	return c.do(ctx, "set_limit", http.MethodPut, "/v1/admin/limits", l, nil)
}

// ListLimits returns every stored rate limit policy. Requires the admin role.
func (c *Client) ListLimits(ctx context.Context) ([]RateLimit, error) {
	var out struct {
		Limits []RateLimit `json:"limits"`
	}
	if err := c.do(ctx, "list_limits", http.MethodGet, "/v1/admin/limits", nil, &out); err != nil {
		return nil, err
	}
	return out.Limits, nil
}

// Models lists the models the server accepts.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.do(ctx, "models", http.MethodGet, "/v1/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Health reports server health. A degraded server answers 503, which is
// returned as an *APIError matching ErrUnavailable.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
