// Package cost turns token counts into billable cents.
package cost

import (
	"math"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

const tokensPerPriceUnit = 1_000_000

// Estimator computes request cost from the capability table prices.
// It is a pure function of its inputs and never reads backend-reported cost.
type Estimator struct {
	prices PriceTable
}

// New creates an Estimator.
func New(prices PriceTable) *Estimator {
	return &Estimator{prices: prices}
}

// Estimate returns the cost of usage on model in cents.
// Models with a reasoning price bill output tokens at that rate.
// Unknown models cost 0.
func (e *Estimator) Estimate(model string, usage domain.TokenUsage) int64 {
	p, ok := e.prices.Prices(model)
	if !ok {
		return 0
	}
	u := usage.Clamp()

	outPrice := p.Output
	if p.Reasoning > 0 {
		outPrice = p.Reasoning
	}

	usd := (float64(u.InputTokens)*p.Input + float64(u.OutputTokens)*outPrice) / tokensPerPriceUnit
	return int64(math.Round(usd * 100))
}
