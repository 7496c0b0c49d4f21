package cost

import "github.com/kailas-cloud/llmgate/internal/domain"

// PriceTable resolves per-million-token prices of a model.
type PriceTable interface {
	Prices(model string) (domain.Pricing, bool)
}
