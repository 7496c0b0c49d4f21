// Package catalog is the static model capability table.
package catalog

import (
	"sort"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// Default sampling parameters per variant, applied when a mode leaves a field unset.
const (
	DefaultChatTemperature    float32 = 0.7
	DefaultChatTopP           float32 = 1
	DefaultChatMaxTokens              = 2048
	DefaultResponsesMaxTokens         = 32768
)

// Model describes one servable model.
type Model struct {
	Name    string
	Variant domain.Variant
	Pricing domain.Pricing
	// Quality marks models that accept an image quality tier.
	Quality bool
	Modes   map[domain.Mode]domain.Tuning
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	models map[string]Model
}

// New builds a catalog. Later entries with the same name win.
func New(models ...Model) *Catalog {
	c := &Catalog{models: make(map[string]Model, len(models))}
	for _, m := range models {
		c.models[m.Name] = m
	}
	return c
}

// Lookup returns the model entry.
func (c *Catalog) Lookup(model string) (Model, bool) {
	m, ok := c.models[model]
	return m, ok
}

// Variant returns the wire shape of model.
func (c *Catalog) Variant(model string) (domain.Variant, bool) {
	m, ok := c.models[model]
	return m.Variant, ok
}

// Prices returns the price table of model.
func (c *Catalog) Prices(model string) (domain.Pricing, bool) {
	m, ok := c.models[model]
	return m.Pricing, ok
}

// Names lists the catalog models in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.models))
	for n := range c.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tuning resolves the sampling parameters for model in mode. The mode entry
// falls back to the auto entry, then to variant defaults, field by field.
func (c *Catalog) Tuning(model string, mode domain.Mode) domain.Tuning {
	m, ok := c.models[model]
	if !ok {
		return domain.Tuning{}
	}

	t := m.Modes[mode]
	if mode != domain.ModeAuto {
		t = merge(t, m.Modes[domain.ModeAuto])
	}

	switch m.Variant {
	case domain.VariantResponses:
		if t.MaxOutputTokens <= 0 {
			t.MaxOutputTokens = DefaultResponsesMaxTokens
		}
	default:
		if t.Temperature == 0 {
			t.Temperature = DefaultChatTemperature
		}
		if t.TopP == 0 {
			t.TopP = DefaultChatTopP
		}
		if t.MaxOutputTokens <= 0 {
			t.MaxOutputTokens = DefaultChatMaxTokens
		}
	}
	return t
}

// QualityTier maps a requested quality onto the model's tier. Models without
// quality support always get the standard tier.
func (c *Catalog) QualityTier(model, requested string) domain.ImageQuality {
	if m, ok := c.models[model]; !ok || !m.Quality {
		return domain.ImageQualityStandard
	}
	return domain.MapImageQuality(requested)
}

func merge(t, fallback domain.Tuning) domain.Tuning {
	if t.Temperature == 0 {
		t.Temperature = fallback.Temperature
	}
	if t.TopP == 0 {
		t.TopP = fallback.TopP
	}
	if t.MaxOutputTokens <= 0 {
		t.MaxOutputTokens = fallback.MaxOutputTokens
	}
	if t.ReasoningEffort == "" {
		t.ReasoningEffort = fallback.ReasoningEffort
	}
	if t.Verbosity == "" {
		t.Verbosity = fallback.Verbosity
	}
	return t
}
