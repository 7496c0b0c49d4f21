package domain

import "fmt"

// Variant is the wire shape a backend model speaks.
type Variant string

// Supported backend variants.
const (
	// VariantChat is the turn-based Chat Completions shape.
	VariantChat Variant = "chat"
	// VariantResponses is the structured Responses shape.
	VariantResponses Variant = "responses"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantChat || v == VariantResponses
}

// Mode selects a tuning preset for a request.
type Mode string

// Request modes.
const (
	ModeAuto     Mode = "auto"
	ModeInstant  Mode = "instant"
	ModeThinking Mode = "thinking"
	ModePro      Mode = "pro"
)

// ParseMode validates a client-supplied mode. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeInstant, ModeThinking, ModePro:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("mode %q: %w", s, ErrInvalidRequest)
	}
}

// Pricing holds per-million-token prices in USD.
// Reasoning, when non-zero, replaces Output for billing output tokens.
type Pricing struct {
	Input     float64
	Output    float64
	Reasoning float64
}

// Tuning carries the sampling parameters sent to the backend.
// Chat-only fields are ignored by the structured variant and vice versa.
type Tuning struct {
	Temperature     float32
	TopP            float32
	MaxOutputTokens int
	ReasoningEffort string
	Verbosity       string
}

// NormalizedRequest is the backend-agnostic form of one inference request.
type NormalizedRequest struct {
	Model   string
	Variant Variant
	Turns   []ConversationTurn
	Tuning  Tuning
}

// ImageQuality is the coarse quality tier accepted by image-capable backends.
type ImageQuality string

// Image quality tiers.
const (
	ImageQualityStandard ImageQuality = "standard"
	ImageQualityHD       ImageQuality = "hd"
)

// MapImageQuality collapses low/medium/high onto the two-tier scale.
func MapImageQuality(q string) ImageQuality {
	if q == "high" {
		return ImageQualityHD
	}
	return ImageQualityStandard
}
