package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/metrics"
	"github.com/kailas-cloud/llmgate/pkg/sse"
)

const (
	responsesPath = "/responses"

	// emptyFallbackText is sent when a blocking response carries no text.
	emptyFallbackText = "No response"

	maxErrorBody = 64 << 10
)

// Responses API stream event types.
const (
	eventOutputTextDelta = "response.output_text.delta"
	eventCompleted       = "response.completed"
	eventIncomplete      = "response.incomplete"
	eventFailed          = "response.failed"
	eventError           = "error"
)

// ResponsesBackend serves the structured Responses variant. When the backend
// refuses to stream a request, it transparently retries as one blocking call
// and yields the whole output as a single fragment.
type ResponsesBackend struct {
	c *Client
}

// NewResponsesBackend creates a structured backend on c.
func NewResponsesBackend(c *Client) *ResponsesBackend {
	return &ResponsesBackend{c: c}
}

type responsesRequest struct {
	Model           string             `json:"model"`
	Input           []responsesItem    `json:"input"`
	Stream          bool               `json:"stream,omitempty"`
	MaxOutputTokens int                `json:"max_output_tokens,omitempty"`
	Reasoning       *responsesEffort   `json:"reasoning,omitempty"`
	Text            *responsesTextOpts `json:"text,omitempty"`
}

type responsesItem struct {
	Role    string             `json:"role"`
	Content []responsesContent `json:"content"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesEffort struct {
	Effort string `json:"effort"`
}

type responsesTextOpts struct {
	Verbosity string `json:"verbosity"`
}

type responsesUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	OutputTokensDetails struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
}

func (u *responsesUsage) token() domain.TokenUsage {
	if u == nil {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		ReasoningTokens: u.OutputTokensDetails.ReasoningTokens,
	}.Clamp()
}

type responsesError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// outputItem is an output entry of a blocking response. Only "message" items carry text.
type outputItem struct {
	Type    string             `json:"type"`
	Content []responsesContent `json:"content"`
}

type streamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response *struct {
		Usage *responsesUsage `json:"usage"`
		Error *responsesError `json:"error"`
	} `json:"response"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// Stream implements domain.Backend.
func (b *ResponsesBackend) Stream(ctx context.Context, req *domain.NormalizedRequest) (domain.FragmentStream, error) {
	payload := buildResponsesRequest(req)
	payload.Stream = true

	resp, err := b.c.post(ctx, payload, sse.ContentType)
	if err == nil {
		return &responsesStream{body: resp.Body, dec: sse.NewDecoder(resp.Body), model: req.Model}, nil
	}
	if !errors.Is(err, errStreamUnsupported) {
		metrics.BackendErrorsTotal.WithLabelValues(req.Model, string(domain.VariantResponses), errorType(err)).Inc()
		return nil, fmt.Errorf("open responses stream: %w", err)
	}

	b.c.logger.Info("streaming refused, falling back to blocking call",
		zap.String("model", req.Model), zap.Error(err))
	metrics.BackendFallbackTotal.WithLabelValues(req.Model).Inc()

	// The blocking retry keeps reasoning effort but sends no verbosity control.
	payload.Stream = false
	payload.Text = nil
	text, usage, err := b.complete(ctx, payload)
	if err != nil {
		metrics.BackendErrorsTotal.WithLabelValues(req.Model, string(domain.VariantResponses), errorType(err)).Inc()
		return nil, fmt.Errorf("responses fallback: %w", err)
	}
	return &singleFragment{text: text, usage: usage}, nil
}

// complete runs a blocking request and extracts the text of the first message item.
func (b *ResponsesBackend) complete(ctx context.Context, payload *responsesRequest) (string, domain.TokenUsage, error) {
	resp, err := b.c.post(ctx, payload, "application/json")
	if err != nil {
		return "", domain.TokenUsage{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Output []outputItem    `json:"output"`
		Usage  *responsesUsage `json:"usage"`
		Error  *responsesError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", domain.TokenUsage{}, fmt.Errorf("%w: decode response: %v", domain.ErrBackendUnavailable, err)
	}
	if body.Error != nil {
		return "", domain.TokenUsage{}, fromStatus(statusForCode(body.Error.Code), body.Error.Code, body.Error.Param, body.Error.Message)
	}

	text := messageText(body.Output)
	if strings.TrimSpace(text) == "" {
		text = emptyFallbackText
	}
	return text, body.Usage.token(), nil
}

// messageText joins the output_text blocks of the first message item, in order.
func messageText(items []outputItem) string {
	for _, it := range items {
		if it.Type != "message" {
			continue
		}
		var sb strings.Builder
		for _, c := range it.Content {
			if c.Type == "output_text" {
				sb.WriteString(c.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// buildResponsesRequest maps turns onto structured items: assistant turns carry
// output_text blocks, every other role input_text, order and text verbatim.
func buildResponsesRequest(req *domain.NormalizedRequest) *responsesRequest {
	items := make([]responsesItem, len(req.Turns))
	for i, t := range req.Turns {
		role, block := "user", "input_text"
		if t.Role == domain.RoleAssistant {
			role, block = "assistant", "output_text"
		}
		items[i] = responsesItem{Role: role, Content: []responsesContent{{Type: block, Text: t.Text}}}
	}

	out := &responsesRequest{
		Model:           req.Model,
		Input:           items,
		MaxOutputTokens: req.Tuning.MaxOutputTokens,
	}
	if req.Tuning.ReasoningEffort != "" {
		out.Reasoning = &responsesEffort{Effort: req.Tuning.ReasoningEffort}
	}
	if req.Tuning.Verbosity != "" {
		out.Text = &responsesTextOpts{Verbosity: req.Tuning.Verbosity}
	}
	return out
}

// post sends payload to the responses endpoint. Non-2xx statuses are classified
// and the body is closed; on success the caller owns resp.Body.
func (c *Client) post(ctx context.Context, payload *responsesRequest, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+responsesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build responses request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, fromBody(resp.StatusCode, raw)
}

// responsesStream pulls typed events off the SSE body. Only output text deltas
// become fragments; the completion event carries usage.
type responsesStream struct {
	body  io.ReadCloser
	dec   *sse.Decoder
	model string

	fragment string
	usage    domain.TokenUsage
	err      error
	done     bool
}

func (s *responsesStream) Next() bool {
	if s.done {
		return false
	}
	for {
		ev, err := s.dec.Next()
		if err != nil {
			s.fail(streamReadError(err))
			return false
		}

		var se streamEvent
		if err := ev.Decode(&se); err != nil {
			s.fail(fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err))
			return false
		}
		if se.Type == "" {
			se.Type = ev.Name
		}

		switch se.Type {
		case eventOutputTextDelta:
			if se.Delta == "" {
				continue
			}
			s.fragment = se.Delta
			return true
		case eventCompleted, eventIncomplete:
			if se.Response != nil {
				s.usage = se.Response.Usage.token()
			}
			s.done = true
			return false
		case eventFailed:
			e := &responsesError{Message: "response failed"}
			if se.Response != nil && se.Response.Error != nil {
				e = se.Response.Error
			}
			s.fail(fromStatus(statusForCode(e.Code), e.Code, e.Param, e.Message))
			return false
		case eventError:
			s.fail(fromStatus(statusForCode(se.Code), se.Code, se.Param, se.Message))
			return false
		}
	}
}

func (s *responsesStream) fail(err error) {
	s.err = err
	s.done = true
	metrics.BackendErrorsTotal.WithLabelValues(s.model, string(domain.VariantResponses), errorType(err)).Inc()
}

// streamReadError classifies a read failure. A stream that ends before the
// completion event is a backend failure, never a silent truncation.
func streamReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: stream ended before completion", domain.ErrBackendUnavailable)
	}
	return classify(err)
}

func (s *responsesStream) Fragment() string         { return s.fragment }
func (s *responsesStream) Usage() domain.TokenUsage { return s.usage }
func (s *responsesStream) Err() error               { return s.err }

func (s *responsesStream) Close() error {
	s.done = true
	if err := s.body.Close(); err != nil {
		return fmt.Errorf("close responses stream: %w", err)
	}
	return nil
}

// singleFragment replays a blocking result in the streaming shape.
type singleFragment struct {
	text    string
	usage   domain.TokenUsage
	yielded bool
}

func (s *singleFragment) Next() bool {
	if s.yielded {
		return false
	}
	s.yielded = true
	return true
}

func (s *singleFragment) Fragment() string         { return s.text }
func (s *singleFragment) Usage() domain.TokenUsage { return s.usage }
func (s *singleFragment) Err() error               { return nil }
func (s *singleFragment) Close() error             { return nil }
