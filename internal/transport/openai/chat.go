package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/metrics"
)

// ChatBackend serves the turn-based Chat Completions variant.
type ChatBackend struct {
	c *Client
}

// NewChatBackend creates a turn-based backend on c.
func NewChatBackend(c *Client) *ChatBackend {
	return &ChatBackend{c: c}
}

// Stream implements domain.Backend.
func (b *ChatBackend) Stream(ctx context.Context, req *domain.NormalizedRequest) (domain.FragmentStream, error) {
	creq := openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            chatMessages(req.Turns),
		Temperature:         req.Tuning.Temperature,
		TopP:                req.Tuning.TopP,
		MaxCompletionTokens: req.Tuning.MaxOutputTokens,
		ReasoningEffort:     req.Tuning.ReasoningEffort,
		StreamOptions:       &openai.StreamOptions{IncludeUsage: true},
	}

	stream, err := b.c.api.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		err = classify(err)
		metrics.BackendErrorsTotal.WithLabelValues(req.Model, string(domain.VariantChat), errorType(err)).Inc()
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	return &chatStream{stream: stream, model: req.Model}, nil
}

// chatMessages maps turns onto chat messages in order, text verbatim.
func chatMessages(turns []domain.ConversationTurn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs[i] = openai.ChatCompletionMessage{Role: role, Content: t.Text}
	}
	return msgs
}

type chatStream struct {
	stream *openai.ChatCompletionStream
	model  string

	fragment string
	usage    domain.TokenUsage
	err      error
	done     bool
}

func (s *chatStream) Next() bool {
	if s.done {
		return false
	}
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return false
		}
		if err != nil {
			s.err = classify(err)
			s.done = true
			metrics.BackendErrorsTotal.WithLabelValues(s.model, string(domain.VariantChat), errorType(s.err)).Inc()
			return false
		}

		// The usage chunk arrives last, with no choices.
		if resp.Usage != nil {
			s.usage = chatUsage(resp.Usage)
		}
		for _, ch := range resp.Choices {
			if ch.Delta.Content != "" {
				s.fragment = ch.Delta.Content
				return true
			}
		}
	}
}

func (s *chatStream) Fragment() string          { return s.fragment }
func (s *chatStream) Usage() domain.TokenUsage { return s.usage }
func (s *chatStream) Err() error               { return s.err }

func (s *chatStream) Close() error {
	s.done = true
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("close chat stream: %w", err)
	}
	return nil
}

func chatUsage(u *openai.Usage) domain.TokenUsage {
	out := domain.TokenUsage{
		InputTokens:  int64(u.PromptTokens),
		OutputTokens: int64(u.CompletionTokens),
	}
	if u.CompletionTokensDetails != nil {
		out.ReasoningTokens = int64(u.CompletionTokensDetails.ReasoningTokens)
	}
	return out.Clamp()
}
