// Package openai adapts OpenAI-compatible HTTP APIs to domain.Backend.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds the backend connection settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
	// HTTPClient defaults to a client without a global timeout; streams are
	// bounded by the caller's context.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a shared connection to an OpenAI-compatible API.
type Client struct {
	api     *openai.Client
	http    *http.Client
	apiKey  string
	baseURL string
	org     string
	logger  *zap.Logger
}

// New creates a Client.
func New(cfg *Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.OrgID = cfg.Organization
	clientCfg.HTTPClient = httpClient

	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		http:    httpClient,
		apiKey:  cfg.APIKey,
		baseURL: clientCfg.BaseURL,
		org:     cfg.Organization,
		logger:  logger.Named("openai"),
	}
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", classify(err))
	}
	return nil
}

// Moderate reports whether text is flagged by the moderation endpoint.
func (c *Client) Moderate(ctx context.Context, text string) (bool, error) {
	resp, err := c.api.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return false, fmt.Errorf("moderation: %w", classify(err))
	}
	for _, r := range resp.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.org != "" {
		req.Header.Set("OpenAI-Organization", c.org)
	}
}
