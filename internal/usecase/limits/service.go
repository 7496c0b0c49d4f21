// Package limits administers per (model, role) rate limit policies.
package limits

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// AdminRole may change policies.
const AdminRole = "admin"

// Service handles policy administration.
type Service struct {
	repo   PolicyRepository
	models ModelChecker
}

// New creates a Service.
func New(repo PolicyRepository, models ModelChecker) *Service {
	return &Service{repo: repo, models: models}
}

// Set creates or replaces the policy of (p.Model, p.Role). Only admins may call it.
func (s *Service) Set(ctx context.Context, caller domain.Principal, p domain.RateLimitPolicy) error {
	if caller.Role != AdminRole {
		return fmt.Errorf("set limits as %q: %w", caller.Role, domain.ErrForbidden)
	}
	if _, ok := s.models.Variant(p.Model); !ok {
		return fmt.Errorf("model %q: %w", p.Model, domain.ErrUnknownModel)
	}
	if err := s.repo.SetPolicy(ctx, p); err != nil {
		return fmt.Errorf("set limits: %w", err)
	}
	return nil
}

// List returns every stored policy. Only admins may call it.
func (s *Service) List(ctx context.Context, caller domain.Principal) ([]domain.RateLimitPolicy, error) {
	if caller.Role != AdminRole {
		return nil, fmt.Errorf("list limits as %q: %w", caller.Role, domain.ErrForbidden)
	}
	ps, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	return ps, nil
}
