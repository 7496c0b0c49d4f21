// Package policy persists rate limit policies per (model, role).
package policy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

const (
	fieldDaily   = "daily_request_limit"
	fieldMonthly = "monthly_token_limit"
	indexSep     = "|"
)

// store is the consumer interface for policy operations (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Store keeps one hash per policy plus an index set for listing.
type Store struct {
	store  store
	prefix string
}

// New creates a policy store.
func New(s store, prefix string) *Store {
	return &Store{store: s, prefix: prefix}
}

func (s *Store) key(model, role string) string {
	return fmt.Sprintf("%spolicy:%s:%s", s.prefix, model, role)
}

func (s *Store) indexKey() string {
	return s.prefix + "policies"
}

// GetPolicy returns the policy for (model, role). ok is false when none exists.
func (s *Store) GetPolicy(ctx context.Context, model, role string) (domain.RateLimitPolicy, bool, error) {
	fields, err := s.store.HGetAll(ctx, s.key(model, role))
	if err != nil {
		return domain.RateLimitPolicy{}, false, fmt.Errorf("policy get %s/%s: %w", model, role, err)
	}
	if len(fields) == 0 {
		return domain.RateLimitPolicy{}, false, nil
	}
	p, err := parsePolicy(model, role, fields)
	if err != nil {
		return domain.RateLimitPolicy{}, false, err
	}
	return p, true, nil
}

// SetPolicy creates or replaces a policy.
func (s *Store) SetPolicy(ctx context.Context, p domain.RateLimitPolicy) error {
	if p.Model == "" || p.Role == "" {
		return fmt.Errorf("policy: model and role are required: %w", domain.ErrInvalidRequest)
	}
	if strings.Contains(p.Model, indexSep) || strings.Contains(p.Role, indexSep) {
		return fmt.Errorf("policy: %q is not allowed in model or role: %w", indexSep, domain.ErrInvalidRequest)
	}
	if p.DailyRequestLimit < 0 || p.MonthlyTokenLimit < 0 {
		return fmt.Errorf("policy: limits must not be negative: %w", domain.ErrInvalidRequest)
	}

	err := s.store.HSet(ctx, s.key(p.Model, p.Role), map[string]string{
		fieldDaily:   strconv.FormatInt(p.DailyRequestLimit, 10),
		fieldMonthly: strconv.FormatInt(p.MonthlyTokenLimit, 10),
	})
	if err != nil {
		return fmt.Errorf("policy set %s/%s: %w", p.Model, p.Role, err)
	}
	if err := s.store.SAdd(ctx, s.indexKey(), p.Model+indexSep+p.Role); err != nil {
		return fmt.Errorf("policy index %s/%s: %w", p.Model, p.Role, err)
	}
	return nil
}

// Seed stores each policy that does not exist yet. Existing policies, including
// ones changed at runtime, are left alone. Returns how many were written.
func (s *Store) Seed(ctx context.Context, policies []domain.RateLimitPolicy) (int, error) {
	written := 0
	for _, p := range policies {
		_, ok, err := s.GetPolicy(ctx, p.Model, p.Role)
		if err != nil {
			return written, err
		}
		if ok {
			continue
		}
		if err := s.SetPolicy(ctx, p); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// List returns every stored policy ordered by model, then role.
func (s *Store) List(ctx context.Context) ([]domain.RateLimitPolicy, error) {
	members, err := s.store.SMembers(ctx, s.indexKey())
	if err != nil {
		return nil, fmt.Errorf("policy list: %w", err)
	}
	sort.Strings(members)

	pairs := make([][2]string, 0, len(members))
	keys := make([]string, 0, len(members))
	for _, m := range members {
		model, role, ok := strings.Cut(m, indexSep)
		if !ok {
			continue
		}
		pairs = append(pairs, [2]string{model, role})
		keys = append(keys, s.key(model, role))
	}

	hashes, err := s.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("policy list read: %w", err)
	}

	out := make([]domain.RateLimitPolicy, 0, len(hashes))
	for i, h := range hashes {
		if len(h) == 0 {
			continue
		}
		p, err := parsePolicy(pairs[i][0], pairs[i][1], h)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePolicy(model, role string, fields map[string]string) (domain.RateLimitPolicy, error) {
	p := domain.RateLimitPolicy{Model: model, Role: role}
	var err error
	if v := fields[fieldDaily]; v != "" {
		if p.DailyRequestLimit, err = strconv.ParseInt(v, 10, 64); err != nil {
			return domain.RateLimitPolicy{}, fmt.Errorf("policy %s/%s %s: %w", model, role, fieldDaily, err)
		}
	}
	if v := fields[fieldMonthly]; v != "" {
		if p.MonthlyTokenLimit, err = strconv.ParseInt(v, 10, 64); err != nil {
			return domain.RateLimitPolicy{}, fmt.Errorf("policy %s/%s %s: %w", model, role, fieldMonthly, err)
		}
	}
	return p, nil
}
