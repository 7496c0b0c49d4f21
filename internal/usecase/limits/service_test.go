package limits

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

type mockRepo struct {
	set  []domain.RateLimitPolicy
	list []domain.RateLimitPolicy
	err  error
}

func (m *mockRepo) SetPolicy(_ context.Context, p domain.RateLimitPolicy) error {
	if m.err != nil {
		return m.err
	}
	m.set = append(m.set, p)
	return nil
}

func (m *mockRepo) List(_ context.Context) ([]domain.RateLimitPolicy, error) {
	return m.list, m.err
}

type mockModels map[string]domain.Variant

func (m mockModels) Variant(model string) (domain.Variant, bool) {
	v, ok := m[model]
	return v, ok
}

var (
	admin   = domain.Principal{AccountID: "root", Role: "admin"}
	student = domain.Principal{AccountID: "s1", Role: "student"}
)

func TestSet(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, mockModels{"gpt-5": domain.VariantResponses})

	p := domain.RateLimitPolicy{Model: "gpt-5", Role: "student", DailyRequestLimit: 5}
	if err := svc.Set(context.Background(), admin, p); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(repo.set) != 1 || repo.set[0] != p {
		t.Errorf("stored: %+v", repo.set)
	}
}

func TestSet_Forbidden(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, mockModels{"gpt-5": domain.VariantResponses})

	err := svc.Set(context.Background(), student, domain.RateLimitPolicy{Model: "gpt-5", Role: "student"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if len(repo.set) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestSet_UnknownModel(t *testing.T) {
	svc := New(&mockRepo{}, mockModels{})
	err := svc.Set(context.Background(), admin, domain.RateLimitPolicy{Model: "nope", Role: "student"})
	if !errors.Is(err, domain.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestList(t *testing.T) {
	repo := &mockRepo{list: []domain.RateLimitPolicy{{Model: "m", Role: "staff"}}}
	svc := New(repo, mockModels{})

	ps, err := svc.List(context.Background(), admin)
	if err != nil || len(ps) != 1 {
		t.Fatalf("List: %v, %v", ps, err)
	}
	if _, err := svc.List(context.Background(), student); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
