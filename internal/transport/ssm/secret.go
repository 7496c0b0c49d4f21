// Package ssm resolves secrets kept in AWS Systems Manager Parameter Store.
package ssm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrEmptySecret is returned when a parameter exists but has no value.
var ErrEmptySecret = errors.New("ssm: parameter has no value")

// parameterAPI is the subset of *ssm.Client used here.
type parameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Secret is one SecureString parameter, fetched once and cached.
type Secret struct {
	api  parameterAPI
	name string

	mu    sync.Mutex
	value string
}

// NewSecret creates a lazily resolved secret.
func NewSecret(api parameterAPI, name string) (*Secret, error) {
	name = strings.TrimSpace(name)
	if api == nil {
		return nil, errors.New("ssm: api must not be nil")
	}
	if name == "" {
		return nil, errors.New("ssm: parameter name is required")
	}
	return &Secret{api: api, name: name}, nil
}

// Value returns the decrypted parameter value. Failed lookups are not cached.
func (s *Secret) Value(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value != "" {
		return s.value, nil
	}

	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm: get parameter %q: %w", s.name, err)
	}
	if out == nil || out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptySecret, s.name)
	}

	s.value = strings.TrimSpace(aws.ToString(out.Parameter.Value))
	return s.value, nil
}
