package llm

import (
	"context"

	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// MockProvider is a configurable Provider for deterministic planner and
// orchestrator tests. Set GenerateStructuredFunc to control behavior, or
// leave it nil and set Plan/Usage/Err directly for the common case of a
// single canned response.
type MockProvider struct {
	GenerateStructuredFunc func(ctx context.Context, prompt string) (models.Plan, models.Usage, error)

	Plan  models.Plan
	Usage models.Usage
	Err   error

	ModelName string

	Calls int
}

// NewMockProvider creates a mock that returns a canned successful plan.
func NewMockProvider(plan models.Plan) *MockProvider {
	return &MockProvider{Plan: plan, ModelName: "mock-model"}
}

// NewFailingMockProvider creates a mock that always returns err.
func NewFailingMockProvider(err error) *MockProvider {
	return &MockProvider{Err: err, ModelName: "mock-model"}
}

// GenerateStructured implements Provider.
func (m *MockProvider) GenerateStructured(ctx context.Context, prompt string) (models.Plan, models.Usage, error) {
	m.Calls++
	if m.GenerateStructuredFunc != nil {
		return m.GenerateStructuredFunc(ctx, prompt)
	}
	if m.Err != nil {
		return models.Plan{}, models.Usage{}, m.Err
	}
	return m.Plan, m.Usage, nil
}

// Model implements Provider.
func (m *MockProvider) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

var _ Provider = (*MockProvider)(nil)
