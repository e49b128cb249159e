// Package llm provides the provider-agnostic interface the planner uses to
// turn a natural-language question into a structured Plan, plus the
// fault-tolerance primitives (circuit breaker, timeout wrapper) wrapped
// around it.
package llm

import (
	"context"

	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// Provider is the single operation every LLM vendor implementation
// exposes: turn a prompt into a structured plan, or fail with a
// classified error. Implementations must never trust their own output to
// be safe SQL — that is the Validator's job, always applied downstream.
type Provider interface {
	// GenerateStructured sends prompt with a system instruction requiring
	// JSON output matching the plan schema, parses the response, and
	// reports token usage. Malformed or schema-non-conforming JSON
	// returns a non-retryable *Error with Type ErrorTypeSchema.
	GenerateStructured(ctx context.Context, prompt string) (models.Plan, models.Usage, error)

	// Model returns the configured model name, for logging and cost
	// attribution.
	Model() string
}
