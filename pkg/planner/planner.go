// Package planner implements the SQL Planner (C10): the three-tier read
// path that turns a natural-language question into a candidate Plan
// before the safety validator ever sees it — short-term cache, then
// query history, then an LLM call wrapped in a timeout and a circuit
// breaker.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/apperrors"
	"github.com/safequery-inc/safequery-gateway/pkg/llm"
	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// Cache is the subset of the short-term cache's API the planner needs.
// *cache.ShortTermCache satisfies this.
type Cache interface {
	Get(ctx context.Context, query string) (models.Plan, bool)
	Set(ctx context.Context, query string, plan models.Plan) error
}

// History is the subset of the query history store's API the planner
// needs. *history.Store satisfies this.
type History interface {
	Lookup(ctx context.Context, nlQuery string) (models.HistoryEntry, bool, error)
}

// Source records which tier of the read path produced a Plan, surfaced
// in the orchestrator's response notes (cache_hit, history_reuse).
type Source string

const (
	SourceCache   Source = "short_cache"
	SourceHistory Source = "history"
	SourceLLM     Source = "llm"
	SourceRaw     Source = "raw"
)

// dbSchemaDescription is sent to the LLM verbatim on every planning call
// so it never has to guess at column names or types. It must stay in
// sync with the allowlisted tables in pkg/sql and the migrations that
// create them.
const dbSchemaDescription = `Available Tables:

1. sales_fact
   - id: bigint (primary key)
   - region: text - Geographic region (e.g., "North America", "Europe")
   - quarter: text - Quarter identifier (e.g., "Q1", "Q2", "Q3", "Q4")
   - revenue: numeric(14,2) - Revenue amount in USD
   - closed_at: timestamptz - When the sale closed

2. job_runs
   - id: bigint (primary key)
   - job_name: text - Name of the scheduled job
   - status: text - Job status: 'success', 'failure', or 'running'
   - started_at: timestamptz - Job start time
   - finished_at: timestamptz - Job completion time (null if still running)

3. audit_log (read-only)
   - id: bigint (primary key)
   - ts: timestamptz - Timestamp of the operation
   - correlation_id: text - Correlation ID for tracking
   - user_id: text - User who performed the operation
   - tool: text - Tool used (e.g., "sql")
   - action: text - Action performed
   - success: boolean - Whether the operation succeeded
   - duration_ms: bigint - Duration in milliseconds

Allowed Tables: sales_fact, job_runs, audit_log`

// Result is a planner response together with where it came from and any
// LLM usage it incurred (zero for cache/history hits).
type Result struct {
	Plan   models.Plan
	Source Source
	Usage  models.Usage
}

// Planner is the C10 component. It never trusts its own output as safe
// to execute — every Result, regardless of Source, still passes through
// the Validator downstream.
type Planner struct {
	provider       llm.Provider
	breaker        *llm.CircuitBreaker
	shortTermCache Cache
	historyStore   History
	timeout        time.Duration
	defaultLimit   int
	logger         *zap.Logger
}

// Option configures a Planner at construction time.
type Option func(*Planner)

// WithTimeout overrides the default per-call LLM timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) { p.timeout = d }
}

// WithDefaultLimit overrides the row limit mentioned in the prompt's
// safety rules. The validator, not the prompt, is what actually enforces
// this — the prompt text exists only to bias the model toward compliant
// output up front.
func WithDefaultLimit(n int) Option {
	return func(p *Planner) { p.defaultLimit = n }
}

// New builds a Planner.
func New(provider llm.Provider, breaker *llm.CircuitBreaker, shortTermCache Cache, historyStore History, logger *zap.Logger, opts ...Option) *Planner {
	p := &Planner{
		provider:       provider,
		breaker:        breaker,
		shortTermCache: shortTermCache,
		historyStore:   historyStore,
		timeout:        llm.DefaultTimeout,
		defaultLimit:   200,
		logger:         logger.Named("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan resolves a natural-language query to a candidate SQL plan,
// consulting the short-term cache, then the query history store, before
// ever calling the LLM. bypassCache skips both of those tiers — set by
// the caller when the request explicitly asked for a fresh plan.
func (p *Planner) Plan(ctx context.Context, nlQuery string, bypassCache bool) (Result, error) {
	if !bypassCache {
		if plan, ok := p.shortTermCache.Get(ctx, nlQuery); ok {
			p.logger.Debug("plan served from short-term cache")
			return Result{Plan: plan, Source: SourceCache}, nil
		}
	}

	if bypassCache {
		return p.planWithLLM(ctx, nlQuery)
	}

	entry, ok, err := p.historyStore.Lookup(ctx, nlQuery)
	if err != nil {
		p.logger.Warn("query history lookup failed, falling through to LLM", zap.Error(err))
	} else if ok {
		p.logger.Debug("plan served from query history", zap.Int64("use_count", entry.UseCount))
		plan := models.Plan{
			SQL:         entry.GeneratedSQL,
			Explanation: fmt.Sprintf("Reusing a previously validated query (used %d times).", entry.UseCount),
			Confidence:  1.0,
		}
		if setErr := p.shortTermCache.Set(ctx, nlQuery, plan); setErr != nil {
			p.logger.Warn("failed to warm short-term cache from history hit", zap.Error(setErr))
		}
		return Result{Plan: plan, Source: SourceHistory}, nil
	}

	return p.planWithLLM(ctx, nlQuery)
}

func (p *Planner) planWithLLM(ctx context.Context, nlQuery string) (Result, error) {
	allow, err := p.breaker.Allow()
	if !allow {
		return Result{}, apperrors.NewPlannerError(
			"LLM provider is temporarily unavailable", true,
			map[string]any{"cause": "circuit_open"}, err)
	}

	prompt := p.buildPrompt(nlQuery)

	type generated struct {
		plan  models.Plan
		usage models.Usage
	}
	out, err := llm.WithTimeout(ctx, p.timeout, func(ctx context.Context) (generated, error) {
		plan, usage, genErr := p.provider.GenerateStructured(ctx, prompt)
		return generated{plan: plan, usage: usage}, genErr
	})
	if err != nil {
		p.breaker.RecordFailure()
		return Result{}, p.classifyFailure(err)
	}

	if !strings.Contains(strings.ToUpper(out.plan.SQL), "LIMIT") {
		p.breaker.RecordFailure()
		return Result{}, apperrors.NewPlannerError(
			"model response had no LIMIT clause", false,
			map[string]any{"cause": "schema_violation"}, nil)
	}

	p.breaker.RecordSuccess()
	return Result{Plan: out.plan, Source: SourceLLM, Usage: out.usage}, nil
}

func (p *Planner) buildPrompt(query string) string {
	return fmt.Sprintf(`You translate analytics questions into a single read-only SQL SELECT statement.

DATABASE SCHEMA:
%s

SAFETY RULES (CRITICAL):
1. You MUST include a LIMIT clause in every query (default: LIMIT %d)
2. Only use SELECT statements (no INSERT, UPDATE, DELETE, DROP, etc.)
3. Only query the allowed tables listed above
4. Use proper PostgreSQL syntax

USER QUERY:
%s

Generate a safe SQL query that answers the user's question. Provide a confidence score (0.0-1.0) based on how clearly the question maps to the schema, and a one-sentence explanation of what the SQL does. If the query is unclear or cannot be safely translated, use a confidence score below 0.7 and explain why in the explanation field.`, dbSchemaDescription, p.defaultLimit, query)
}

// classifyFailure distinguishes why the LLM call failed so the response
// envelope and audit trail carry a precise cause: timeout,
// schema_violation, or provider_failure. circuit_open is handled before
// this is ever reached.
func (p *Planner) classifyFailure(err error) error {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Type {
		case llm.ErrorTypeSchema:
			return apperrors.NewPlannerError(llmErr.Message, false,
				map[string]any{"cause": "schema_violation"}, err)
		case llm.ErrorTypeEndpoint:
			if errors.Is(llmErr.Cause, context.DeadlineExceeded) {
				return apperrors.NewPlannerError("LLM call exceeded its deadline", true,
					map[string]any{"cause": "timeout"}, err)
			}
		}
		return apperrors.NewPlannerError(llmErr.Message, llmErr.Retryable,
			map[string]any{"cause": "provider_failure"}, err)
	}
	return apperrors.NewPlannerError("SQL generation failed", true,
		map[string]any{"cause": "provider_failure"}, err)
}
