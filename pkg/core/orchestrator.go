// Package core implements the gateway's central orchestrator (C11): the
// single entry point that takes a Request, drives it through rate
// limiting, planning, validation, and execution, and assembles the
// Response envelope returned to the caller. Every exit path is audited.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/apperrors"
	"github.com/safequery-inc/safequery-gateway/pkg/history"
	"github.com/safequery-inc/safequery-gateway/pkg/models"
	"github.com/safequery-inc/safequery-gateway/pkg/planner"
	"github.com/safequery-inc/safequery-gateway/pkg/sql"
)

// Planner is the subset of the planner's API the orchestrator needs.
// *planner.Planner satisfies this.
type Planner interface {
	Plan(ctx context.Context, nlQuery string, bypassCache bool) (planner.Result, error)
}

// Cache is the subset of the short-term cache's API the orchestrator needs
// to persist a freshly-generated plan. *cache.ShortTermCache satisfies this.
type Cache interface {
	Set(ctx context.Context, query string, plan models.Plan) error
}

// History is the subset of the query history store's API the orchestrator
// needs to persist a freshly-generated plan. *history.Store satisfies this.
type History interface {
	Store(ctx context.Context, entry models.HistoryEntry) error
}

// Executor is the subset of the query executor's API the orchestrator
// needs. *executor.Executor satisfies this.
type Executor interface {
	Execute(ctx context.Context, sqlQuery string) (models.ExecutionResult, error)
}

// RateLimiter is the subset of the rate limiter's API the orchestrator
// needs. *ratelimit.Limiter satisfies this.
type RateLimiter interface {
	Allow(identifier string) (allowed bool, retryAfter time.Duration)
}

// AuditSink is the subset of the audit sink's API the orchestrator needs.
// *audit.Sink satisfies this.
type AuditSink interface {
	Scope(ctx context.Context, correlationID, userID, tool, action string, input any) func(output any, success bool, tokensIn, tokensOut int, costUSD float64)
}

// Validator is the subset of the SQL safety validator's API the
// orchestrator needs. *sql.Validator satisfies this.
type Validator interface {
	Validate(sqlQuery string) (string, error)
}

// costPerThousandTokens is a rough, documented estimate used only for the
// audit trail's cost_usd field — the gateway has no real-time vendor
// pricing feed, so this is a fixed placeholder rather than a live quote.
const costPerThousandTokens = 0.002

// SqlTool is the C11 core orchestrator. It is the only component that
// touches every other component directly, and it never trusts a Plan's
// origin: cache hits, history reuses, and fresh LLM output are all
// re-validated before anything executes.
type SqlTool struct {
	planner         Planner
	validator       Validator
	executor        Executor
	limiter         RateLimiter
	shortTermCache  Cache
	historyStore    History
	auditSink       AuditSink
	securityAuditor *auditSecurityLogger

	confidenceThreshold float64
	logger              *zap.Logger
}

// auditSecurityLogger narrows the concrete *audit.SecurityAuditor to the
// two calls the orchestrator makes, so tests can swap in a no-op without
// importing the audit package's InjectionDetails type.
type auditSecurityLogger struct {
	logInjection func(correlationID, userID, clientIP, sqlText, fingerprint string)
	logRejection func(correlationID, userID, clientIP, reason string)
}

// Option configures a SqlTool at construction time.
type Option func(*SqlTool)

// WithConfidenceThreshold overrides the minimum planner confidence an
// LLM-sourced plan must clear before it is executed.
func WithConfidenceThreshold(t float64) Option {
	return func(s *SqlTool) { s.confidenceThreshold = t }
}

// New builds a SqlTool. logInjection and logRejection wrap the security
// auditor's two call sites; pass nil for either in tests that don't care
// about SIEM logging.
func New(
	p Planner,
	v Validator,
	e Executor,
	l RateLimiter,
	c Cache,
	h History,
	a AuditSink,
	logInjection func(correlationID, userID, clientIP, sqlText, fingerprint string),
	logRejection func(correlationID, userID, clientIP, reason string),
	logger *zap.Logger,
	opts ...Option,
) *SqlTool {
	s := &SqlTool{
		planner:             p,
		validator:           v,
		executor:            e,
		limiter:             l,
		shortTermCache:      c,
		historyStore:        h,
		auditSink:           a,
		securityAuditor:     &auditSecurityLogger{logInjection: logInjection, logRejection: logRejection},
		confidenceThreshold: 0.7,
		logger:              logger.Named("core"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query runs the full pipeline for a single Request and returns the
// Response envelope. It never returns a Go error: every failure mode is
// represented in the Response's Error field so the caller always gets a
// well-formed envelope.
func (s *SqlTool) Query(ctx context.Context, req models.Request) models.Response {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	identifier := req.UserID
	if identifier == "" {
		identifier = req.ClientIP
	}
	if identifier == "" {
		identifier = "anonymous"
	}

	done := s.auditSink.Scope(ctx, correlationID, req.UserID, "sql", "query", req.Query)
	var tokensIn, tokensOut int
	var costUSD float64
	var resp models.Response
	success := false
	defer func() { done(resp, success, tokensIn, tokensOut, costUSD) }()

	if allowed, retryAfter := s.limiter.Allow(identifier); !allowed {
		resp = errorResponse(correlationID, apperrors.NewRateLimitError(
			"rate limit exceeded", retryAfter.Seconds(), map[string]any{"identifier": identifier}))
		return resp
	}

	var plan models.Plan
	var source planner.Source
	var usage models.Usage
	isRaw := sql.IsRawSQL(req.Query)

	if isRaw {
		plan = models.Plan{SQL: req.Query, Explanation: "Caller-supplied raw SQL.", Confidence: 1.0}
		source = planner.SourceRaw
	} else {
		result, err := s.planner.Plan(ctx, req.Query, req.BypassCache)
		if err != nil {
			resp = errorResponse(correlationID, err)
			return resp
		}
		plan = result.Plan
		source = result.Source
		usage = result.Usage
		tokensIn = usage.PromptTokens
		tokensOut = usage.CompletionTokens
		costUSD = estimateCost(usage)

		if source == planner.SourceLLM && plan.Confidence < s.confidenceThreshold {
			resp = models.Response{
				ToolUsed:      "sql",
				Confidence:    plan.Confidence,
				TraceID:       correlationID,
				SQL:           plan.SQL,
				Clarification: plan.Explanation,
				Notes:         "low_confidence",
			}
			success = true
			return resp
		}
	}

	sanitized, err := s.validator.Validate(plan.SQL)
	if err != nil {
		if s.securityAuditor.logRejection != nil {
			s.securityAuditor.logRejection(correlationID, req.UserID, req.ClientIP, err.Error())
		}
		resp = errorResponse(correlationID, apperrors.NewValidationError(err.Error(), map[string]any{"sql": plan.SQL}))
		return resp
	}

	if signal := sql.CheckQueryForInjection(sanitized); signal.IsSQLi && s.securityAuditor.logInjection != nil {
		s.securityAuditor.logInjection(correlationID, req.UserID, req.ClientIP, sanitized, signal.Fingerprint)
	}

	execResult, err := s.executor.Execute(ctx, sanitized)
	if err != nil {
		resp = errorResponse(correlationID, err)
		return resp
	}

	historyWriteFailed := false
	// Only a fresh LLM plan needs to be written through: a history hit is
	// already warmed into the short-term cache by the planner itself, and
	// re-storing it here would double-increment use_count on top of the
	// Lookup that already bumped it.
	// bypass_cache skips the short-term cache write; history is still written.
	if source == planner.SourceLLM {
		if !req.BypassCache {
			if setErr := s.shortTermCache.Set(ctx, req.Query, models.Plan{SQL: sanitized, Explanation: plan.Explanation, Confidence: plan.Confidence}); setErr != nil {
				s.logger.Warn("failed to populate short-term cache", zap.Error(setErr))
			}
		}
		entry := models.HistoryEntry{
			NLQuery:          req.Query,
			GeneratedSQL:     sanitized,
			QueryType:        history.ClassifyQueryType(sanitized),
			TablesUsed:       history.ExtractTables(sanitized),
			AggregationsUsed: history.ExtractAggregations(sanitized),
		}
		if storeErr := s.historyStore.Store(ctx, entry); storeErr != nil {
			s.logger.Warn("failed to persist query history", zap.Error(storeErr))
			historyWriteFailed = true
		}
	}

	notes := notesForSource(source)
	if historyWriteFailed {
		notes = "history_write_failed"
	}

	resp = models.Response{
		ToolUsed:   "sql",
		Confidence: plan.Confidence,
		Result: &models.ExecutionResult{
			Columns:  execResult.Columns,
			Rows:     execResult.Rows,
			RowCount: execResult.RowCount,
		},
		TraceID:     correlationID,
		CostUSD:     costUSD,
		Notes:       notes,
		SQL:         sanitized,
		Explanation: plan.Explanation,
	}
	success = true
	return resp
}

// notesForSource maps a plan's origin to the exact notes string spec.md §6
// requires on a normal (non-partial-failure) success response. A plan
// sourced fresh from the LLM or supplied as raw SQL carries no special
// note — only reuse of a prior answer does.
func notesForSource(source planner.Source) string {
	switch source {
	case planner.SourceCache:
		return "cache_hit"
	case planner.SourceHistory:
		return "history_reuse"
	default:
		return ""
	}
}

// estimateCost derives a rough cost_usd figure from token usage. There is
// no live vendor pricing feed wired in, so this is a fixed per-thousand-
// token rate rather than an exact quote; callers needing exact billing
// should reconcile against the vendor's own invoice, not this field.
func estimateCost(usage models.Usage) float64 {
	if usage.TotalTokens == 0 {
		return 0
	}
	return float64(usage.TotalTokens) / 1000.0 * costPerThousandTokens
}

func errorResponse(correlationID string, err error) models.Response {
	envelope := &models.ErrorEnvelope{
		ErrorType: "UnknownError",
		Category:  string(apperrors.CategoryUnknown),
		Severity:  string(apperrors.SeverityError),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
	if se, ok := apperrors.AsStructured(err); ok {
		envelope = &models.ErrorEnvelope{
			ErrorType: se.ErrorType,
			Category:  string(se.Category),
			Severity:  string(se.Severity),
			Retryable: se.Retryable,
			Details:   se.Details,
			Timestamp: se.Timestamp,
			Message:   se.Message,
		}
	}
	return models.Response{TraceID: correlationID, Error: envelope}
}
