package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/apperrors"
	"github.com/safequery-inc/safequery-gateway/pkg/models"
	"github.com/safequery-inc/safequery-gateway/pkg/planner"
	"github.com/safequery-inc/safequery-gateway/pkg/sql"
)

type fakePlanner struct {
	result planner.Result
	err    error
}

func (f *fakePlanner) Plan(ctx context.Context, nlQuery string, bypassCache bool) (planner.Result, error) {
	return f.result, f.err
}

type fakeCache struct {
	setCalls int
}

func (f *fakeCache) Set(ctx context.Context, query string, plan models.Plan) error {
	f.setCalls++
	return nil
}

type fakeHistory struct {
	storeCalls int
}

func (f *fakeHistory) Store(ctx context.Context, entry models.HistoryEntry) error {
	f.storeCalls++
	return nil
}

type fakeExecutor struct {
	result models.ExecutionResult
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, sqlQuery string) (models.ExecutionResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeLimiter struct {
	allow      bool
	retryAfter time.Duration
}

func (f *fakeLimiter) Allow(identifier string) (bool, time.Duration) {
	return f.allow, f.retryAfter
}

type fakeSink struct{}

func (f *fakeSink) Scope(ctx context.Context, correlationID, userID, tool, action string, input any) func(output any, success bool, tokensIn, tokensOut int, costUSD float64) {
	return func(output any, success bool, tokensIn, tokensOut int, costUSD float64) {}
}

func newValidator() *sql.Validator { return sql.NewValidator() }

func TestSqlTool_RateLimitedRequestIsRejected(t *testing.T) {
	s := New(
		&fakePlanner{}, newValidator(), &fakeExecutor{}, &fakeLimiter{allow: false, retryAfter: 5 * time.Second},
		&fakeCache{}, &fakeHistory{}, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "show revenue", UserID: "u1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, "RateLimitError", resp.Error.ErrorType)
}

func TestSqlTool_RawSQLSkipsPlannerButStillValidates(t *testing.T) {
	p := &fakePlanner{}
	e := &fakeExecutor{result: models.ExecutionResult{Columns: []string{"region"}, Rows: []map[string]any{{"region": "EMEA"}}, RowCount: 1}}
	s := New(
		p, newValidator(), e, &fakeLimiter{allow: true},
		&fakeCache{}, &fakeHistory{}, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "SELECT region FROM sales_fact LIMIT 10", UserID: "u1"})

	require.Nil(t, resp.Error)
	assert.Equal(t, "", resp.Notes)
	assert.Equal(t, 1, e.calls)
	assert.Contains(t, resp.SQL, "LIMIT 10")
}

func TestSqlTool_RawSQLRejectedByValidatorIsNotExecuted(t *testing.T) {
	e := &fakeExecutor{}
	s := New(
		&fakePlanner{}, newValidator(), e, &fakeLimiter{allow: true},
		&fakeCache{}, &fakeHistory{}, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "DROP TABLE sales_fact", UserID: "u1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, "ValidationError", resp.Error.ErrorType)
	assert.Equal(t, 0, e.calls)
}

func TestSqlTool_LowConfidenceLLMPlanReturnsClarificationWithoutExecuting(t *testing.T) {
	p := &fakePlanner{result: planner.Result{
		Plan:   models.Plan{SQL: "SELECT 1 LIMIT 1", Explanation: "not sure what you mean", Confidence: 0.2},
		Source: planner.SourceLLM,
	}}
	e := &fakeExecutor{}
	s := New(
		p, newValidator(), e, &fakeLimiter{allow: true},
		&fakeCache{}, &fakeHistory{}, &fakeSink{}, nil, nil, zap.NewNop(),
		WithConfidenceThreshold(0.7),
	)

	resp := s.Query(context.Background(), models.Request{Query: "huh", UserID: "u1"})

	require.Nil(t, resp.Error)
	assert.Equal(t, "low_confidence", resp.Notes)
	assert.NotEmpty(t, resp.Clarification)
	assert.Equal(t, 0, e.calls)
}

func TestSqlTool_CacheHitIsNotPersistedAgain(t *testing.T) {
	p := &fakePlanner{result: planner.Result{
		Plan:   models.Plan{SQL: "SELECT region FROM sales_fact LIMIT 50", Confidence: 1.0},
		Source: planner.SourceCache,
	}}
	e := &fakeExecutor{result: models.ExecutionResult{RowCount: 0}}
	c := &fakeCache{}
	h := &fakeHistory{}
	s := New(
		p, newValidator(), e, &fakeLimiter{allow: true},
		c, h, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "show region", UserID: "u1"})

	require.Nil(t, resp.Error)
	assert.Equal(t, "cache_hit", resp.Notes)
	assert.Equal(t, 0, c.setCalls)
	assert.Equal(t, 0, h.storeCalls)
}

func TestSqlTool_FreshLLMPlanIsPersistedToCacheAndHistory(t *testing.T) {
	p := &fakePlanner{result: planner.Result{
		Plan:   models.Plan{SQL: "SELECT region, SUM(revenue) FROM sales_fact GROUP BY region LIMIT 200", Confidence: 0.95},
		Source: planner.SourceLLM,
		Usage:  models.Usage{PromptTokens: 50, CompletionTokens: 20, TotalTokens: 70},
	}}
	e := &fakeExecutor{result: models.ExecutionResult{RowCount: 3}}
	c := &fakeCache{}
	h := &fakeHistory{}
	s := New(
		p, newValidator(), e, &fakeLimiter{allow: true},
		c, h, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "total revenue by region", UserID: "u1"})

	require.Nil(t, resp.Error)
	assert.Equal(t, "", resp.Notes)
	assert.Equal(t, 1, c.setCalls)
	assert.Equal(t, 1, h.storeCalls)
	assert.InDelta(t, 0.00014, resp.CostUSD, 0.00001)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 3, resp.Result.RowCount)
}

func TestSqlTool_PlannerErrorIsSurfacedAsErrorResponse(t *testing.T) {
	p := &fakePlanner{err: apperrors.NewPlannerError("LLM provider is temporarily unavailable", true,
		map[string]any{"cause": "circuit_open"}, nil)}
	s := New(
		p, newValidator(), &fakeExecutor{}, &fakeLimiter{allow: true},
		&fakeCache{}, &fakeHistory{}, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "total revenue by region", UserID: "u1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, "PlannerError", resp.Error.ErrorType)
	assert.Equal(t, "circuit_open", resp.Error.Details["cause"])
}

func TestSqlTool_ExecutionErrorIsSurfacedAsErrorResponse(t *testing.T) {
	p := &fakePlanner{result: planner.Result{
		Plan:   models.Plan{SQL: "SELECT region FROM sales_fact LIMIT 10", Confidence: 1.0},
		Source: planner.SourceHistory,
	}}
	e := &fakeExecutor{err: apperrors.NewExecutionError("query execution failed", false, nil, assert.AnError)}
	s := New(
		p, newValidator(), e, &fakeLimiter{allow: true},
		&fakeCache{}, &fakeHistory{}, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "show region", UserID: "u1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, "ExecutionError", resp.Error.ErrorType)
}

func TestSqlTool_CorrelationIDIsGeneratedWhenAbsent(t *testing.T) {
	p := &fakePlanner{result: planner.Result{
		Plan:   models.Plan{SQL: "SELECT 1 LIMIT 1", Confidence: 1.0},
		Source: planner.SourceHistory,
	}}
	s := New(
		p, newValidator(), &fakeExecutor{}, &fakeLimiter{allow: true},
		&fakeCache{}, &fakeHistory{}, &fakeSink{}, nil, nil, zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "show region", UserID: "u1"})

	assert.NotEmpty(t, resp.TraceID)
}

func TestSqlTool_SecurityCallbacksFireOnValidationRejection(t *testing.T) {
	var gotReason string
	s := New(
		&fakePlanner{}, newValidator(), &fakeExecutor{}, &fakeLimiter{allow: true},
		&fakeCache{}, &fakeHistory{}, &fakeSink{},
		nil,
		func(correlationID, userID, clientIP, reason string) { gotReason = reason },
		zap.NewNop(),
	)

	resp := s.Query(context.Background(), models.Request{Query: "DELETE FROM sales_fact", UserID: "u1"})

	require.NotNil(t, resp.Error)
	assert.NotEmpty(t, gotReason)
}
