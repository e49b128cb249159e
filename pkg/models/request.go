// Package models holds the request/response and persistence types shared
// across the gateway's components.
package models

import "time"

// Request is the inbound envelope for a single natural-language or raw-SQL
// question.
type Request struct {
	Query         string `json:"query"`
	UserID        string `json:"user_id,omitempty"`
	ClientIP      string `json:"client_ip,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	BypassCache   bool   `json:"bypass_cache,omitempty"`
}

// Plan is the planner's output: a candidate SQL statement and the
// explanation/confidence the LLM attached to it.
type Plan struct {
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

// Usage tracks LLM token accounting for a single planning call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExecutionResult is the materialized result of running a validated SQL
// statement against the read-only data store.
type ExecutionResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Response is the outbound envelope returned to the caller. An executed
// success carries {tool_used, confidence, result, trace_id, cost_usd,
// notes} plus the executed SQL and its Explanation. The confidence-gate
// clarification case carries the candidate SQL and, in Clarification, the
// planner's explanation, with no Result. Zero-valued optional fields are
// omitted from the JSON.
type Response struct {
	ToolUsed      string           `json:"tool_used,omitempty"`
	Confidence    float64          `json:"confidence,omitempty"`
	Result        *ExecutionResult `json:"result,omitempty"`
	TraceID       string           `json:"trace_id"`
	CostUSD       float64          `json:"cost_usd,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	SQL           string           `json:"sql,omitempty"`
	Explanation   string           `json:"explanation,omitempty"`
	Clarification string           `json:"clarification,omitempty"`
	Error         *ErrorEnvelope   `json:"error,omitempty"`
}

// ErrorEnvelope is the 7-key structured error shape returned to callers.
type ErrorEnvelope struct {
	ErrorType string         `json:"error_type"`
	Category  string         `json:"category"`
	Severity  string         `json:"severity"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
}

// AuditRecord is a single append-only row in the audit trail.
type AuditRecord struct {
	Timestamp     time.Time `json:"ts"`
	CorrelationID string    `json:"correlation_id"`
	UserID        string    `json:"user_id,omitempty"`
	Tool          string    `json:"tool"`
	Action        string    `json:"action"`
	InputHash     string    `json:"input_hash"`
	OutputHash    string    `json:"output_hash"`
	Success       bool      `json:"success"`
	DurationMs    int64     `json:"duration_ms"`
	TokensInput   int       `json:"tokens_input"`
	TokensOutput  int       `json:"tokens_output"`
	CostUSD       float64   `json:"cost_usd"`
}

// HistoryEntry is a row in the long-retention query history store.
type HistoryEntry struct {
	QueryHash        string    `json:"query_hash"`
	NLQuery          string    `json:"nl_query"`
	GeneratedSQL     string    `json:"generated_sql"`
	QueryType        string    `json:"query_type,omitempty"`
	TablesUsed       []string  `json:"tables_used,omitempty"`
	AggregationsUsed []string  `json:"aggregations_used,omitempty"`
	UseCount         int64     `json:"use_count"`
	CreatedAt        time.Time `json:"created_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// CacheEntry is the value shape stored in the short-term cache, keyed by
// the natural-language query's canonical hash.
type CacheEntry struct {
	Plan      Plan      `json:"plan"`
	StoredAt  time.Time `json:"stored_at"`
}
