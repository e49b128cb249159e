// Package audit implements the append-only audit trail (C2): every tool
// invocation is recorded regardless of outcome, hashed rather than stored
// verbatim, and never allowed to fail the request it describes.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// HashData returns the SHA-256 hex digest of data's canonical JSON
// representation (sorted keys), matching the way the gateway fingerprints
// query inputs and outputs for the audit trail without storing them
// verbatim.
func HashData(data any) string {
	canonical, err := canonicalJSON(data)
	if err != nil {
		canonical = []byte(`"unserializable"`)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON marshals v with map keys sorted, which encoding/json
// already guarantees for map[string]any and struct field order — this
// exists to make that guarantee explicit at the call site.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Sink is the Postgres-backed append-only audit store.
type Sink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewSink builds a Sink backed by pool.
func NewSink(pool *pgxpool.Pool, logger *zap.Logger) *Sink {
	return &Sink{pool: pool, logger: logger.Named("audit")}
}

// Record appends a single audit row. Audit logging failures are logged but
// never returned to the caller — a broken audit trail must not block a
// request that otherwise succeeded or failed on its own merits.
func (s *Sink) Record(ctx context.Context, rec models.AuditRecord) {
	const query = `
		INSERT INTO audit_log (
			ts, correlation_id, user_id, tool, action,
			input_hash, output_hash, success, duration_ms,
			tokens_input, tokens_output, cost_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		rec.Timestamp, rec.CorrelationID, rec.UserID, rec.Tool, rec.Action,
		rec.InputHash, rec.OutputHash, rec.Success, rec.DurationMs,
		rec.TokensInput, rec.TokensOutput, rec.CostUSD,
	)
	if err != nil {
		s.logger.Error("failed to write audit record",
			zap.Error(err), zap.String("correlation_id", rec.CorrelationID))
	}
}

// Scope begins timing a single operation and returns a function that
// records the audit row on completion — call it via defer so a record is
// guaranteed on every exit path, panics included.
//
//	done := sink.Scope(ctx, correlationID, userID, "sql", "query", input)
//	defer func() { done(output, success, tokensIn, tokensOut, costUSD) }()
func (s *Sink) Scope(ctx context.Context, correlationID, userID, tool, action string, input any) func(output any, success bool, tokensIn, tokensOut int, costUSD float64) {
	start := time.Now()
	return func(output any, success bool, tokensIn, tokensOut int, costUSD float64) {
		s.Record(ctx, models.AuditRecord{
			Timestamp:     time.Now().UTC(),
			CorrelationID: correlationID,
			UserID:        userID,
			Tool:          tool,
			Action:        action,
			InputHash:     HashData(input),
			OutputHash:    HashData(output),
			Success:       success,
			DurationMs:    time.Since(start).Milliseconds(),
			TokensInput:   tokensIn,
			TokensOutput:  tokensOut,
			CostUSD:       costUSD,
		})
	}
}
