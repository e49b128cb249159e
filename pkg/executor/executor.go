// Package executor runs validated, read-only SQL against the analytics
// database and materializes results into JSON-friendly values (C3).
package executor

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/safequery-inc/safequery-gateway/pkg/apperrors"
	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// Executor runs already-validated SQL statements against a pgx pool. It
// never validates, rewrites, or limits a query itself — that is the
// validator's job, performed upstream.
type Executor struct {
	pool *pgxpool.Pool
}

// New builds an Executor backed by pool.
func New(pool *pgxpool.Pool) *Executor {
	return &Executor{pool: pool}
}

// Execute runs sqlQuery and materializes every row into a JSON-friendly
// map, converting pgx's native decimal/timestamp scan types into plain
// float64/ISO-8601-string values so the result serializes directly.
func (e *Executor) Execute(ctx context.Context, sqlQuery string) (models.ExecutionResult, error) {
	rows, err := e.pool.Query(ctx, sqlQuery)
	if err != nil {
		return models.ExecutionResult{}, apperrors.NewExecutionError(
			"query execution failed", isRetryable(err), map[string]any{"sql": sqlQuery}, err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return models.ExecutionResult{}, apperrors.NewExecutionError(
				"failed to read row values", isRetryable(err), nil, err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return models.ExecutionResult{}, apperrors.NewExecutionError(
			"error iterating result rows", isRetryable(err), nil, err)
	}

	return models.ExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// isRetryable classifies an execution failure per spec.md §4.2/§4.12: a
// driver-level permission issue is never retryable, while a transport
// failure (network error, deadline exceeded) is. Any other failure,
// including every other server-reported SQLSTATE, is not retryable.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isPermissionDenied(pgErr.Code) {
			return false
		}
		// Any other SQLSTATE is unclassified and, like every unclassified
		// failure, is not retried.
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// isPermissionDenied reports whether a Postgres SQLSTATE code is one of
// the driver-level access-denial classes: insufficient_privilege and the
// invalid_authorization_specification class.
func isPermissionDenied(code string) bool {
	switch code {
	case "42501", "28000", "28P01":
		return true
	default:
		return false
	}
}

// normalizeValue converts pgx scan values into JSON-serializable
// equivalents: decimal.Decimal and time.Time become float64 and an
// ISO-8601 string respectively, everything else passes through unchanged.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case decimal.Decimal:
		f, _ := val.Float64()
		return f
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
