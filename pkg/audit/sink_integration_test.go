//go:build integration

package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/models"
	"github.com/safequery-inc/safequery-gateway/pkg/testhelpers"
)

func TestSink_Record(t *testing.T) {
	gw := testhelpers.GetGatewayDB(t)
	ctx := context.Background()
	sink := NewSink(gw.DB.Pool, zap.NewNop())

	t.Cleanup(func() {
		_, _ = gw.DB.Pool.Exec(ctx, "DELETE FROM audit_log WHERE correlation_id = $1", "corr-sink-test")
	})

	sink.Record(ctx, models.AuditRecord{
		CorrelationID: "corr-sink-test",
		UserID:        "u1",
		Tool:          "sql",
		Action:        "query",
		InputHash:     HashData("show revenue"),
		OutputHash:    HashData(map[string]any{"row_count": 3}),
		Success:       true,
		DurationMs:    120,
		TokensInput:   50,
		TokensOutput:  20,
		CostUSD:       0.002,
	})

	var count int
	err := gw.DB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE correlation_id = $1", "corr-sink-test").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSink_Scope(t *testing.T) {
	gw := testhelpers.GetGatewayDB(t)
	ctx := context.Background()
	sink := NewSink(gw.DB.Pool, zap.NewNop())

	t.Cleanup(func() {
		_, _ = gw.DB.Pool.Exec(ctx, "DELETE FROM audit_log WHERE correlation_id = $1", "corr-scope-test")
	})

	func() {
		done := sink.Scope(ctx, "corr-scope-test", "u2", "sql", "query", "show jobs")
		defer func() { done(map[string]any{"row_count": 1}, true, 10, 5, 0.001) }()
	}()

	var success bool
	err := gw.DB.Pool.QueryRow(ctx,
		"SELECT success FROM audit_log WHERE correlation_id = $1", "corr-scope-test").Scan(&success)
	require.NoError(t, err)
	require.True(t, success)
}
