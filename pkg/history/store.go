// Package history implements the long-retention query history store (C9):
// the second tier of the gateway's three-tier read path, sitting between
// the short-term cache and the LLM planner.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safequery-inc/safequery-gateway/pkg/apperrors"
	"github.com/safequery-inc/safequery-gateway/pkg/cache"
	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

// DefaultRetentionDays matches the gateway's out-of-the-box retention
// policy for stored query plans.
const DefaultRetentionDays = 30

// Hash returns the SHA-256 hex digest of the normalized (lowercased,
// trimmed, whitespace-collapsed) natural-language query. It uses the
// short-term cache's normalization so a query's two tiers agree on identity.
func Hash(nlQuery string) string {
	normalized := cache.NormalizeQuery(nlQuery)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Store is the Postgres-backed C9 component.
type Store struct {
	pool           *pgxpool.Pool
	retentionDays  int
}

// Option configures a Store.
type Option func(*Store)

// WithRetentionDays overrides the default 30-day retention window.
func WithRetentionDays(days int) Option {
	return func(s *Store) { s.retentionDays = days }
}

// NewStore builds a Store backed by pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, retentionDays: DefaultRetentionDays}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup hashes nlQuery and returns its non-expired entry, if any,
// atomically incrementing use_count and refreshing last_used_at on a hit.
func (s *Store) Lookup(ctx context.Context, nlQuery string) (models.HistoryEntry, bool, error) {
	hash := Hash(nlQuery)

	const query = `
		UPDATE query_history
		SET use_count = use_count + 1, last_used_at = now()
		WHERE query_hash = $1 AND expires_at > now()
		RETURNING query_hash, nl_query, generated_sql, query_type,
			tables_used, aggregations_used, use_count, created_at, last_used_at, expires_at`

	var entry models.HistoryEntry
	err := s.pool.QueryRow(ctx, query, hash).Scan(
		&entry.QueryHash, &entry.NLQuery, &entry.GeneratedSQL, &entry.QueryType,
		&entry.TablesUsed, &entry.AggregationsUsed, &entry.UseCount,
		&entry.CreatedAt, &entry.LastUsedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HistoryEntry{}, false, nil
	}
	if err != nil {
		return models.HistoryEntry{}, false, apperrors.NewExecutionError(
			"query history lookup failed", false, nil, err)
	}
	return entry, true, nil
}

// Store upserts entry by query_hash. On conflict, the existing row's
// use_count is incremented and last_used_at/expires_at refreshed — the
// first validated SQL for a given query hash is never overwritten, so the
// library of remembered plans stays stable.
func (s *Store) Store(ctx context.Context, entry models.HistoryEntry) error {
	if entry.QueryHash == "" {
		entry.QueryHash = Hash(entry.NLQuery)
	}
	now := time.Now().UTC()
	expiresAt := now.AddDate(0, 0, s.retentionDays)

	const query = `
		INSERT INTO query_history (
			query_hash, nl_query, generated_sql, query_type,
			tables_used, aggregations_used,
			created_at, last_used_at, use_count, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, now(), now(), 1, $7)
		ON CONFLICT (query_hash) DO UPDATE SET
			last_used_at = now(),
			use_count = query_history.use_count + 1,
			expires_at = $7`

	_, err := s.pool.Exec(ctx, query,
		entry.QueryHash, entry.NLQuery, entry.GeneratedSQL, entry.QueryType,
		entry.TablesUsed, entry.AggregationsUsed, expiresAt,
	)
	if err != nil {
		return apperrors.NewExecutionError("failed to store query history entry", false, nil, err)
	}
	return nil
}

// Cleanup deletes all entries past their retention window and returns the
// number removed. Intended to be invoked by an external scheduler, not by
// the request path.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM query_history WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired query history entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
