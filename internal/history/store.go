// Package history persists completed scenario exchanges for diagnostics.
// Persistence is optional: the bridge runs without a database, a nil *Store
// is a no-op, and the response pipeline never depends on it.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store writes exchange records to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store on the given pool. A nil pool yields a nil store,
// which every method tolerates.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Exchange describes one completed query/response cycle.
type Exchange struct {
	Query          string
	Outcome        string // "parsed", "passthrough", "transport_failed"
	ModelUsed      string
	AnalysisLength int
	Duration       time.Duration
}

// ExchangeRecord is a stored exchange as read back from the database.
type ExchangeRecord struct {
	ID             string    `json:"id"`
	Query          string    `json:"query"`
	Outcome        string    `json:"outcome"`
	ModelUsed      string    `json:"model_used,omitempty"`
	AnalysisLength int       `json:"analysis_length"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// EnsureSchema creates the exchanges table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS exchanges (
			id UUID PRIMARY KEY,
			query TEXT NOT NULL,
			outcome TEXT NOT NULL,
			model_used TEXT,
			analysis_length INT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure exchanges schema: %w", err)
	}
	return nil
}

// RecordExchange inserts one exchange. No-op on a nil store.
func (s *Store) RecordExchange(ctx context.Context, ex Exchange) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exchanges (id, query, outcome, model_used, analysis_length, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), ex.Query, ex.Outcome, ex.ModelUsed, ex.AnalysisLength, ex.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// RecentExchanges returns the most recent exchanges, newest first.
func (s *Store) RecentExchanges(ctx context.Context, limit int) ([]ExchangeRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, query, outcome, COALESCE(model_used, ''), analysis_length, duration_ms, created_at
		FROM exchanges
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var records []ExchangeRecord
	for rows.Next() {
		var rec ExchangeRecord
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.Outcome, &rec.ModelUsed, &rec.AnalysisLength, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exchanges: %w", err)
	}
	return records, nil
}
