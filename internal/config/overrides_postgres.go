package config

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOverrideStore reads the config_overrides table, the highest
// precedence layer of the spec's config stack.
type PostgresOverrideStore struct {
	pool *pgxpool.Pool
}

// NewPostgresOverrideStore wraps an already-connected pool.
func NewPostgresOverrideStore(pool *pgxpool.Pool) *PostgresOverrideStore {
	return &PostgresOverrideStore{pool: pool}
}

// List implements OverrideStore.
func (s *PostgresOverrideStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM config_overrides`)
	if err != nil {
		return nil, fmt.Errorf("list config overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config override: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
