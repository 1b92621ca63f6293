package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// poolReadiness reports ready once the database pool answers a ping. A nil
// pool (in-memory stores, no Postgres configured) is always ready.
type poolReadiness struct {
	pool *pgxpool.Pool
}

func (p poolReadiness) Ready(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}
