// Package audit implements the Audit Log (C9): an append-only record of
// every dispatch, validation decision, approval, and gear call, backed by
// the same pgx pool as the job queue, with an optional Slack digest sink
// for critical-risk entries.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Store is an append-only audit log.
type Store interface {
	Append(ctx context.Context, entry axismsg.AuditEntry) error
	List(ctx context.Context, jobID string, limit int) ([]axismsg.AuditEntry, error)
}

// PostgresStore persists entries with a pgx pool, sharing the connection
// pool the job queue uses (spec §6 names `jobs` and `messages` as rows in
// the same database; the audit table lives alongside them).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, entry axismsg.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	detailsJSON, err := marshalDetails(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, timestamp, actor, action, risk_level, target, job_id, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.Timestamp, entry.Actor, entry.Action, string(entry.RiskLevel),
		entry.Target, nullableString(entry.JobID), detailsJSON)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// List implements Store, returning the most recent limit entries for a job
// (or all jobs, if jobID is empty), newest first.
func (s *PostgresStore) List(ctx context.Context, jobID string, limit int) ([]axismsg.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
	}
	var err error
	if jobID == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, timestamp, actor, action, risk_level, target, job_id, details
			FROM audit_log ORDER BY timestamp DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, timestamp, actor, action, risk_level, target, job_id, details
			FROM audit_log WHERE job_id=$1 ORDER BY timestamp DESC LIMIT $2`, jobID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []axismsg.AuditEntry
	for rows.Next() {
		var (
			e               axismsg.AuditEntry
			riskLevel       string
			target, job     *string
			details         []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &riskLevel, &target, &job, &details); err != nil {
			return nil, err
		}
		e.RiskLevel = axismsg.RiskLevel(riskLevel)
		if target != nil {
			e.Target = *target
		}
		if job != nil {
			e.JobID = *job
		}
		if len(details) > 0 {
			e.Details, err = unmarshalDetails(details)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
