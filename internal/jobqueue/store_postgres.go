package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// PostgresStore is the production Store, backed by a pgx pool. CAS
// transitions are implemented as a single conditional UPDATE rather than
// the teacher's transactional "SELECT ... FOR UPDATE SKIP LOCKED" claim
// (pkg/queue/worker.go) because spec.md's state machine carries an
// explicit version column (invariant (c)) that the teacher's row-lock
// approach has no equivalent of.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. Schema is applied by
// the migrations package before this is constructed.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert implements Store.
func (p *PostgresStore) Insert(ctx context.Context, job *Job) error {
	plan, err := marshalNullable(job.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	validation, err := marshalNullable(job.Validation)
	if err != nil {
		return fmt.Errorf("marshal validation: %w", err)
	}
	result, err := marshalNullable(job.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	jobErr, err := marshalNullable(job.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, conversation_id, source, status, version, created_at, updated_at,
			 claimed_at, completed_at, worker_id, plan, validation, result, error,
			 retries, max_retries)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		job.ID, job.ConversationID, string(job.Source), string(job.Status), job.Version,
		job.CreatedAt, job.UpdatedAt, job.ClaimedAt, job.CompletedAt, job.WorkerID,
		plan, validation, result, jobErr, job.Retries, job.MaxRetries)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get implements Store.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, conversation_id, source, status, version, created_at, updated_at,
		       claimed_at, completed_at, worker_id, plan, validation, result, error,
		       retries, max_retries
		FROM jobs WHERE id=$1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ClaimNext implements Store as a single UPDATE ... RETURNING against the
// oldest queued row, avoiding a separate SELECT-then-UPDATE race window.
func (p *PostgresStore) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE jobs SET status=$1, version=version+1, worker_id=$2, claimed_at=$3, updated_at=$3
		WHERE id = (
			SELECT id FROM jobs WHERE status=$4 ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING id, conversation_id, source, status, version, created_at, updated_at,
		          claimed_at, completed_at, worker_id, plan, validation, result, error,
		          retries, max_retries`,
		string(StatusPlanning), workerID, time.Now().UTC(), string(StatusQueued))

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return job, nil
}

// CAS implements Store's compare-and-swap contract as a single conditional
// UPDATE keyed on (id, version, status), checking RowsAffected()==1.
func (p *PostgresStore) CAS(ctx context.Context, id string, expectStatus Status, expectVersion int64, newStatus Status, patch func(*Job)) (*Job, bool, error) {
	if !LegalTransition(expectStatus, newStatus) {
		return nil, false, nil
	}

	current, err := p.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status != expectStatus || current.Version != expectVersion {
		return nil, false, nil
	}
	if patch != nil {
		patch(current)
	}
	current.Status = newStatus
	now := time.Now().UTC()
	current.UpdatedAt = now
	if newStatus.Terminal() {
		current.CompletedAt = &now
	}

	plan, err := marshalNullable(current.Plan)
	if err != nil {
		return nil, false, err
	}
	validation, err := marshalNullable(current.Validation)
	if err != nil {
		return nil, false, err
	}
	result, err := marshalNullable(current.Result)
	if err != nil {
		return nil, false, err
	}
	jobErr, err := marshalNullable(current.Error)
	if err != nil {
		return nil, false, err
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET status=$1, version=version+1, updated_at=$2, claimed_at=$3,
		       completed_at=$4, worker_id=$5, plan=$6, validation=$7, result=$8,
		       error=$9, retries=$10
		WHERE id=$11 AND version=$12 AND status=$13`,
		string(newStatus), now, current.ClaimedAt, current.CompletedAt, current.WorkerID,
		plan, validation, result, jobErr, current.Retries,
		id, expectVersion, string(expectStatus))
	if err != nil {
		return nil, false, fmt.Errorf("cas update job %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return nil, false, nil
	}
	current.Version = expectVersion + 1
	return current, true, nil
}

// ListStale implements Store.
func (p *PostgresStore) ListStale(ctx context.Context, olderThan time.Time, liveWorkers map[string]bool) ([]*Job, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, source, status, version, created_at, updated_at,
		       claimed_at, completed_at, worker_id, plan, validation, result, error,
		       retries, max_retries
		FROM jobs
		WHERE status NOT IN ($1,$2,$3) AND updated_at <= $4`,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled), olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		if job.WorkerID != "" && liveWorkers[job.WorkerID] {
			continue
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ListByStatus implements Store.
func (p *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, source, status, version, created_at, updated_at,
		       claimed_at, completed_at, worker_id, plan, validation, result, error,
		       retries, max_retries
		FROM jobs WHERE status=$1`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Requeue implements Store as a single conditional UPDATE back to queued,
// bypassing the legal-transition table (see Store.Requeue doc).
func (p *PostgresStore) Requeue(ctx context.Context, id string, expectVersion int64) (*Job, bool, error) {
	now := time.Now().UTC()
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET status=$1, version=version+1, worker_id='', claimed_at=NULL,
		       retries=retries+1, updated_at=$2
		WHERE id=$3 AND version=$4 AND status NOT IN ($5,$6,$7)`,
		string(StatusQueued), now, id, expectVersion,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled))
	if err != nil {
		return nil, false, fmt.Errorf("requeue job %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return nil, false, nil
	}
	job, err := p.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*Job, error) {
	var (
		job                     Job
		source, status          string
		plan, validation        []byte
		result, jobErr          []byte
	)
	if err := row.Scan(
		&job.ID, &job.ConversationID, &source, &status, &job.Version,
		&job.CreatedAt, &job.UpdatedAt, &job.ClaimedAt, &job.CompletedAt, &job.WorkerID,
		&plan, &validation, &result, &jobErr, &job.Retries, &job.MaxRetries,
	); err != nil {
		return nil, err
	}
	job.Source = Source(source)
	job.Status = Status(status)

	if len(plan) > 0 {
		job.Plan = &axismsg.ExecutionPlan{}
		if err := json.Unmarshal(plan, job.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	}
	if len(validation) > 0 {
		job.Validation = &axismsg.ValidationResult{}
		if err := json.Unmarshal(validation, job.Validation); err != nil {
			return nil, fmt.Errorf("unmarshal validation: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(jobErr) > 0 {
		job.Error = &JobError{}
		if err := json.Unmarshal(jobErr, job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return &job, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
