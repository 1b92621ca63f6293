// Package messages implements the `messages` core table (spec §6): the
// conversation history the Pipeline Orchestrator loads for scout's
// planning context and appends the user turn and final assistant reply to.
// Shares the append-only, pgx-backed shape of internal/audit's Store.
package messages

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Store persists conversation turns, read back oldest-first and capped at
// limit, matching what the orchestrator's splitHistory expects.
type Store interface {
	Append(ctx context.Context, msg axismsg.ConversationMessage) error
	List(ctx context.Context, conversationID string, limit int) ([]axismsg.ConversationMessage, error)
}

// MemStore is an in-memory Store for tests and single-node dev use.
type MemStore struct {
	mu   sync.Mutex
	byID map[string][]axismsg.ConversationMessage
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string][]axismsg.ConversationMessage)}
}

// Append implements Store.
func (m *MemStore) Append(_ context.Context, msg axismsg.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[msg.ConversationID] = append(m.byID[msg.ConversationID], msg)
	return nil
}

// List implements Store, returning the most recent limit messages in
// oldest-first order.
func (m *MemStore) List(_ context.Context, conversationID string, limit int) ([]axismsg.ConversationMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.byID[conversationID]
	if limit <= 0 || len(all) <= limit {
		out := make([]axismsg.ConversationMessage, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]axismsg.ConversationMessage, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// PostgresStore persists conversation turns through the shared pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, msg axismsg.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, job_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, nullableString(msg.JobID), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append conversation message: %w", err)
	}
	return nil
}

// List implements Store, returning the most recent limit messages for
// conversationID in oldest-first order.
func (s *PostgresStore) List(ctx context.Context, conversationID string, limit int) ([]axismsg.ConversationMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, COALESCE(job_id, ''), created_at
		FROM (
			SELECT id, conversation_id, role, content, job_id, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	defer rows.Close()

	var out []axismsg.ConversationMessage
	for rows.Next() {
		var msg axismsg.ConversationMessage
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.JobID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
