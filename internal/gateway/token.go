package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// tokenTTL bounds how long an issued WS token remains exchangeable before
// a connection attempt must request a fresh one.
const tokenTTL = 60 * time.Second

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemTokenStore is an in-memory TokenStore for tests and the single-process
// deployment tier.
type MemTokenStore struct {
	mu      sync.Mutex
	entries map[string]memToken
}

type memToken struct {
	sessionID string
	expiresAt time.Time
	consumed  bool
}

// NewMemTokenStore creates an empty MemTokenStore.
func NewMemTokenStore() *MemTokenStore {
	return &MemTokenStore{entries: make(map[string]memToken)}
}

// Issue implements TokenStore.
func (s *MemTokenStore) Issue(_ context.Context, sessionID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hashToken(token)] = memToken{sessionID: sessionID, expiresAt: time.Now().Add(tokenTTL)}
	return token, nil
}

// Consume implements TokenStore: a token may only ever be exchanged once.
func (s *MemTokenStore) Consume(_ context.Context, token string) (string, bool, error) {
	hash := hashToken(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[hash]
	if !ok || entry.consumed || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	entry.consumed = true
	s.entries[hash] = entry
	return entry.sessionID, true, nil
}

// PostgresTokenStore persists tokens in the `ws_connection_tokens` core
// table (spec §6), hashing the token itself the way the teacher's auth
// package hashes bearer credentials before storage (see pkg/api/auth.go) so
// a database dump never contains a usable token.
type PostgresTokenStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTokenStore wraps an already-connected pool.
func NewPostgresTokenStore(pool *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{pool: pool}
}

// Issue implements TokenStore.
func (s *PostgresTokenStore) Issue(ctx context.Context, sessionID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ws_connection_tokens (session_id, token_hash, created_at)
		VALUES ($1,$2,$3)`, sessionID, hashToken(token), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("issue ws token: %w", err)
	}
	return token, nil
}

// Consume implements TokenStore.
func (s *PostgresTokenStore) Consume(ctx context.Context, token string) (string, bool, error) {
	hash := hashToken(token)
	var sessionID string
	err := s.pool.QueryRow(ctx, `
		UPDATE ws_connection_tokens SET consumed_at=$1
		WHERE token_hash=$2 AND consumed_at IS NULL AND created_at > $3
		RETURNING session_id`,
		time.Now().UTC(), hash, time.Now().Add(-tokenTTL).UTC()).Scan(&sessionID)
	if err != nil {
		return "", false, nil
	}
	return sessionID, true, nil
}
