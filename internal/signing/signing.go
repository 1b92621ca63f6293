// Package signing implements the per-component message signing and replay
// protection described in spec §4.4: every registered identity can sign a
// message body, and envelopes are verified against a time-bounded replay
// cache. No pack example repo implements message signing directly, so this
// package is built on the standard library's crypto/ed25519 — documented
// as an ambient-concern exception in DESIGN.md.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// DefaultReplayWindow is the recommended ± tolerance around an envelope's
// timestamp (spec §4.4).
const DefaultReplayWindow = 60 * time.Second

// Identity is one component's long-term signing keypair.
type Identity struct {
	Name    string
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 identity for a component.
func GenerateIdentity(name string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity %q: %w", name, err)
	}
	return &Identity{Name: name, Public: pub, private: priv}, nil
}

// replayEntry is a single cached (signer, nonce) pair with its expiry.
type replayEntry struct {
	expiresAt time.Time
}

// Service produces and verifies signed envelopes for a fixed set of
// registered identities.
type Service struct {
	replayWindow time.Duration

	mu    sync.RWMutex
	keys  map[string]*Identity
	cache map[string]replayEntry // key: signer+"\x00"+nonce

	stopCh chan struct{}
	once   sync.Once
}

// New creates a Service with the given replay window. Pass 0 to use
// DefaultReplayWindow.
func New(replayWindow time.Duration) *Service {
	if replayWindow <= 0 {
		replayWindow = DefaultReplayWindow
	}
	s := &Service{
		replayWindow: replayWindow,
		keys:         make(map[string]*Identity),
		cache:        make(map[string]replayEntry),
		stopCh:       make(chan struct{}),
	}
	return s
}

// RegisterIdentity makes an identity's public key available for
// verification (sign only requires the caller hold the Identity itself).
func (s *Service) RegisterIdentity(id *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id.Name] = id
}

// StartJanitor runs a background sweep that evicts expired nonce cache
// entries, returning a stop function. Mirrors the teacher's pattern of a
// single background goroutine owned by the component that created it
// (see events.NotifyListener).
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.replayWindow
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.evictExpired()
			}
		}
	}()
}

// Stop halts the janitor goroutine, if running.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *Service) evictExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.cache {
		if now.After(v.expiresAt) {
			delete(s.cache, k)
		}
	}
}

// Sign attaches a SignedEnvelope binding body's digest to signer's identity.
func (s *Service) Sign(body []byte, signer string) (axismsg.SignedEnvelope, error) {
	s.mu.RLock()
	id, ok := s.keys[signer]
	s.mu.RUnlock()
	if !ok {
		return axismsg.SignedEnvelope{}, fmt.Errorf("unknown signer identity %q", signer)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return axismsg.SignedEnvelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	ts := time.Now().UTC()
	signed := signingInput(body, signer, ts, nonce)
	sig := ed25519.Sign(id.private, signed)

	return axismsg.SignedEnvelope{
		Signer:    signer,
		Timestamp: ts,
		Nonce:     hex.EncodeToString(nonce),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyResult is the outcome of envelope verification.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Verify checks envelope's signature, timestamp freshness, and nonce
// uniqueness against body. The reason string is never surfaced to callers
// outside the router (spec §4.4): the router logs it but returns a generic
// ERR_AUTH to the original caller.
func (s *Service) Verify(body []byte, envelope axismsg.SignedEnvelope) VerifyResult {
	s.mu.RLock()
	id, ok := s.keys[envelope.Signer]
	s.mu.RUnlock()
	if !ok {
		return VerifyResult{Valid: false, Reason: "unknown signer"}
	}

	if time.Since(envelope.Timestamp).Abs() > s.replayWindow {
		return VerifyResult{Valid: false, Reason: "timestamp outside replay window"}
	}

	nonce, err := hex.DecodeString(envelope.Nonce)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "malformed nonce"}
	}

	sig, err := base64.StdEncoding.DecodeString(envelope.Signature)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "malformed signature"}
	}

	signed := signingInput(body, envelope.Signer, envelope.Timestamp, nonce)
	if !ed25519.Verify(id.Public, signed, sig) {
		return VerifyResult{Valid: false, Reason: "signature mismatch"}
	}

	key := envelope.Signer + "\x00" + envelope.Nonce
	s.mu.Lock()
	if _, seen := s.cache[key]; seen {
		s.mu.Unlock()
		return VerifyResult{Valid: false, Reason: "nonce replayed"}
	}
	s.cache[key] = replayEntry{expiresAt: time.Now().Add(s.replayWindow)}
	s.mu.Unlock()

	return VerifyResult{Valid: true}
}

// ErrReplayed is returned by higher layers that want a typed sentinel for
// "nonce already consumed", distinct from "signature invalid".
var ErrReplayed = errors.New("nonce replayed")

func signingInput(body []byte, signer string, ts time.Time, nonce []byte) []byte {
	out := make([]byte, 0, len(body)+len(signer)+len(nonce)+8)
	out = append(out, []byte(signer)...)
	out = append(out, []byte(ts.UTC().Format(time.RFC3339Nano))...)
	out = append(out, nonce...)
	out = append(out, body...)
	return out
}

// LogVerifyFailure is a thin helper so callers log consistently.
func LogVerifyFailure(signer string, result VerifyResult) {
	slog.Warn("envelope verification failed", "signer", signer, "reason", result.Reason)
}
