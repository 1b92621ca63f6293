package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateNonce produces a single-use approval token, stored on the job's
// validation metadata when it parks in awaiting_approval (spec §8 scenario
// 3). Same construction as the gateway's WS connection tokens: 32 random
// bytes, hex-encoded.
func generateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate approval nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
