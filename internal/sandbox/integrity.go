package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// VerifyChecksum recomputes the SHA-256 of a gear's entry point and
// compares it to the manifest's declared checksum. A mismatch means the
// on-disk binary was modified after the manifest was signed — the gear
// must be disabled, never launched with a "best effort" warning.
func VerifyChecksum(manifest axismsg.GearManifest) error {
	f, err := os.Open(manifest.EntryPoint)
	if err != nil {
		return fmt.Errorf("open entry point: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash entry point: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))

	if got != manifest.Checksum {
		return fmt.Errorf("%w: manifest declares %s, entry point hashes to %s", ErrChecksumMismatch, manifest.Checksum, got)
	}
	return nil
}
