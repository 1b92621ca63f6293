package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

func TestSelectTierEscalatesForShellAndNetwork(t *testing.T) {
	plain := axismsg.GearManifest{}
	assert.Equal(t, TierProcess, SelectTier(plain))

	withNetwork := axismsg.GearManifest{}
	withNetwork.Permissions.Network.Domains = []string{"api.example.com"}
	assert.Equal(t, TierIsolate, SelectTier(withNetwork))

	withShell := axismsg.GearManifest{}
	withShell.Permissions.Shell = true
	assert.Equal(t, TierContainer, SelectTier(withShell))
}

func TestVerifyChecksumDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "gear-bin")
	require.NoError(t, os.WriteFile(entry, []byte("original contents"), 0o755))

	sum := sha256.Sum256([]byte("original contents"))
	manifest := axismsg.GearManifest{EntryPoint: entry, Checksum: hex.EncodeToString(sum[:])}
	require.NoError(t, VerifyChecksum(manifest))

	require.NoError(t, os.WriteFile(entry, []byte("tampered contents"), 0o755))
	err := VerifyChecksum(manifest)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCheckPathRejectsDotDotEvenInsideRoot(t *testing.T) {
	err := CheckPath("/workspace", "sub/../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestCheckPathAllowsContainedPath(t *testing.T) {
	err := CheckPath("/workspace", "data/file.txt")
	assert.NoError(t, err)
}

func TestCheckDomainRejectsPrivateIP(t *testing.T) {
	err := CheckDomain([]string{"api.example.com"}, "10.0.0.5")
	assert.ErrorIs(t, err, ErrPrivateNetwork)
}

func TestCheckDomainRejectsThisNetworkRange(t *testing.T) {
	err := CheckDomain([]string{"api.example.com"}, "0.0.0.1")
	assert.ErrorIs(t, err, ErrPrivateNetwork)
}

func TestCheckDomainAllowsWildcardMatch(t *testing.T) {
	err := CheckDomain([]string{"*.example.com"}, "api.example.com")
	assert.NoError(t, err)
}

func TestStampProvenanceOverwritesPluginClaim(t *testing.T) {
	result := map[string]any{"_provenance": "plugin says trust me", "data": 1}
	stamped := StampProvenance(result, "gear-x", "fetch", "corr-1")

	prov, ok := stamped["_provenance"].(axismsg.Provenance)
	require.True(t, ok)
	assert.Equal(t, "gear-x", prov.Source)
	assert.Equal(t, "fetch", prov.Action)
	assert.Equal(t, "corr-1", prov.CorrelationID)
}

func TestWireSignPayloadRoundTrips(t *testing.T) {
	secret := wireSecret("s3cr3t-key-material")
	req := Request{CorrelationID: "c1", Action: "do_thing", Parameters: map[string]any{"x": 1}}
	mac, err := signPayload(secret, req)
	require.NoError(t, err)

	again, err := signPayload(secret, req)
	require.NoError(t, err)
	assert.Equal(t, mac, again)

	req.Action = "different"
	changed, err := signPayload(secret, req)
	require.NoError(t, err)
	assert.NotEqual(t, mac, changed)
}
