package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsScaleWorkerCountByTier(t *testing.T) {
	assert.Equal(t, 1, Defaults(TierPi).Worker.WorkerCount)
	assert.Equal(t, 4, Defaults(TierDesktop).Worker.WorkerCount)
	assert.Equal(t, 8, Defaults(TierVPS).Worker.WorkerCount)
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	t.Setenv("AXIS_TIER", string(TierDesktop))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, TierDesktop, cfg.Tier)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	t.Setenv("AXIS_TIER", string(TierDesktop))
	dir := t.TempDir()
	path := filepath.Join(dir, "axiscore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
env = "production"

[http]
addr = ":9090"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	// Untouched defaults survive the merge.
	assert.Equal(t, 4, cfg.Worker.WorkerCount)
}

func TestEnvOverlayWinsOverFile(t *testing.T) {
	t.Setenv("AXIS_TIER", string(TierDesktop))
	t.Setenv("AXIS_HTTP_ADDR", ":7000")
	dir := t.TempDir()
	path := filepath.Join(dir, "axiscore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[http]
addr = ":9090"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
}

func TestLoadGearManifestsRejectsMissingID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
entryPoint: ./bad
checksum: deadbeef
`), 0o600))

	_, err := LoadGearManifests(dir)
	assert.Error(t, err)
}

func TestLoadGearManifestsReadsValidManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.yaml"), []byte(`
id: echo
name: Echo
version: "1.0.0"
entryPoint: ./echo
checksum: deadbeef
`), 0o600))

	manifests, err := LoadGearManifests(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "echo", manifests[0].ID)
}
