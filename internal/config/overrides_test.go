package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOverrideStore struct {
	overrides map[string]string
}

func (f fakeOverrideStore) List(context.Context) (map[string]string, error) {
	return f.overrides, nil
}

func TestApplyOverridesSetsRecognizedKeys(t *testing.T) {
	cfg := Defaults(TierDesktop)
	store := fakeOverrideStore{overrides: map[string]string{
		"env":                          "production",
		"http.addr":                    ":9999",
		"validator.llm_assist_enabled": "true",
		"worker.max_concurrent_jobs":   "16",
	}}

	require.NoError(t, ApplyOverrides(context.Background(), &cfg, store))
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.True(t, cfg.Validator.LLMAssistEnabled)
	assert.Equal(t, 16, cfg.Worker.MaxConcurrentJobs)
}

func TestApplyOverridesIgnoresUnrecognizedKeys(t *testing.T) {
	cfg := Defaults(TierDesktop)
	original := cfg
	store := fakeOverrideStore{overrides: map[string]string{"nonsense.key": "value"}}

	require.NoError(t, ApplyOverrides(context.Background(), &cfg, store))
	assert.Equal(t, original, cfg)
}

func TestApplyOverridesIgnoresMalformedTypedValues(t *testing.T) {
	cfg := Defaults(TierDesktop)
	store := fakeOverrideStore{overrides: map[string]string{
		"validator.llm_assist_enabled": "not-a-bool",
	}}

	require.NoError(t, ApplyOverrides(context.Background(), &cfg, store))
	assert.False(t, cfg.Validator.LLMAssistEnabled)
}

func TestApplyOverridesWithNilStoreIsNoop(t *testing.T) {
	cfg := Defaults(TierDesktop)
	original := cfg
	require.NoError(t, ApplyOverrides(context.Background(), &cfg, nil))
	assert.Equal(t, original, cfg)
}
