package config

import (
	"context"
	"log/slog"
	"strconv"
)

// OverrideStore is the highest-precedence configuration layer: a small set
// of key/value rows an operator can change at runtime without redeploying,
// read from whatever table the deployment wires up (a `config_overrides`
// table alongside the jobs/messages/audit_log core tables).
type OverrideStore interface {
	List(ctx context.Context) (map[string]string, error)
}

// ApplyOverrides layers store's entries on top of cfg using the same
// explicit-field approach as applyEnvOverlay, so a key that isn't
// recognized is logged and skipped rather than silently ignored or, worse,
// reflected onto an arbitrary struct field.
func ApplyOverrides(ctx context.Context, cfg *Config, store OverrideStore) error {
	if store == nil {
		return nil
	}
	overrides, err := store.List(ctx)
	if err != nil {
		return err
	}
	for key, value := range overrides {
		applyOverride(cfg, key, value)
	}
	return nil
}

func applyOverride(cfg *Config, key, value string) {
	switch key {
	case "env":
		cfg.Env = value
	case "http.addr":
		cfg.HTTP.Addr = value
	case "validator.llm_assist_enabled":
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Validator.LLMAssistEnabled = parsed
		} else {
			slog.Warn("config: ignoring malformed override", "key", key, "value", value)
		}
	case "worker.max_concurrent_jobs":
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Worker.MaxConcurrentJobs = parsed
		} else {
			slog.Warn("config: ignoring malformed override", "key", key, "value", value)
		}
	default:
		slog.Warn("config: unrecognized override key, skipping", "key", key)
	}
}
