package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"dario.cat/mergo"
)

// Load builds the final Config for one process: built-in defaults for the
// (auto-detected or explicitly pinned) deployment tier, merged with
// tomlPath's contents if non-empty, merged with the AXIS_-prefixed
// environment overlay. A missing tomlPath is not an error — a process can
// run entirely on defaults plus environment variables, matching how the
// teacher's Initialize tolerates an absent tarsy.yaml in some deployments.
func Load(tomlPath string) (*Config, error) {
	tier := Tier(os.Getenv("AXIS_TIER"))
	if tier == "" {
		tier = DetectTier()
	}
	cfg := Defaults(tier)

	if tomlPath != "" {
		if err := mergeFile(&cfg, tomlPath); err != nil {
			return nil, err
		}
	}

	applyEnvOverlay(&cfg)

	slog.Info("config: loaded", "tier", cfg.Tier, "env", cfg.Env, "tomlPath", tomlPath)
	return &cfg, nil
}

// mergeFile decodes tomlPath and merges it over cfg, with the file's
// explicitly-set fields winning (mergo.WithOverride), exactly as the
// teacher's mergeAgents/mergeMCPServers layer user config over built-ins.
func mergeFile(cfg *Config, tomlPath string) error {
	raw, err := os.ReadFile(tomlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return newLoadError(tomlPath, err)
	}

	var fileCfg Config
	if _, err := toml.Decode(string(expandEnv(raw)), &fileCfg); err != nil {
		return newLoadError(tomlPath, err)
	}

	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return newLoadError(tomlPath, err)
	}
	return nil
}

// applyEnvOverlay applies the highest-precedence layer below database
// overrides: AXIS_-prefixed environment variables, checked explicitly
// rather than bound via reflection, matching the teacher's preference for
// named, typed config fields over generic env-to-struct binding.
func applyEnvOverlay(cfg *Config) {
	strVar(&cfg.Env, "AXIS_ENV")
	strVar(&cfg.NodeID, "AXIS_NODE_ID")
	strVar(&cfg.HTTP.Addr, "AXIS_HTTP_ADDR")
	strVar(&cfg.Database.DSN, "AXIS_DATABASE_DSN")
	strVar(&cfg.Validator.WorkspaceRoot, "AXIS_WORKSPACE_ROOT")
	strVar(&cfg.Sandbox.SecretsDir, "AXIS_SECRETS_DIR")
	strVar(&cfg.Sandbox.GearManifestDir, "AXIS_GEAR_MANIFEST_DIR")
	strVar(&cfg.Audit.SlackTokenEnv, "AXIS_SLACK_TOKEN_ENV")
	strVar(&cfg.Audit.SlackChannel, "AXIS_SLACK_CHANNEL")

	boolVar(&cfg.HTTP.TLSActive, "AXIS_TLS_ACTIVE")
	boolVar(&cfg.Validator.LLMAssistEnabled, "AXIS_LLM_ASSIST_ENABLED")

	intVar(&cfg.Worker.WorkerCount, "AXIS_WORKER_COUNT")
	intVar(&cfg.Worker.MaxConcurrentJobs, "AXIS_MAX_CONCURRENT_JOBS")
	int32Var(&cfg.Database.MaxConns, "AXIS_DATABASE_MAX_CONNS")

	durationVar(&cfg.Worker.JobTimeout, "AXIS_JOB_TIMEOUT")
	durationVar(&cfg.Orchestrator.StepTimeout, "AXIS_STEP_TIMEOUT")
}

func strVar(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func boolVar(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: ignoring malformed bool env var", "key", key, "value", v)
		return
	}
	*dst = parsed
}

func intVar(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring malformed int env var", "key", key, "value", v)
		return
	}
	*dst = parsed
}

func int32Var(dst *int32, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		slog.Warn("config: ignoring malformed int32 env var", "key", key, "value", v)
		return
	}
	*dst = int32(parsed)
}

func durationVar(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config: ignoring malformed duration env var", "key", key, "value", v)
		return
	}
	*dst = parsed
}
