// Package config loads axiscore's runtime configuration: built-in defaults,
// merged with an optional TOML file, merged with AXIS_-prefixed environment
// variables, merged with whatever a deployment chooses to override from its
// own store at startup (spec precedence, lowest to highest). Grounded on the
// teacher's pkg/config loader/merge/envexpand split, adapted from YAML to
// TOML because the runtime this config drives names TOML explicitly.
package config

import "time"

// Config is the complete, merged configuration for one axiscored process.
type Config struct {
	Env      string `toml:"env"`       // "dev" or "production" — picks the slog handler.
	NodeID   string `toml:"node_id"`   // identifies this process to the watchdog/worker pool.
	Tier     Tier   `toml:"tier"`      // deployment tier; "" triggers auto-detection at startup.

	HTTP         HTTPConfig         `toml:"http"`
	Database     DatabaseConfig     `toml:"database"`
	Signing      SigningConfig      `toml:"signing"`
	Validator    ValidatorConfig    `toml:"validator"`
	Sandbox      SandboxConfig      `toml:"sandbox"`
	Audit        AuditConfig        `toml:"audit"`
	Worker       WorkerConfig       `toml:"worker"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`

	Schedules []ScheduleEntry `toml:"schedule"`
}

// ScheduleEntry is one cron-driven recurring job, read from repeated
// [[schedule]] tables in the TOML config. ID must be stable across
// restarts since the Scheduler uses it to avoid double-firing a run that
// straddles a process restart.
type ScheduleEntry struct {
	ID             string `toml:"id"`
	Cron           string `toml:"cron"`
	ConversationID string `toml:"conversation_id"`
	Content        string `toml:"content"`
}

// HTTPConfig controls the Gateway's HTTP/WS surface.
type HTTPConfig struct {
	Addr                string        `toml:"addr"`
	TLSActive           bool          `toml:"tls_active"`
	HSTSMaxAgeSeconds   int           `toml:"hsts_max_age_seconds"`
	WSRateLimit         int           `toml:"ws_rate_limit"`
	WSRateWindow        time.Duration `toml:"ws_rate_window"`
	WSHeartbeatInterval time.Duration `toml:"ws_heartbeat_interval"`
	WSMaxMissedPongs    int           `toml:"ws_max_missed_pongs"`
	WSWriteTimeout      time.Duration `toml:"ws_write_timeout"`
}

// DatabaseConfig points at the Postgres instance backing jobs, messages,
// ws tokens, and the audit log. DSN is typically supplied purely through
// the AXIS_DATABASE_DSN environment overlay, never committed to a TOML file.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxConns        int32         `toml:"max_conns"`
	MigrationsTable string        `toml:"migrations_table"`
	ConnectTimeout  time.Duration `toml:"connect_timeout"`
}

// SigningConfig controls the Signing Service's replay window and janitor
// cadence.
type SigningConfig struct {
	ReplayWindow    time.Duration `toml:"replay_window"`
	JanitorInterval time.Duration `toml:"janitor_interval"`
}

// ValidatorConfig controls the Safety Validator.
type ValidatorConfig struct {
	WorkspaceRoot     string `toml:"workspace_root"`
	LLMAssistEnabled  bool   `toml:"llm_assist_enabled"`
	ApprovalCacheSize int    `toml:"approval_cache_size"`
}

// SandboxConfig controls the Plugin Sandbox Host.
type SandboxConfig struct {
	SecretsDir      string `toml:"secrets_dir"`
	GearManifestDir string `toml:"gear_manifest_dir"`
	WorkspaceRoot   string `toml:"workspace_root"`
}

// AuditConfig controls the Audit Log's optional Slack digest sink.
type AuditConfig struct {
	SlackTokenEnv string `toml:"slack_token_env"`
	SlackChannel  string `toml:"slack_channel"`
}

// WorkerConfig controls the Worker Pool.
type WorkerConfig struct {
	WorkerCount        int           `toml:"worker_count"`
	PollInterval       time.Duration `toml:"poll_interval"`
	PollIntervalJitter time.Duration `toml:"poll_interval_jitter"`
	JobTimeout         time.Duration `toml:"job_timeout"`
	MaxConcurrentJobs  int           `toml:"max_concurrent_jobs"`
}

// OrchestratorConfig controls the Pipeline Orchestrator.
type OrchestratorConfig struct {
	ConversationHistoryLimit int           `toml:"conversation_history_limit"`
	StepTimeout              time.Duration `toml:"step_timeout"`
}
