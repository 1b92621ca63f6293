package config

import "time"

// tierWorkerCounts gives each deployment tier a sane worker-pool size,
// scaled to the hardware it's meant to run on.
var tierWorkerCounts = map[Tier]int{
	TierPi:      1,
	TierDesktop: 4,
	TierVPS:     8,
}

// tierMaxConcurrentJobs mirrors tierWorkerCounts for the job-concurrency cap.
var tierMaxConcurrentJobs = map[Tier]int{
	TierPi:      2,
	TierDesktop: 8,
	TierVPS:     32,
}

// Defaults returns the built-in configuration for tier. Callers merge a
// TOML file and environment overlay on top of this with dario.cat/mergo,
// exactly as the teacher merges built-in + user-defined YAML
// (pkg/config/merge.go).
func Defaults(tier Tier) Config {
	workerCount, ok := tierWorkerCounts[tier]
	if !ok {
		workerCount = tierWorkerCounts[TierDesktop]
	}
	maxConcurrent, ok := tierMaxConcurrentJobs[tier]
	if !ok {
		maxConcurrent = tierMaxConcurrentJobs[TierDesktop]
	}

	return Config{
		Env:    "dev",
		NodeID: "axiscored-1",
		Tier:   tier,
		HTTP: HTTPConfig{
			Addr:                ":8080",
			TLSActive:           false,
			HSTSMaxAgeSeconds:   31536000,
			WSRateLimit:         60,
			WSRateWindow:        time.Minute,
			WSHeartbeatInterval: 30 * time.Second,
			WSMaxMissedPongs:    2,
			WSWriteTimeout:      10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        int32(workerCount) * 2,
			MigrationsTable: "schema_migrations",
			ConnectTimeout:  5 * time.Second,
		},
		Signing: SigningConfig{
			ReplayWindow:    60 * time.Second,
			JanitorInterval: 60 * time.Second,
		},
		Validator: ValidatorConfig{
			WorkspaceRoot:     "/workspace",
			LLMAssistEnabled:  false,
			ApprovalCacheSize: 256,
		},
		Sandbox: SandboxConfig{
			SecretsDir:      "/run/axiscore/secrets",
			GearManifestDir: "/etc/axiscore/gears",
			WorkspaceRoot:   "/workspace",
		},
		Worker: WorkerConfig{
			WorkerCount:        workerCount,
			PollInterval:       500 * time.Millisecond,
			PollIntervalJitter: 150 * time.Millisecond,
			JobTimeout:         10 * time.Minute,
			MaxConcurrentJobs:  maxConcurrent,
		},
		Orchestrator: OrchestratorConfig{
			ConversationHistoryLimit: 50,
			StepTimeout:              2 * time.Minute,
		},
	}
}
