package am

import (
	"os"

	"github.com/spf13/viper"
)

// Default agent retry policy: six attempts, delays doubling from ten seconds, capped at fifteen minutes
const (
	DefaultRetryMaxAttempts = 6
	DefaultRetryBaseDelayMS = 10_000
	DefaultRetryMaxDelayMS  = 900_000
)

// DefaultMaxTrials is how many rewrites a section gets after its first draft
const DefaultMaxTrials = 2

// DefaultQualifier is the runtime endpoint qualifier used when none is given
const DefaultQualifier = "DEFAULT"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "compliq.db")

	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.inbox_dir", "")
	v.SetDefault("pulse.lease_seconds", 300)

	v.SetDefault("agents.backend", BackendAgentCore)
	v.SetDefault("agents.lawyer_id", "")
	v.SetDefault("agents.writer_id", "")
	v.SetDefault("agents.auditor_id", "")
	v.SetDefault("agents.qualifier", DefaultQualifier)
	v.SetDefault("agents.region", "us-east-1")
	v.SetDefault("agents.endpoint", "")
	v.SetDefault("agents.timeout_seconds", 180)
	v.SetDefault("agents.max_calls_per_minute", 0)

	v.SetDefault("retry.max_attempts", DefaultRetryMaxAttempts)
	v.SetDefault("retry.base_delay_ms", DefaultRetryBaseDelayMS)
	v.SetDefault("retry.max_delay_ms", DefaultRetryMaxDelayMS)

	v.SetDefault("compliance.max_trials", DefaultMaxTrials)

	v.SetDefault("artifacts.backend", ArtifactsFS)
	v.SetDefault("artifacts.dir", "reports")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "")
	v.SetDefault("artifacts.region", "")

	v.SetDefault("chat.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("chat.model", "openai/gpt-4o-mini")
	v.SetDefault("chat.api_key", "")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("chat.api_key", "COMPLIQ_CHAT_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("database.path", "COMPLIQ_DATABASE_PATH")
	_ = v.BindEnv("artifacts.bucket", "COMPLIQ_ARTIFACTS_BUCKET")
}

// GetDatabasePath returns the configured database path.
// DB_PATH wins for ad-hoc runs against another database.
func (c *Config) GetDatabasePath() string {
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		return dbPath
	}
	if c.Database.Path == "" {
		return "compliq.db"
	}
	return c.Database.Path
}

// ArtifactsRegion returns the region for the S3 artifact store
func (c *Config) ArtifactsRegion() string {
	if c.Artifacts.Region != "" {
		return c.Artifacts.Region
	}
	return c.Agents.Region
}
