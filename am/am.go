package am

import (
	"fmt"
	"time"
)

// Config represents the core compliq configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Pulse      PulseConfig      `mapstructure:"pulse" toml:"pulse" json:"pulse" yaml:"pulse"`
	Agents     AgentsConfig     `mapstructure:"agents" toml:"agents" json:"agents" yaml:"agents"`
	Retry      RetryConfig      `mapstructure:"retry" toml:"retry" json:"retry" yaml:"retry"`
	Compliance ComplianceConfig `mapstructure:"compliance" toml:"compliance" json:"compliance" yaml:"compliance"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts" toml:"artifacts" json:"artifacts" yaml:"artifacts"`
	Chat       ChatConfig       `mapstructure:"chat" toml:"chat" json:"chat" yaml:"chat"`
}

// DatabaseConfig configures the SQLite job store
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// PulseConfig configures the background job workers
type PulseConfig struct {
	Workers        int    `mapstructure:"workers" toml:"workers" json:"workers" yaml:"workers"`                                 // Concurrent report jobs (default: 1)
	PollIntervalMS int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"` // Queue poll interval (default: 1000)
	InboxDir       string `mapstructure:"inbox_dir" toml:"inbox_dir" json:"inbox_dir" yaml:"inbox_dir"`                         // Watched for job files; empty disables intake
	LeaseSeconds   int    `mapstructure:"lease_seconds" toml:"lease_seconds" json:"lease_seconds" yaml:"lease_seconds"`             // Unrenewed claims older than this are abandoned (default: 300)
}

// PollInterval returns the queue poll interval as a duration
func (p PulseConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// Lease returns how long a job claim stays valid without renewal
func (p PulseConfig) Lease() time.Duration {
	return time.Duration(p.LeaseSeconds) * time.Second
}

// AgentsConfig selects the agent backend and the deployed agents per role.
// Job payloads may override the agent IDs and qualifier.
type AgentsConfig struct {
	Backend           string `mapstructure:"backend" toml:"backend" json:"backend" yaml:"backend"` // agentcore or chat
	LawyerID          string `mapstructure:"lawyer_id" toml:"lawyer_id" json:"lawyer_id" yaml:"lawyer_id"`
	WriterID          string `mapstructure:"writer_id" toml:"writer_id" json:"writer_id" yaml:"writer_id"`
	AuditorID         string `mapstructure:"auditor_id" toml:"auditor_id" json:"auditor_id" yaml:"auditor_id"`
	Qualifier         string `mapstructure:"qualifier" toml:"qualifier" json:"qualifier" yaml:"qualifier"`
	Region            string `mapstructure:"region" toml:"region" json:"region" yaml:"region"`
	Endpoint          string `mapstructure:"endpoint" toml:"endpoint" json:"endpoint" yaml:"endpoint"` // Overrides the regional AgentCore endpoint
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxCallsPerMinute int    `mapstructure:"max_calls_per_minute" toml:"max_calls_per_minute" json:"max_calls_per_minute" yaml:"max_calls_per_minute"` // 0 = unthrottled
}

// Timeout returns the per-invocation timeout
func (a AgentsConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// RetryConfig configures the agent retry policy
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMS int `mapstructure:"base_delay_ms" toml:"base_delay_ms" json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMS  int `mapstructure:"max_delay_ms" toml:"max_delay_ms" json:"max_delay_ms" yaml:"max_delay_ms"`
}

// BaseDelay returns the delay before the first retry
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the cap on any single retry delay
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// ComplianceConfig configures the per-section review loop
type ComplianceConfig struct {
	MaxTrials int `mapstructure:"max_trials" toml:"max_trials" json:"max_trials" yaml:"max_trials"` // Rewrites allowed after the first draft
}

// ArtifactsConfig configures where reports are written
type ArtifactsConfig struct {
	Backend string `mapstructure:"backend" toml:"backend" json:"backend" yaml:"backend"` // fs or s3
	Dir     string `mapstructure:"dir" toml:"dir" json:"dir" yaml:"dir"`
	Bucket  string `mapstructure:"bucket" toml:"bucket" json:"bucket" yaml:"bucket"`
	Prefix  string `mapstructure:"prefix" toml:"prefix" json:"prefix" yaml:"prefix"`
	Region  string `mapstructure:"region" toml:"region" json:"region" yaml:"region"` // Empty = agents.region
}

// ChatConfig configures the OpenAI-compatible backend used when agents.backend = "chat"
type ChatConfig struct {
	APIKey      string   `mapstructure:"api_key" toml:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL     string   `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	Model       string   `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	Temperature *float64 `mapstructure:"temperature" toml:"temperature,omitempty" json:"temperature,omitempty" yaml:"temperature,omitempty"` // nil = provider default
}

// Agent backends
const (
	BackendAgentCore = "agentcore"
	BackendChat      = "chat"
)

// Artifact backends
const (
	ArtifactsFS = "fs"
	ArtifactsS3 = "s3"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// Redacted returns a copy safe to print, with secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	if out.Chat.APIKey != "" {
		out.Chat.APIKey = "********"
	}
	return &out
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pulse: {Workers: %d}, Agents: {Backend: %s}, Artifacts: {Backend: %s}}",
		c.Database.Path, c.Pulse.Workers, c.Agents.Backend, c.Artifacts.Backend)
}
