package am

import "github.com/teranos/compliq/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS <= 0 {
		return errors.Newf("pulse.poll_interval_ms must be > 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.LeaseSeconds <= 0 {
		return errors.Newf("pulse.lease_seconds must be > 0, got %d", c.Pulse.LeaseSeconds)
	}

	switch c.Agents.Backend {
	case BackendAgentCore:
		if c.Agents.Region == "" && c.Agents.Endpoint == "" {
			return errors.WithHint(
				errors.New("agents.region cannot be empty for the agentcore backend"),
				"set agents.region or COMPLIQ_AGENTS_REGION")
		}
	case BackendChat:
		if c.Chat.Model == "" {
			return errors.New("chat.model cannot be empty for the chat backend")
		}
		if c.Chat.APIKey == "" {
			return errors.WithHint(
				errors.New("chat.api_key cannot be empty for the chat backend"),
				"set COMPLIQ_CHAT_API_KEY or OPENROUTER_API_KEY")
		}
	default:
		return errors.Newf("agents.backend must be %q or %q, got %q", BackendAgentCore, BackendChat, c.Agents.Backend)
	}

	if c.Agents.TimeoutSeconds <= 0 {
		return errors.Newf("agents.timeout_seconds must be > 0, got %d", c.Agents.TimeoutSeconds)
	}
	// 0 = unthrottled
	if c.Agents.MaxCallsPerMinute < 0 {
		return errors.Newf("agents.max_calls_per_minute must be >= 0, got %d", c.Agents.MaxCallsPerMinute)
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.Newf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return errors.Newf("retry delays must be >= 0, got base=%d max=%d", c.Retry.BaseDelayMS, c.Retry.MaxDelayMS)
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.Newf("retry.max_delay_ms (%d) must be >= retry.base_delay_ms (%d)", c.Retry.MaxDelayMS, c.Retry.BaseDelayMS)
	}

	// 0 = first draft is final
	if c.Compliance.MaxTrials < 0 {
		return errors.Newf("compliance.max_trials must be >= 0, got %d", c.Compliance.MaxTrials)
	}

	switch c.Artifacts.Backend {
	case ArtifactsFS:
		if c.Artifacts.Dir == "" {
			return errors.New("artifacts.dir cannot be empty for the fs backend")
		}
	case ArtifactsS3:
		if c.Artifacts.Bucket == "" {
			return errors.New("artifacts.bucket cannot be empty for the s3 backend")
		}
	default:
		return errors.Newf("artifacts.backend must be %q or %q, got %q", ArtifactsFS, ArtifactsS3, c.Artifacts.Backend)
	}

	return nil
}
