package commands

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/agent/agentcore"
	"github.com/teranos/compliq/agent/chat"
	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/artifact"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/pulse/report"
)

// agentDefaults returns the agent ids jobs fall back to. The chat backend
// plays every role itself, so unset ids become the role names.
func agentDefaults(cfg *am.Config) am.AgentsConfig {
	agents := cfg.Agents
	if agents.Backend != am.BackendChat {
		return agents
	}
	if agents.LawyerID == "" {
		agents.LawyerID = string(chat.RoleLawyer)
	}
	if agents.WriterID == "" {
		agents.WriterID = string(chat.RoleWriter)
	}
	if agents.AuditorID == "" {
		agents.AuditorID = string(chat.RoleAuditor)
	}
	return agents
}

// chatRoles maps the configured agent ids to the role each plays.
// Jobs naming other agent ids cannot run on the chat backend.
func chatRoles(agents am.AgentsConfig) map[string]chat.Role {
	return map[string]chat.Role{
		agents.LawyerID:  chat.RoleLawyer,
		agents.WriterID:  chat.RoleWriter,
		agents.AuditorID: chat.RoleAuditor,
	}
}

// newTransport builds the agent transport selected by agents.backend
func newTransport(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (agent.Transport, error) {
	switch cfg.Agents.Backend {
	case am.BackendChat:
		return chat.New(chat.Config{
			APIKey:      cfg.Chat.APIKey,
			BaseURL:     cfg.Chat.BaseURL,
			Model:       cfg.Chat.Model,
			Temperature: cfg.Chat.Temperature,
			Timeout:     cfg.Agents.Timeout(),
			Roles:       chatRoles(agentDefaults(cfg)),
			Logger:      log,
		})
	case am.BackendAgentCore, "":
		return agentcore.NewFromEnvironment(ctx, agentcore.Config{
			Region:   cfg.Agents.Region,
			Endpoint: cfg.Agents.Endpoint,
			Timeout:  cfg.Agents.Timeout(),
			Logger:   log,
		})
	default:
		return nil, errors.Newf("unknown agents backend %q", cfg.Agents.Backend)
	}
}

// newGenerator wires transport, retrying client and artifact store into a report generator
func newGenerator(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*report.Generator, artifact.Store, error) {
	transport, err := newTransport(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	client := agent.NewClient(transport,
		agent.WithRetryPolicy(agent.PolicyFromConfig(cfg.Retry)),
		agent.WithRateLimit(cfg.Agents.MaxCallsPerMinute),
		agent.WithLogger(log),
	)

	store, err := artifact.Open(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open artifact store")
	}
	return report.NewGenerator(client, store, cfg.Compliance.MaxTrials, log), store, nil
}
