// Package chat is an agent.Transport that plays the lawyer, writer and auditor
// roles with an OpenAI-compatible chat completion API (OpenRouter by default).
//
// It answers with the same JSON-lines envelopes a deployed agent produces, so
// the rest of the pipeline cannot tell the difference. Useful for local runs
// without AgentCore deployments.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/errors"
)

// Role selects the system prompt and the response shape
type Role string

const (
	RoleLawyer  Role = "lawyer"
	RoleWriter  Role = "writer"
	RoleAuditor Role = "auditor"
)

// Config configures the chat transport
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	Timeout     time.Duration
	// Roles maps agent ids to the role they play
	Roles   map[string]Role
	Logger  *zap.SugaredLogger
	Options []option.RequestOption
}

// Transport implements agent.Transport over chat completions
type Transport struct {
	client      openai.Client
	model       string
	temperature *float64
	roles       map[string]Role
	logger      *zap.SugaredLogger
}

// New creates a chat transport
func New(cfg Config) (*Transport, error) {
	if cfg.APIKey == "" {
		return nil, errors.WithHint(errors.New("chat: api key missing"), "set chat.api_key or OPENROUTER_API_KEY")
	}
	if cfg.Model == "" {
		return nil, errors.New("chat: model is required")
	}
	if len(cfg.Roles) == 0 {
		return nil, errors.New("chat: no agent ids mapped to roles")
	}

	// Retries belong to agent.Client
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, cfg.Options...)

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Transport{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		roles:       cfg.Roles,
		logger:      log,
	}, nil
}

// Invoke implements agent.Transport
func (t *Transport) Invoke(ctx context.Context, req *agent.Request) (*agent.RawResponse, error) {
	role, ok := t.roles[req.AgentID]
	if !ok {
		return nil, errors.Newf("chat: agent %q is not mapped to a role", req.AgentID)
	}

	var envelope struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return nil, errors.Wrap(err, "chat: request body is not an input envelope")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(role)),
			openai.UserMessage(string(envelope.Input)),
		},
	}
	if t.temperature != nil {
		params.Temperature = openai.Float(*t.temperature)
	}

	t.logger.Debugw("Chat completion request", "role", role, "model", t.model, "input_bytes", len(envelope.Input))

	completion, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, agent.NewRetryableError("chat: empty choices", nil)
	}

	return &agent.RawResponse{
		ContentType: agent.ContentTypeJSON,
		Body:        io.NopCloser(bytes.NewReader(shape(role, completion.Choices[0].Message.Content))),
	}, nil
}

// shape wraps model output in the envelope a deployed agent of this role would send
func shape(role Role, content string) []byte {
	switch role {
	case RoleLawyer:
		var pairs []agent.QAPair
		if err := json.Unmarshal([]byte(stripFences(content)), &pairs); err == nil && len(pairs) > 0 {
			return envelopeLine(200, agent.ContentTypeJSON, pairs)
		}
		return envelopeLine(200, agent.ContentTypeText, content)
	case RoleAuditor:
		var verdict map[string]json.RawMessage
		if err := json.Unmarshal([]byte(stripFences(content)), &verdict); err != nil || verdict["is_compliant"] == nil {
			// Surfaces as a retryable envelope so the model gets another try
			return envelopeLine(http.StatusBadGateway, agent.ContentTypeText, "auditor returned a malformed verdict")
		}
		return envelopeLine(200, agent.ContentTypeJSON, verdict)
	default:
		return envelopeLine(200, agent.ContentTypeText, content)
	}
}

func envelopeLine(status int, contentType string, content any) []byte {
	b, _ := json.Marshal(map[string]any{
		"output": map[string]any{
			"status":       status,
			"content-type": contentType,
			"body":         map[string]any{"content": content},
		},
	})
	return append(b, '\n')
}

// stripFences removes a surrounding ```json ... ``` block
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return &agent.RetryableError{Reason: "chat completion throttled or unavailable", Status: apiErr.StatusCode, Err: err}
		}
		return errors.Wrapf(err, "chat completion rejected with status %d", apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return agent.NewRetryableError("chat completion timed out", err)
	}
	return errors.Wrap(err, "chat completion failed")
}

func systemPrompt(role Role) string {
	switch role {
	case RoleLawyer:
		return "You are a regulatory compliance lawyer. The user message is JSON with country, industry, " +
			"workload and questions. Answer every question for that context. Respond only with a JSON array " +
			`of objects {"question": string, "answer": string}, one per question, in the same order.`
	case RoleAuditor:
		return "You are a compliance auditor. The user message is JSON with country, industry, workload, " +
			"section, description, markdown_report and questions (question/answer pairs). Judge whether the " +
			"report section demonstrates compliance. Respond only with a JSON object " +
			`{"is_compliant": boolean, "follow_up_questions": [string]}; list the questions whose answers ` +
			"would close the gaps when not compliant."
	default:
		return "You are a technical writer for compliance reports. The user message is JSON with country, " +
			"industry, workload, section, description, section_number and questions (question/answer pairs). " +
			"Write the report section in Markdown. Start with a level-1 heading numbered with section_number, " +
			"use level-2 headings for subsections, and base every statement on the answers given."
	}
}
