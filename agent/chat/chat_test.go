package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/agent/agenttest"
	"github.com/teranos/compliq/internal/util"
)

var roles = map[string]Role{
	"lawyer":  RoleLawyer,
	"writer":  RoleWriter,
	"auditor": RoleAuditor,
}

// completionServer answers every chat completion with content, or with status when non-zero
func completionServer(t *testing.T, status int, content string, seen func(body map[string]any)) *Transport {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if seen != nil {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			seen(body)
		}

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "openai/gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	tr, err := New(Config{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/",
		Model:       "openai/gpt-4o-mini",
		Temperature: util.Ptr(0.2),
		Roles:       roles,
		Logger:      zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	return tr
}

func invoke(t *testing.T, tr *Transport, agentID string) (agent.Response, error) {
	t.Helper()
	client := agent.NewClient(tr, agent.WithSleeper((&agenttest.NoSleep{}).Sleep), agent.WithRetryPolicy(agent.RetryPolicy{MaxAttempts: 2}))
	return client.Invoke(context.Background(), agent.Invocation{
		AgentID: agentID,
		Payload: map[string]any{"country": "Chile", "industry": "fintech", "workload": "payments"},
	})
}

func TestLawyerStructuredAnswers(t *testing.T) {
	var captured map[string]any
	tr := completionServer(t, 0, "```json\n[{\"question\":\"Is PII encrypted?\",\"answer\":\"Yes\"}]\n```", func(b map[string]any) { captured = b })

	resp, err := invoke(t, tr, "lawyer")
	require.NoError(t, err)
	assert.Equal(t, agent.StructuredQA{Pairs: []agent.QAPair{{Question: "Is PII encrypted?", Answer: "Yes"}}}, resp)

	assert.Equal(t, "openai/gpt-4o-mini", captured["model"])
	assert.InDelta(t, 0.2, captured["temperature"], 1e-9)
	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.JSONEq(t, `{"country":"Chile","industry":"fintech","workload":"payments"}`, messages[1].(map[string]any)["content"].(string))
}

func TestLawyerFallsBackToText(t *testing.T) {
	tr := completionServer(t, 0, "Data is encrypted at rest.", nil)
	resp, err := invoke(t, tr, "lawyer")
	require.NoError(t, err)
	assert.Equal(t, agent.FreeText{Text: "Data is encrypted at rest."}, resp)
}

func TestWriterReturnsText(t *testing.T) {
	tr := completionServer(t, 0, "# 1. Scope\n\n## Data\n", nil)
	resp, err := invoke(t, tr, "writer")
	require.NoError(t, err)
	assert.Equal(t, agent.FreeText{Text: "# 1. Scope\n\n## Data\n"}, resp)
}

func TestAuditorVerdict(t *testing.T) {
	tr := completionServer(t, 0, `{"is_compliant": false, "follow_up_questions": ["Who rotates keys?"]}`, nil)
	resp, err := invoke(t, tr, "auditor")
	require.NoError(t, err)

	obj, ok := resp.(agent.StructuredJSON)
	require.True(t, ok)
	var verdict struct {
		IsCompliant bool     `json:"is_compliant"`
		FollowUps   []string `json:"follow_up_questions"`
	}
	require.NoError(t, obj.Decode(&verdict))
	assert.Equal(t, []string{"Who rotates keys?"}, verdict.FollowUps)
}

func TestAuditorMalformedVerdictIsRetried(t *testing.T) {
	tr := completionServer(t, 0, "Looks fine to me.", nil)
	_, err := invoke(t, tr, "auditor")
	require.Error(t, err)
	assert.True(t, agent.IsRetryable(err))
}

func TestThrottlingIsRetryable(t *testing.T) {
	tr := completionServer(t, http.StatusTooManyRequests, "", nil)
	_, err := invoke(t, tr, "writer")
	require.Error(t, err)
	assert.True(t, agent.IsRetryable(err))
}

func TestBadRequestIsFatal(t *testing.T) {
	tr := completionServer(t, http.StatusBadRequest, "", nil)
	_, err := invoke(t, tr, "writer")
	require.Error(t, err)
	assert.False(t, agent.IsRetryable(err))
}

func TestUnmappedAgent(t *testing.T) {
	tr := completionServer(t, 0, "x", nil)
	_, err := tr.Invoke(context.Background(), &agent.Request{AgentID: "stranger", Body: []byte(`{"input":{}}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not mapped")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Model: "m", Roles: roles})
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k", Roles: roles})
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k", Model: "m"})
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1} "))
	assert.Equal(t, "[1]", stripFences("```\n[1]\n```"))
}
