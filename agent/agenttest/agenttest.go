// Package agenttest provides a scripted in-memory agent.Transport for tests.
package agenttest

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/errors"
)

// Responder answers the call-th (0-based) invocation of one agent
type Responder func(call int, input map[string]any) (*agent.RawResponse, error)

// Transport routes requests to per-agent responders and records every call
type Transport struct {
	mu         sync.Mutex
	responders map[string]Responder
	inputs     map[string][]map[string]any
	requests   []agent.Request
}

// New returns an empty transport; register agents with On
func New() *Transport {
	return &Transport{
		responders: make(map[string]Responder),
		inputs:     make(map[string][]map[string]any),
	}
}

// On registers the responder for agentID
func (t *Transport) On(agentID string, r Responder) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responders[agentID] = r
	return t
}

// Invoke implements agent.Transport
func (t *Transport) Invoke(ctx context.Context, req *agent.Request) (*agent.RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var envelope struct {
		Input map[string]any `json:"input"`
	}
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return nil, errors.Wrap(err, "agenttest: request body is not an input envelope")
	}

	t.mu.Lock()
	r, ok := t.responders[req.AgentID]
	call := len(t.inputs[req.AgentID])
	t.inputs[req.AgentID] = append(t.inputs[req.AgentID], envelope.Input)
	t.requests = append(t.requests, *req)
	t.mu.Unlock()

	if !ok {
		return nil, errors.Newf("agenttest: no responder for agent %q", req.AgentID)
	}
	return r(call, envelope.Input)
}

// Calls returns how many times agentID was invoked
func (t *Transport) Calls(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inputs[agentID])
}

// Inputs returns the decoded "input" objects sent to agentID, in call order
func (t *Transport) Inputs(agentID string) []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, len(t.inputs[agentID]))
	copy(out, t.inputs[agentID])
	return out
}

// Requests returns every request in arrival order
func (t *Transport) Requests() []agent.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]agent.Request, len(t.requests))
	copy(out, t.requests)
	return out
}

// Total returns the number of requests across all agents
func (t *Transport) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Line renders one response envelope line
func Line(status int, contentType string, content any) string {
	b, err := json.Marshal(map[string]any{
		"output": map[string]any{
			"status":       status,
			"content-type": contentType,
			"body":         map[string]any{"content": content},
		},
	})
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Stream builds a JSON-lines response from raw lines
func Stream(lines ...string) *agent.RawResponse {
	return &agent.RawResponse{
		ContentType: agent.ContentTypeJSON,
		Body:        io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n")),
	}
}

// Text is a successful free-text response
func Text(s string) *agent.RawResponse {
	return Stream(Line(200, agent.ContentTypeText, s))
}

// JSON is a successful structured response
func JSON(v any) *agent.RawResponse {
	return Stream(Line(200, agent.ContentTypeJSON, v))
}

// Status is a response whose envelope carries a non-200 status
func Status(code int, message string) *agent.RawResponse {
	return Stream(Line(code, agent.ContentTypeText, message))
}

// Throttled is the error a transport returns when the backend rate-limits
func Throttled() error {
	return &agent.RetryableError{Reason: "throttled", Status: 429}
}

// Always answers every call with the same response
func Always(resp func() *agent.RawResponse) Responder {
	return func(int, map[string]any) (*agent.RawResponse, error) {
		return resp(), nil
	}
}

// Sequence answers call i with steps[i], repeating the last step afterwards
func Sequence(steps ...Responder) Responder {
	return func(call int, input map[string]any) (*agent.RawResponse, error) {
		if len(steps) == 0 {
			return nil, errors.New("agenttest: empty sequence")
		}
		if call >= len(steps) {
			call = len(steps) - 1
		}
		return steps[call](call, input)
	}
}

// Fail answers with err
func Fail(err error) Responder {
	return func(int, map[string]any) (*agent.RawResponse, error) {
		return nil, err
	}
}

// NoSleep is an agent.Sleeper that returns immediately and records each delay
type NoSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep implements agent.Sleeper
func (n *NoSleep) Sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.delays = append(n.delays, d)
	n.mu.Unlock()
	return ctx.Err()
}

// Recorded returns a copy of the delays slept so far
func (n *NoSleep) Recorded() []time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]time.Duration, len(n.delays))
	copy(out, n.delays)
	return out
}
