// Package agent invokes remote LLM-backed agents.
//
// A Client wraps a Transport with the retry policy, an optional call throttle and
// decoding of the streamed JSON-lines response into a Response variant:
//
//	client := agent.NewClient(transport, agent.WithLogger(log))
//	resp, err := client.Invoke(ctx, agent.Invocation{
//	    AgentID:   lawyerARN,
//	    SessionID: sessionID,
//	    Qualifier: "DEFAULT",
//	    Payload:   lawyerInput,
//	})
//
// Only *RetryableError failures are retried. Everything else returns immediately.
package agent

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/logger"
)

// Invocation is one logical agent call
type Invocation struct {
	AgentID   string
	SessionID string
	Qualifier string
	Payload   any // wrapped as {"input": Payload}
}

// Request is what a Transport sends on each attempt
type Request struct {
	AgentID   string
	SessionID string
	Qualifier string
	Body      []byte
}

// RawResponse is an undecoded transport response
type RawResponse struct {
	ContentType string
	Body        io.ReadCloser
}

// Transport delivers a request to a remote agent.
// Throttling, timeouts and unavailable services must be reported as *RetryableError.
type Transport interface {
	Invoke(ctx context.Context, req *Request) (*RawResponse, error)
}

// Invoker is the interface the compliance steps depend on
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Response, error)
}

// Client invokes agents through a Transport with retries
type Client struct {
	transport Transport
	policy    RetryPolicy
	sleep     Sleeper
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger
}

// Option configures a Client
type Option func(*Client)

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithSleeper replaces the context-aware sleeper (tests record delays with it)
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithRateLimit allows at most perMinute attempts per minute across all agents.
// Zero or negative disables throttling.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithLimiter installs a prepared limiter
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger (nil = nop)
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client with the default retry policy
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		policy:    DefaultRetryPolicy(),
		sleep:     SleepContext,
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends the invocation and decodes the response, retrying retryable failures
func (c *Client) Invoke(ctx context.Context, inv Invocation) (Response, error) {
	body, err := json.Marshal(struct {
		Input any `json:"input"`
	}{Input: inv.Payload})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode agent payload")
	}

	req := &Request{
		AgentID:   inv.AgentID,
		SessionID: inv.SessionID,
		Qualifier: inv.Qualifier,
		Body:      body,
	}

	log := logger.FromContext(ctx, c.logger).With(
		logger.FieldAgent, inv.AgentID,
		logger.FieldSessionID, inv.SessionID,
		logger.FieldQualifier, inv.Qualifier,
	)

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warnw("Agent call failed, retrying",
			logger.FieldAttempt, attempt,
			logger.FieldDelay, delay,
			logger.FieldError, err,
		)
	}

	start := time.Now()
	resp, err := Retry(ctx, policy, c.sleep, func(ctx context.Context, attempt int) (Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, "agent throttle wait")
			}
		}

		log.Debugw("Invoking agent", logger.FieldAttempt, attempt, logger.FieldSize, len(body))

		raw, err := c.transport.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		defer raw.Body.Close()

		return Decode(raw.ContentType, raw.Body)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "invoke agent %s", inv.AgentID)
	}

	log.Debugw("Agent responded", logger.FieldDurationMS, time.Since(start).Milliseconds())
	return resp, nil
}
