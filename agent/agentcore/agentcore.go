// Package agentcore is the agent.Transport for agents deployed on Amazon Bedrock AgentCore.
//
// Requests are POSTed to /runtimes/{arn}/invocations and signed with SigV4
// using the default AWS credential chain.
package agentcore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/errors"
	"github.com/teranos/compliq/version"
)

// SigningName is the SigV4 service name for the AgentCore data plane
const SigningName = "bedrock-agentcore"

// SessionHeader carries the runtime session id
const SessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"

// Config configures the transport
type Config struct {
	Region      string
	Endpoint    string        // Empty = https://bedrock-agentcore.{region}.amazonaws.com
	Timeout     time.Duration // Per-attempt HTTP timeout
	Credentials aws.CredentialsProvider
	HTTPClient  *http.Client       // nil = client with Timeout
	Logger      *zap.SugaredLogger // nil = nop
}

// Transport invokes AgentCore runtimes over HTTPS
type Transport struct {
	endpoint    string
	region      string
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	httpClient  *http.Client
	logger      *zap.SugaredLogger
}

// New creates a transport from explicit configuration
func New(cfg Config) (*Transport, error) {
	if cfg.Region == "" {
		return nil, errors.New("agentcore: region is required for request signing")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("agentcore: credentials provider is required")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://bedrock-agentcore." + cfg.Region + ".amazonaws.com"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Transport{
		endpoint:    endpoint,
		region:      cfg.Region,
		credentials: cfg.Credentials,
		signer:      v4.NewSigner(),
		httpClient:  httpClient,
		logger:      log,
	}, nil
}

// NewFromEnvironment loads credentials from the default AWS chain
// (environment, shared config, SSO, instance role).
func NewFromEnvironment(ctx context.Context, cfg Config) (*Transport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "agentcore: failed to load AWS configuration")
	}
	cfg.Credentials = awsCfg.Credentials
	return New(cfg)
}

// InvocationURL returns the endpoint URL for an agent runtime
func (t *Transport) InvocationURL(agentID, qualifier string) string {
	u := t.endpoint + "/runtimes/" + url.PathEscape(agentID) + "/invocations"
	if qualifier != "" {
		u += "?qualifier=" + url.QueryEscape(qualifier)
	}
	return u
}

// Invoke implements agent.Transport
func (t *Transport) Invoke(ctx context.Context, req *agent.Request) (*agent.RawResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.InvocationURL(req.AgentID, req.Qualifier), bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.Wrap(err, "agentcore: failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.Get().UserAgent())
	if req.SessionID != "" {
		httpReq.Header.Set(SessionHeader, req.SessionID)
	}

	creds, err := t.credentials.Retrieve(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "agentcore: failed to retrieve AWS credentials")
	}
	sum := sha256.Sum256(req.Body)
	if err := t.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), SigningName, t.region, time.Now()); err != nil {
		return nil, errors.Wrap(err, "agentcore: failed to sign request")
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTransientNetworkError(err) {
			return nil, agent.NewRetryableError("agentcore request failed", err)
		}
		return nil, errors.Wrap(err, "agentcore: request failed")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &agent.RawResponse{ContentType: resp.Header.Get("Content-Type"), Body: resp.Body}, nil
	}

	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	t.logger.Debugw("AgentCore returned an error status",
		"status", resp.StatusCode,
		"body", string(detail),
	)

	if isRetryableStatus(resp.StatusCode, detail) {
		return nil, &agent.RetryableError{
			Reason: "agentcore throttled or unavailable: " + strings.TrimSpace(string(detail)),
			Status: resp.StatusCode,
		}
	}
	return nil, errors.WithDetail(
		errors.Newf("agentcore: invocation rejected with status %d", resp.StatusCode),
		string(detail))
}

func isRetryableStatus(status int, body []byte) bool {
	if status == http.StatusTooManyRequests || status >= 500 {
		return true
	}
	return bytes.Contains(body, []byte("ThrottlingException"))
}

// isTransientNetworkError checks for timeouts and dropped connections
func isTransientNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
