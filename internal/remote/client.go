// Package remote calls the external scoring service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opensource-finance/heron/internal/domain"
)

// DefaultPath is appended to endpoints configured without a path.
const DefaultPath = "/predict"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Prediction is a successfully parsed remote verdict.
type Prediction struct {
	// Approved is the model's own class label.
	Approved bool

	// ApprovalProbability is in [0, 1].
	ApprovalProbability float64
}

// Percent returns the approval probability rounded to a whole percent.
func (p Prediction) Percent() int {
	return int(p.ApprovalProbability*100 + 0.5)
}

// Client makes a single bounded-time prediction request per call. No retries.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for cfg.URL. The URL must be absolute http(s).
func NewClient(cfg domain.RemoteConfig, opts ...Option) (*Client, error) {
	endpoint, err := resolveEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultRemoteTimeout
	}

	c := &Client{
		endpoint: endpoint,
		timeout:  timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the resolved prediction URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Predict sends rec to the remote scorer.
func (c *Client) Predict(ctx context.Context, rec domain.ApplicantRecord) (*Prediction, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, &StageError{Kind: ErrMalformedResponse, Err: fmt.Errorf("encode request: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &StageError{Kind: ErrUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, classify(ctx, reqCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StageError{
			Kind:       ErrNonOKStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(snippet(data)),
		}
	}
	if len(data) > maxResponseBytes {
		return nil, &StageError{Kind: ErrMalformedResponse, Err: errors.New("response body too large")}
	}

	return parseResponse(data)
}

// classify maps a transport error onto a failure kind. A deadline that
// belongs to the client's own timeout is ErrTimeout; caller cancellation
// keeps the caller's error as the cause.
func classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return &StageError{Kind: ErrUnreachable, Err: parent.Err()}
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &StageError{Kind: ErrTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &StageError{Kind: ErrTimeout, Err: err}
	}
	return &StageError{Kind: ErrUnreachable, Err: err}
}

func resolveEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("remote scorer URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid remote scorer URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid remote scorer URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid remote scorer URL %q: missing host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}
	return u.String(), nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
