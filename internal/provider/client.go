package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"marketpulse/internal/errors"
	"marketpulse/internal/logging"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBackoff = 300 * time.Millisecond
	maxBodyBytes   = 32 << 20
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=provider -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authorizer attaches a credential to an outbound request.
// It is called with "" when the pool is empty.
type Authorizer func(req *http.Request, key string)

// Client is a rate-limited REST client that rotates credentials on
// 401, 403 and 429 responses. Calls through one client are serialized.
type Client struct {
	name       string
	baseURL    string
	pool       *CredentialPool
	authorize  Authorizer
	httpClient HTTPClient
	timeout    time.Duration
	backoff    time.Duration
	logger     zerolog.Logger

	mu sync.Mutex
}

// ClientOption is a configuration option for the REST client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithCredentials sets the credential pool and how keys are attached.
func WithCredentials(pool *CredentialPool, authorize Authorizer) ClientOption {
	return func(c *Client) {
		c.pool = pool
		c.authorize = authorize
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithBackoff sets the base backoff; attempt N waits base*N.
func WithBackoff(base time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = base
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logging.WithComponent(logger, c.name)
	}
}

// NewClient creates a REST client for the named provider.
func NewClient(name, baseURL string, options ...ClientOption) *Client {
	c := &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pool:       NewCredentialPool(),
		authorize:  func(*http.Request, string) {},
		httpClient: NewHTTPClient(defaultTimeout),
		timeout:    defaultTimeout,
		backoff:    defaultBackoff,
		logger:     zerolog.Nop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// MaxAttempts returns the attempt budget, 2 * max(1, poolSize).
func (c *Client) MaxAttempts() int {
	n := c.pool.Size()
	if n < 1 {
		n = 1
	}
	return 2 * n
}

// Fetch performs a GET against endpoint and returns the raw body.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxAttempts := c.MaxAttempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		key := c.pool.Current()
		start := time.Now()
		body, err := c.do(ctx, endpoint, params, key)
		logging.LogAPICall(c.logger, http.MethodGet, endpoint, time.Since(start), err)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) || attempt == maxAttempts {
			break
		}

		next := c.pool.Rotate()
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("key", MaskKey(next)).
			Msg("Rotating credential and retrying")

		if err := sleep(ctx, c.backoff*time.Duration(attempt)); err != nil {
			return nil, errors.NewProviderError(c.name, endpoint, 0, errors.ErrTimeout, err)
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.NewProviderError(c.name, endpoint, 0, errors.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewProviderError(c.name, endpoint, 0, transportKind(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewProviderError(c.name, endpoint, resp.StatusCode, transportKind(err), err)
	}

	if kind := statusKind(resp.StatusCode); kind != nil {
		return nil, errors.NewProviderError(c.name, endpoint, resp.StatusCode, kind, fmt.Errorf("%s", snippet(body)))
	}
	return body, nil
}

func statusKind(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.ErrRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.ErrUnauthorized
	case status == http.StatusNotFound:
		return errors.ErrNotFound
	default:
		return errors.ErrUpstream
	}
}

func transportKind(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.ErrTimeout
	}
	return errors.ErrProviderUnavailable
}

// retryable reports whether err should rotate the credential and retry.
func retryable(err error) bool {
	return errors.Is(err, errors.ErrRateLimited) || errors.Is(err, errors.ErrUnauthorized)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
