package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	// DefaultMaxBodySize is the default limit for a response body (4 MiB).
	DefaultMaxBodySize = 4 << 20
	// DefaultUserAgent identifies the client on every request.
	DefaultUserAgent = "agentsync/1.0"
)

// Response is a successful (2xx) response with the body fully read.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// BreakerSettings configures the per-host circuit breaker.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before letting a trial request through.
	OpenTimeout time.Duration
}

// Client performs bounded GET requests. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	userAgent  string
	authToken  string
	maxBody    int64
	breaker    *BreakerSettings
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. If c is nil, the default client is left unchanged.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithAuthToken sets the Bearer token sent when the request has no Authorization header.
func WithAuthToken(token string) Option {
	return func(cl *Client) {
		cl.authToken = token
	}
}

// WithMaxBodySize sets the response size limit. Values <= 0 keep the default.
func WithMaxBodySize(n int64) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxBody = n
		}
	}
}

// WithCircuitBreaker enables a circuit breaker per target host.
// Only network errors, timeouts and 5xx responses count as failures.
func WithCircuitBreaker(s BreakerSettings) Option {
	return func(cl *Client) {
		if s.MaxFailures == 0 {
			s.MaxFailures = 5
		}
		if s.OpenTimeout <= 0 {
			s.OpenTimeout = 30 * time.Second
		}
		cl.breaker = &s
	}
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New creates a Client. The underlying http.Client has no timeout of its own; every Get
// carries its own deadline.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		userAgent:  DefaultUserAgent,
		maxBody:    DefaultMaxBodySize,
		logger:     slog.Default().With("component", "fetch"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET for rawURL with the given headers. timeout <= 0 means only ctx bounds the call.
// Non-2xx responses return *StatusError; transport failures wrap ErrTimeout or ErrNetwork.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cb := c.breakerFor(u.Host)
	if cb == nil {
		return c.do(ctx, rawURL, headers)
	}
	v, err := cb.Execute(func() (interface{}, error) {
		return c.do(ctx, rawURL, headers)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %w", ErrCircuitOpen, u.Host, err)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

func (c *Client) do(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req) // #nosec G107 -- URLs come from the manifest or config
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, classify(fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: %d bytes from %s", ErrBodyTooLarge, c.maxBody, rawURL)
	}
	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return &Response{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        data,
	}, nil
}

func (c *Client) breakerFor(host string) *gobreaker.CircuitBreaker {
	if c.breaker == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	maxFailures := c.breaker.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     c.breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil || errors.Is(err, ErrBodyTooLarge)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "host", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[host] = cb
	return cb
}
