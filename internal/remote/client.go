// Package remote talks to the learning platform's HTTP API: it replays
// captured mutations and fetches or hints content for the preloader.
package remote

import (
	"bytes"
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

	"golang.org/x/time/rate"

	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/model"
)

// ErrNetworkUnavailable is wrapped into every error caused by the request
// never reaching the server.
var ErrNetworkUnavailable = errors.New("network unavailable")

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

const (
	defaultHintQueue = 64
	defaultHintRPS   = 2
	defaultHintGrace = 10 * time.Second
	maxErrorBody     = 512
)

// Client is an HTTP client bound to the remote API's base URL.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger

	hints       chan string
	hintLimiter *rate.Limiter
	hintGrace   time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHintRate limits passive prefetch hints to rps requests per second.
func WithHintRate(rps float64) Option {
	return func(c *Client) { c.hintLimiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithHintQueue sets how many hints may wait before new ones are dropped.
func WithHintQueue(n int) Option {
	return func(c *Client) { c.hints = make(chan string, n) }
}

// WithHintGrace bounds how long Close keeps sending queued hints. Zero
// discards them.
func WithHintGrace(d time.Duration) Option {
	return func(c *Client) { c.hintGrace = d }
}

// New creates a client for baseURL and starts its hint worker. Call Close to
// stop it.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: 30 * time.Second},
		hintGrace: defaultHintGrace,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logging.OrDefault(c.logger)
	if c.hints == nil {
		c.hints = make(chan string, defaultHintQueue)
	}
	if c.hintLimiter == nil {
		c.hintLimiter = rate.NewLimiter(defaultHintRPS, 1)
	}

	c.wg.Add(1)
	go c.drainHints()
	return c, nil
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Resolve turns an endpoint or content path into an absolute URL. Absolute
// URLs are returned unchanged.
func (c *Client) Resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery}).String()
}

// Deliver replays a pending action against its endpoint. Any 2xx response is
// an acknowledgement.
func (c *Client) Deliver(ctx context.Context, a model.PendingAction) error {
	var body io.Reader
	if len(a.Payload) > 0 {
		body = bytes.NewReader(a.Payload)
	}
	target := c.Resolve(a.Endpoint)
	req, err := http.NewRequestWithContext(ctx, a.Method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", a.IdempotencyKey)
	}
	if a.Type != "" {
		req.Header.Set("X-Action-Type", a.Type)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(req, resp)
}

// Head issues a lightweight existence check.
func (c *Client) Head(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Resolve(ref), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(req, resp)
}

// Get fetches a resource preferring cached copies and discards the body. It
// returns the number of bytes read.
func (c *Client) Get(ctx context.Context, ref string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Resolve(ref), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "max-stale")

	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp); err != nil {
		return 0, err
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", req.URL, err)
	}
	return n, nil
}

// Hint queues a passive prefetch. It never blocks: the hint is dropped when
// the queue is full or the client is closed. Reports whether it was queued.
func (c *Client) Hint(ref string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.hints <- c.Resolve(ref):
		return true
	default:
		c.logger.Debug("prefetch hint dropped", "url", ref)
		return false
	}
}

// Ping reports whether the API host is reachable. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Close stops accepting hints, sends the ones already queued for up to the
// hint grace period, then stops the hint worker.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

func (c *Client) drainHints() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
		case <-ctx.Done():
			return
		}
		grace := time.NewTimer(c.hintGrace)
		defer grace.Stop()
		select {
		case <-grace.C:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case target := <-c.hints:
			if err := c.hintLimiter.Wait(ctx); err != nil {
				c.logger.Debug("prefetch hints dropped", "count", len(c.hints)+1)
				return
			}
			c.prefetch(ctx, target)
		case <-c.done:
			if len(c.hints) == 0 {
				return
			}
		}
	}
}

func (c *Client) prefetch(ctx context.Context, target string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return
	}
	req.Header.Set("Sec-Purpose", "prefetch")
	req.Header.Set("Cache-Control", "max-stale")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("prefetch hint failed", "url", target, "err", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetworkUnavailable, req.Method, req.URL, err)
	}
	return resp, nil
}

func checkStatus(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
	}
}
