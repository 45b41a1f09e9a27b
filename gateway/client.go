// Package gateway is the authenticated HTTP client used for every storefront API
// call. It keeps the access token in memory, attaches it as a bearer credential,
// and on a 401 refreshes the token once for the whole burst of failing requests
// before replaying them.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultRefreshTimeout bounds a single call to the refresh endpoint.
const DefaultRefreshTimeout = 10 * time.Second

// Doer sends HTTP requests. *retry.Client from go-httpretry satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// DoWithContext calls f(ctx, req).
func (f DoerFunc) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// WrapHTTPClient adapts a plain *http.Client to Doer.
func WrapHTTPClient(c *http.Client) Doer {
	return DoerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return c.Do(req.WithContext(ctx))
	})
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRefreshTimeout overrides DefaultRefreshTimeout.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// Client is the authenticated request gateway. It is safe for concurrent use.
type Client struct {
	baseURL        string
	transport      Doer
	refresher      Refresher
	refreshTimeout time.Duration
	logger         *slog.Logger
	expired        Broadcaster

	mu         sync.Mutex
	token      string
	refreshing bool
	queue      []chan refreshResult
}

// New creates a gateway for the API at baseURL.
func New(baseURL string, transport Doer, refresher Refresher, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		transport:      transport,
		refresher:      refresher,
		refreshTimeout: DefaultRefreshTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the access token. An empty token makes subsequent requests
// unauthenticated.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current access token, or "" if none is held.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnSessionExpired registers fn to run each time a refresh fails.
// The returned function removes the subscription.
func (c *Client) OnSessionExpired(fn func()) (unsubscribe func()) {
	return c.expired.Subscribe(fn)
}

// Send transmits req with the current token. A 401 triggers (or joins) a token
// refresh and the request is replayed once with the new token. A second 401,
// any other error status and transport errors are returned to the caller.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := req.prepare(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req, c.Token())
	if err == nil {
		return resp, nil
	}
	if !IsUnauthorized(err) || req.retried {
		return nil, err
	}

	req.retried = true
	c.logger.DebugContext(ctx, "access token rejected",
		"request_id", req.id, "method", req.Method, "path", req.Path)

	token, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "replaying request",
		"request_id", req.id, "method", req.Method, "path", req.Path)
	return c.do(ctx, req, token)
}

// do performs one transmission attempt.
func (c *Client) do(ctx context.Context, req *Request, token string) (*Response, error) {
	httpReq, err := req.build(ctx, c.baseURL, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.DoWithContext(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: request failed: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", req.Method, req.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.DebugContext(ctx, "request failed",
			"request_id", req.id, "method", req.Method, "path", req.Path,
			"status", resp.StatusCode)
		return nil, &StatusError{
			Method:     req.Method,
			URL:        httpReq.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Get sends a GET and decodes the JSON response into out (if non-nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	req := NewRequest(http.MethodGet, path, nil)
	req.Query = query
	return c.call(ctx, req, out)
}

// Post sends a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, NewRequest(http.MethodPost, path, body), out)
}

// Patch sends a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, NewRequest(http.MethodPatch, path, body), out)
}

// Delete sends a DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.call(ctx, NewRequest(http.MethodDelete, path, nil), nil)
}

func (c *Client) call(ctx context.Context, req *Request, out any) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}
