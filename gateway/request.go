package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries the identifier of a logical request. A request that is
// replayed after a token refresh keeps the same ID.
const RequestIDHeader = "X-Request-ID"

// Request describes one logical API call. It is safe to send it more than once:
// the JSON body is encoded a single time and replayed from memory.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any

	id       string
	payload  []byte
	prepared bool
	retried  bool
}

// NewRequest creates a request for path (relative to the client base URL).
// A nil body sends no payload.
func NewRequest(method, path string, body any) *Request {
	return &Request{Method: method, Path: path, Body: body}
}

// ID returns the request identifier, assigned on first send.
func (r *Request) ID() string {
	return r.id
}

// Retried reports whether the request has already been replayed after a 401.
func (r *Request) Retried() bool {
	return r.retried
}

func (r *Request) prepare() error {
	if r.prepared {
		return nil
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		r.payload = data
	}
	r.prepared = true
	return nil
}

// build creates a fresh *http.Request for one transmission attempt.
func (r *Request) build(ctx context.Context, baseURL, token string) (*http.Request, error) {
	target := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.payload != nil {
		body = bytes.NewReader(r.payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if r.payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, r.id)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}

	return req, nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
