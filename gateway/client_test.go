package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeAPI accepts exactly one bearer token and records every attempt per request ID.
type fakeAPI struct {
	mu     sync.Mutex
	valid  string
	status int
	auth   map[string][]string
	bodies map[string][]string
	total  atomic.Int32
}

func newFakeAPI(t *testing.T, valid string) (*httptest.Server, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{
		valid:  valid,
		status: http.StatusOK,
		auth:   make(map[string][]string),
		bodies: make(map[string][]string),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.total.Add(1)
		body, _ := io.ReadAll(r.Body)
		authHeader := r.Header.Get("Authorization")

		api.mu.Lock()
		id := r.Header.Get(RequestIDHeader)
		api.auth[id] = append(api.auth[id], authHeader)
		api.bodies[id] = append(api.bodies[id], string(body))
		valid := api.valid
		status := api.status
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if authHeader != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Could not validate credentials"})
			return
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"path":  r.URL.Path,
			"query": r.URL.RawQuery,
			"body":  string(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, api
}

func (a *fakeAPI) attempts(id string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.auth[id]...)
}

func queueLen(c *Client) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func isRefreshing(c *Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// blockingRefresher counts calls and waits for release before answering.
func blockingRefresher(calls *atomic.Int32, release <-chan struct{}, token string, err error) Refresher {
	return RefresherFunc(func(ctx context.Context) (*oauth2.Token, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}
		return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
	})
}

func staticRefresher(calls *atomic.Int32, token string) Refresher {
	release := make(chan struct{})
	close(release)
	return blockingRefresher(calls, release, token, nil)
}

func TestSend_AttachesBearerToken(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var calls atomic.Int32
	c := New(srv.URL, WrapHTTPClient(srv.Client()), staticRefresher(&calls, "unused"))
	ctx := context.Background()

	c.SetToken("abc")
	_, err := c.Send(ctx, NewRequest(http.MethodGet, "/api/v1/users/me", nil))
	require.NoError(t, err)

	c.SetToken("")
	_, err = c.Send(ctx, NewRequest(http.MethodGet, "/api/v1/products", nil))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer abc", ""}, seen)
	assert.EqualValues(t, 0, calls.Load())
}

func TestToken_IsPureRead(t *testing.T) {
	srv, api := newFakeAPI(t, "abc")
	var calls atomic.Int32
	c := New(srv.URL, WrapHTTPClient(srv.Client()), staticRefresher(&calls, "abc"))

	assert.Equal(t, "", c.Token())
	c.SetToken("abc")
	for range 5 {
		assert.Equal(t, "abc", c.Token())
	}
	assert.EqualValues(t, 0, api.total.Load())
	assert.EqualValues(t, 0, calls.Load())
}

func TestSend_SuccessPassesThrough(t *testing.T) {
	srv, _ := newFakeAPI(t, "T1")
	var calls atomic.Int32
	c := New(srv.URL, WrapHTTPClient(srv.Client()), staticRefresher(&calls, "T2"))
	c.SetToken("T1")

	var out struct {
		Path  string `json:"path"`
		Query string `json:"query"`
	}
	err := c.Get(context.Background(), "/api/v1/products", url.Values{"page": {"2"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/products", out.Path)
	assert.Equal(t, "page=2", out.Query)
	assert.EqualValues(t, 0, calls.Load())
}

func TestSend_SingleFlightRefresh(t *testing.T) {
	srv, api := newFakeAPI(t, "T2")
	var calls atomic.Int32
	release := make(chan struct{})
	c := New(srv.URL, WrapHTTPClient(srv.Client()), blockingRefresher(&calls, release, "T2", nil))
	c.SetToken("T1")

	const n = 10
	reqs := make([]*Request, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		reqs[i] = NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Send(context.Background(), reqs[i])
		}(i)
	}

	require.Eventually(t, func() bool { return queueLen(c) == n-1 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, isRefreshing(c))
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "T2", c.Token())
	assert.False(t, isRefreshing(c))
	assert.Equal(t, 0, queueLen(c))
	for i, req := range reqs {
		require.NoError(t, errs[i])
		assert.True(t, req.Retried())
		assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, api.attempts(req.ID()))
	}
}

func TestSend_RetriesOnlyOnce(t *testing.T) {
	srv, api := newFakeAPI(t, "never-accepted")
	var calls atomic.Int32
	c := New(srv.URL, WrapHTTPClient(srv.Client()), staticRefresher(&calls, "T2"))
	c.SetToken("T1")

	req := NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	_, err := c.Send(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsSessionExpired(err))
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, api.attempts(req.ID()))

	// a request that was already replayed is never refreshed again
	_, err = c.Send(context.Background(), req)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSend_QueuedReplayRejectedIsNotRefreshedAgain(t *testing.T) {
	srv, api := newFakeAPI(t, "never-accepted")
	var calls atomic.Int32
	release := make(chan struct{})
	c := New(srv.URL, WrapHTTPClient(srv.Client()), blockingRefresher(&calls, release, "T2", nil))
	c.SetToken("T1")

	const n = 5
	reqs := make([]*Request, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		reqs[i] = NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Send(context.Background(), reqs[i])
		}(i)
	}

	require.Eventually(t, func() bool { return queueLen(c) == n-1 }, 5*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "T2", c.Token())
	for i, req := range reqs {
		require.Error(t, errs[i])
		assert.True(t, IsUnauthorized(errs[i]), "request %d: %v", i, errs[i])
		assert.False(t, IsSessionExpired(errs[i]))
		assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, api.attempts(req.ID()))
	}
}

func TestSend_WaitersReleasedBeforeRefresherReplays(t *testing.T) {
	srv, api := newFakeAPI(t, "T2")
	base := WrapHTTPClient(srv.Client())

	first := NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	require.NoError(t, first.prepare())

	// The refresher's replay holds until both queued requests have been
	// replayed. If the queue were released only after that replay, it
	// would give up after the timeout instead.
	waiterReplays := make(chan string, 2)
	var sawWaiters atomic.Bool
	transport := DoerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") == "Bearer T2" {
			if req.Header.Get(RequestIDHeader) == first.ID() {
				timeout := time.After(2 * time.Second)
				got := 0
			wait:
				for got < 2 {
					select {
					case <-waiterReplays:
						got++
					case <-timeout:
						break wait
					}
				}
				sawWaiters.Store(got == 2)
			} else {
				waiterReplays <- req.Header.Get(RequestIDHeader)
			}
		}
		return base.DoWithContext(ctx, req)
	})

	var calls atomic.Int32
	release := make(chan struct{})
	c := New(srv.URL, transport, blockingRefresher(&calls, release, "T2", nil))
	c.SetToken("T1")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	reqs := []*Request{
		first,
		NewRequest(http.MethodGet, "/api/v1/products", nil),
		NewRequest(http.MethodGet, "/api/v1/categories", nil),
	}
	send := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Send(context.Background(), reqs[i])
		}()
	}

	send(0)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	send(1)
	send(2)
	require.Eventually(t, func() bool { return queueLen(c) == 2 }, 5*time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	assert.True(t, sawWaiters.Load(), "queued requests were not released before the refresher replayed")
	assert.EqualValues(t, 1, calls.Load())
	for i, req := range reqs {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, api.attempts(req.ID()))
	}
}

func TestSend_RefreshFailureRejectsQueue(t *testing.T) {
	srv, api := newFakeAPI(t, "T2")
	var calls atomic.Int32
	release := make(chan struct{})
	errBoom := errors.New("refresh cookie revoked")
	c := New(srv.URL, WrapHTTPClient(srv.Client()), blockingRefresher(&calls, release, "", errBoom))
	c.SetToken("T1")

	var expired atomic.Int32
	c.OnSessionExpired(func() { expired.Add(1) })

	const n = 3
	reqs := make([]*Request, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		reqs[i] = NewRequest(http.MethodGet, "/api/v1/products", nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Send(context.Background(), reqs[i])
		}(i)
	}

	require.Eventually(t, func() bool { return queueLen(c) == n-1 }, 5*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, expired.Load())
	assert.Equal(t, "", c.Token())
	assert.False(t, isRefreshing(c))
	for i, req := range reqs {
		require.Error(t, errs[i])
		assert.ErrorIs(t, errs[i], errBoom)
		assert.True(t, IsSessionExpired(errs[i]))
		assert.False(t, IsUnauthorized(errs[i]))
		assert.Equal(t, []string{"Bearer T1"}, api.attempts(req.ID()))
	}
}

func TestSend_OtherFailuresAreNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, api := newFakeAPI(t, "T1")
			api.mu.Lock()
			api.status = status
			api.mu.Unlock()
			var calls atomic.Int32
			c := New(srv.URL, WrapHTTPClient(srv.Client()), staticRefresher(&calls, "T2"))
			c.SetToken("T1")

			req := NewRequest(http.MethodGet, "/api/v1/products/99", nil)
			_, err := c.Send(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, status, StatusCode(err))
			assert.EqualValues(t, 0, calls.Load())
			assert.Len(t, api.attempts(req.ID()), 1)
			assert.Equal(t, "T1", c.Token())
		})
	}
}

func TestSend_TransportErrorIsPropagated(t *testing.T) {
	errDial := errors.New("dial tcp: connection refused")
	var calls atomic.Int32
	transport := DoerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, errDial
	})
	c := New("http://storefront.invalid", transport, staticRefresher(&calls, "T2"))
	c.SetToken("T1")

	_, err := c.Send(context.Background(), NewRequest(http.MethodGet, "/api/v1/products", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, errDial)
	assert.EqualValues(t, 0, calls.Load())
}

func TestSend_ReplaysBody(t *testing.T) {
	srv, api := newFakeAPI(t, "T2")
	var calls atomic.Int32
	c := New(srv.URL, WrapHTTPClient(srv.Client()), staticRefresher(&calls, "T2"))
	c.SetToken("T1")

	req := NewRequest(http.MethodPatch, "/api/v1/users/me", map[string]string{"name": "Ann"})
	_, err := c.Send(context.Background(), req)
	require.NoError(t, err)

	api.mu.Lock()
	bodies := api.bodies[req.ID()]
	api.mu.Unlock()
	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"name":"Ann"}`, bodies[0])
	assert.Equal(t, bodies[0], bodies[1])
}

func TestSend_CancelledWaiterLeavesBatchIntact(t *testing.T) {
	srv, _ := newFakeAPI(t, "T2")
	var calls atomic.Int32
	release := make(chan struct{})
	c := New(srv.URL, WrapHTTPClient(srv.Client()), blockingRefresher(&calls, release, "T2", nil))
	c.SetToken("T1")

	refresherErr := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), NewRequest(http.MethodGet, "/a", nil))
		refresherErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, NewRequest(http.MethodGet, "/b", nil))
		waiterErr <- err
	}()
	require.Eventually(t, func() bool { return queueLen(c) == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-waiterErr, context.Canceled)

	close(release)
	assert.NoError(t, <-refresherErr)
	assert.Equal(t, "T2", c.Token())
	assert.Equal(t, 0, queueLen(c))
}

func TestSend_RefreshTimeout(t *testing.T) {
	srv, _ := newFakeAPI(t, "T2")
	var calls atomic.Int32
	never := make(chan struct{})
	c := New(srv.URL, WrapHTTPClient(srv.Client()),
		blockingRefresher(&calls, never, "T2", nil),
		WithRefreshTimeout(50*time.Millisecond),
	)
	c.SetToken("T1")

	var expired atomic.Int32
	c.OnSessionExpired(func() { expired.Add(1) })

	_, err := c.Send(context.Background(), NewRequest(http.MethodGet, "/api/v1/products", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsSessionExpired(err))
	assert.EqualValues(t, 1, expired.Load())
}

func TestSend_EmptyRefreshTokenIsFailure(t *testing.T) {
	srv, _ := newFakeAPI(t, "T2")
	var calls atomic.Int32
	c := New(srv.URL, WrapHTTPClient(srv.Client()), staticRefresher(&calls, ""))
	c.SetToken("T1")

	_, err := c.Send(context.Background(), NewRequest(http.MethodGet, "/api/v1/products", nil))
	require.Error(t, err)
	assert.True(t, IsSessionExpired(err))
	assert.Contains(t, err.Error(), "no access token")
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{
		Method:     http.MethodGet,
		URL:        "http://localhost:8000/api/v1/products/7",
		StatusCode: http.StatusNotFound,
		Body:       []byte(`{"detail":"Product not found"}`),
	}
	assert.Equal(t, "GET http://localhost:8000/api/v1/products/7: status 404: Product not found", err.Error())

	wrapped := errors.Join(errors.New("loading product"), err)
	assert.Equal(t, http.StatusNotFound, StatusCode(wrapped))
	assert.False(t, IsUnauthorized(wrapped))
}
