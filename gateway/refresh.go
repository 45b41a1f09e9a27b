package gateway

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

type refreshResult struct {
	token string
	err   error
}

// refresh returns a fresh access token. The first caller of a burst performs the
// refresh; callers arriving while it is in flight queue up and receive its result.
func (c *Client) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		// buffered so the refresher never blocks on a waiter that gave up
		ch := make(chan refreshResult, 1)
		c.queue = append(c.queue, ch)
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	token, err := c.callRefresher(ctx)

	c.mu.Lock()
	waiters := c.queue
	c.queue = nil
	c.refreshing = false
	if err != nil {
		c.token = ""
	} else {
		c.token = token.AccessToken
	}
	c.mu.Unlock()

	res := refreshResult{err: err}
	if err == nil {
		res.token = token.AccessToken
	}
	for _, ch := range waiters {
		ch <- res
	}

	if err != nil {
		c.logger.WarnContext(ctx, "session expired", "waiters", len(waiters), "error", err)
		c.expired.Publish()
		return "", err
	}

	c.logger.DebugContext(ctx, "access token refreshed", "waiters", len(waiters))
	return res.token, nil
}

// callRefresher runs the refresher under its own timeout. The call is detached
// from ctx cancellation: queued requests depend on its outcome.
func (c *Client) callRefresher(ctx context.Context) (*oauth2.Token, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	token, err := c.refresher.Refresh(rctx)
	if err != nil {
		var refreshErr *RefreshError
		if errors.As(err, &refreshErr) {
			return nil, err
		}
		return nil, &RefreshError{Err: err}
	}
	if token == nil || token.AccessToken == "" {
		return nil, &RefreshError{Err: errors.New("refresh returned no access token")}
	}
	return token, nil
}
