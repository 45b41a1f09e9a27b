package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"

	"github.com/go-authgate/storefront-cli/gateway"
)

// Retry tuning for idempotent API calls.
const (
	readRetries       = 3
	readRetryDelay    = 200 * time.Millisecond
	readMaxRetryDelay = 2 * time.Second
	attemptTimeout    = 15 * time.Second
)

// retryNetworkErrors retries only failed round trips. Every HTTP status is
// handed back so the gateway can see 401s and report other failures as they are.
func retryNetworkErrors(err error, _ *http.Response) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// isIdempotent reports whether a request may be sent twice without effect.
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// newTransport returns the gateway transport over httpClient. Idempotent
// requests are retried on network errors; POST and PATCH are sent once.
func newTransport(httpClient *http.Client, logger *slog.Logger) (gateway.Doer, error) {
	log := retry.WithLogger(retry.NewSlogAdapter(logger))

	reads, err := retry.NewClient(
		retry.WithHTTPClient(httpClient),
		retry.WithMaxRetries(readRetries),
		retry.WithInitialRetryDelay(readRetryDelay),
		retry.WithMaxRetryDelay(readMaxRetryDelay),
		retry.WithPerAttemptTimeout(attemptTimeout),
		retry.WithRetryableChecker(retryNetworkErrors),
		log,
	)
	if err != nil {
		return nil, err
	}

	writes, err := retry.NewClient(
		retry.WithHTTPClient(httpClient),
		retry.WithMaxRetries(0),
		retry.WithPerAttemptTimeout(attemptTimeout),
		retry.WithRetryableChecker(retryNetworkErrors),
		log,
	)
	if err != nil {
		return nil, err
	}

	return gateway.DoerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if isIdempotent(req.Method) {
			return reads.DoWithContext(ctx, req)
		}
		return writes.DoWithContext(ctx, req)
	}), nil
}
