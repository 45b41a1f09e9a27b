package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RefreshPath is the refresh endpoint, authenticated by the refresh cookie.
const RefreshPath = "/api/v1/auth/refresh"

// Refresher exchanges the ambient session credential for a new access token.
type Refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (*oauth2.Token, error)

// Refresh calls f(ctx).
func (f RefresherFunc) Refresh(ctx context.Context) (*oauth2.Token, error) {
	return f(ctx)
}

// EndpointRefresher calls the API refresh endpoint. The refresh credential travels
// as a cookie, so Transport must share the cookie jar holding it.
type EndpointRefresher struct {
	URL       string
	Transport Doer
}

// NewEndpointRefresher creates a refresher for the API at baseURL.
func NewEndpointRefresher(baseURL string, transport Doer) *EndpointRefresher {
	return &EndpointRefresher{
		URL:       strings.TrimRight(baseURL, "/") + RefreshPath,
		Transport: transport,
	}
}

// Refresh requests a new access token.
func (r *EndpointRefresher) Refresh(ctx context.Context) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.Transport.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, ErrRefreshTokenExpired
		}
		if errResp, ok := parseErrorResponse(body); ok {
			if errResp.Error == "invalid_grant" || errResp.Error == "invalid_token" {
				return nil, ErrRefreshTokenExpired
			}
		}
		return nil, &oauth2.RetrieveError{Response: resp, Body: body}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if err := validateTokenResponse(tokenResp.AccessToken, tokenResp.TokenType); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	token := &oauth2.Token{
		AccessToken: tokenResp.AccessToken,
		TokenType:   "Bearer",
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else if exp, ok := TokenExpiry(tokenResp.AccessToken); ok {
		token.Expiry = exp
	}
	return token, nil
}

// validateTokenResponse validates the refresh endpoint response
func validateTokenResponse(accessToken, tokenType string) error {
	if accessToken == "" {
		return errors.New("access_token is empty")
	}

	// token_type is optional; the API answers "bearer" in lower case
	if tokenType != "" && !strings.EqualFold(tokenType, "Bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}

	return nil
}
