package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/storefront-cli/gateway"
)

// LoginPath starts the Google OAuth flow on the API; on success the API sets the
// refresh cookie and redirects back to the storefront.
const LoginPath = "/api/v1/auth/google"

// ErrNameRequired is returned by UpdateMe for a blank name.
var ErrNameRequired = errors.New("name must not be empty")

// TokenStore holds the in-memory access token. *gateway.Client implements it.
type TokenStore interface {
	SetToken(token string)
	Token() string
}

// AuthService manages the user session on top of the gateway.
type AuthService struct {
	baseURL        string
	api            API
	tokens         TokenStore
	refresher      gateway.Refresher
	refreshTimeout time.Duration
	group          singleflight.Group
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithRefreshTimeout bounds the shared refresh call. The default is
// gateway.DefaultRefreshTimeout.
func WithRefreshTimeout(d time.Duration) AuthOption {
	return func(s *AuthService) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// NewAuthService creates an AuthService for the API at baseURL.
func NewAuthService(
	baseURL string,
	api API,
	tokens TokenStore,
	refresher gateway.Refresher,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		baseURL:        strings.TrimRight(baseURL, "/"),
		api:            api,
		tokens:         tokens,
		refresher:      refresher,
		refreshTimeout: gateway.DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginURL is where the user signs in with Google.
func (s *AuthService) LoginURL() string {
	return s.baseURL + LoginPath
}

// Refresh asks the API for a new access token and stores it. Concurrent callers
// share one request, which runs detached from any single caller's cancellation.
func (s *AuthService) Refresh(ctx context.Context) (*oauth2.Token, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()

		token, err := s.refresher.Refresh(rctx)
		if err != nil {
			return nil, err
		}
		if token == nil || token.AccessToken == "" {
			return nil, errors.New("refresh returned no access token")
		}
		s.tokens.SetToken(token.AccessToken)
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to refresh session: %w", res.Err)
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckAuth restores the session from the refresh cookie and loads the profile.
// On any failure the access token is cleared.
func (s *AuthService) CheckAuth(ctx context.Context) (*User, error) {
	if _, err := s.Refresh(ctx); err != nil {
		s.tokens.SetToken("")
		return nil, err
	}
	user, err := s.Me(ctx)
	if err != nil {
		s.tokens.SetToken("")
		return nil, err
	}
	return user, nil
}

// Logout ends the session on the API. The local token is cleared even when the
// API call fails.
func (s *AuthService) Logout(ctx context.Context) error {
	err := s.api.Post(ctx, "/api/v1/auth/logout", nil, nil)
	s.tokens.SetToken("")
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// Me returns the current user.
func (s *AuthService) Me(ctx context.Context) (*User, error) {
	var u User
	if err := s.api.Get(ctx, "/api/v1/users/me", nil, &u); err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &u, nil
}

// UpdateMe changes the display name.
func (s *AuthService) UpdateMe(ctx context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	var u User
	if err := s.api.Patch(ctx, "/api/v1/users/me", map[string]string{"name": name}, &u); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &u, nil
}
