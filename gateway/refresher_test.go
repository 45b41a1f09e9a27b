package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// cookieClient returns a client whose jar holds the refresh cookie for srv.
func cookieClient(t *testing.T, srv *httptest.Server, value string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "refresh_token", Value: value, Path: "/"}})
	c := srv.Client()
	c.Jar = jar
	return c
}

func TestEndpointRefresher_Success(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	access := signedToken(t, "42", exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RefreshPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		cookie, err := r.Cookie("refresh_token")
		if err != nil || cookie.Value != "rt-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": access,
			"token_type":   "bearer",
		})
	}))
	defer srv.Close()

	r := NewEndpointRefresher(srv.URL+"/", WrapHTTPClient(cookieClient(t, srv, "rt-1")))
	token, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.WithinDuration(t, exp, token.Expiry, time.Second)
}

func TestEndpointRefresher_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        any
		wantExpired bool
		errContains string
	}{
		{
			name:        "unauthorized",
			status:      http.StatusUnauthorized,
			body:        map[string]string{"detail": "Refresh token missing"},
			wantExpired: true,
		},
		{
			name:        "invalid grant",
			status:      http.StatusBadRequest,
			body:        map[string]string{"error": "invalid_grant"},
			wantExpired: true,
		},
		{
			name:        "server error",
			status:      http.StatusBadGateway,
			body:        map[string]string{"detail": "upstream down"},
			errContains: "502",
		},
		{
			name:        "empty access token",
			status:      http.StatusOK,
			body:        map[string]string{"access_token": "", "token_type": "bearer"},
			errContains: "access_token is empty",
		},
		{
			name:        "unexpected token type",
			status:      http.StatusOK,
			body:        map[string]string{"access_token": "abc", "token_type": "mac"},
			errContains: "unexpected token_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			r := NewEndpointRefresher(srv.URL, WrapHTTPClient(srv.Client()))
			_, err := r.Refresh(context.Background())
			require.Error(t, err)

			if tt.wantExpired {
				assert.ErrorIs(t, err, ErrRefreshTokenExpired)
				return
			}
			assert.NotErrorIs(t, err, ErrRefreshTokenExpired)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestEndpointRefresher_ServerErrorIsRetrieveError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewEndpointRefresher(srv.URL, WrapHTTPClient(srv.Client())).Refresh(context.Background())
	var retrieveErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &retrieveErr))
	assert.Equal(t, http.StatusServiceUnavailable, retrieveErr.Response.StatusCode)
}

// The full path: a 401 from the API triggers the cookie-authenticated refresh and
// the request is replayed with the new token.
func TestGateway_WithEndpointRefresher(t *testing.T) {
	var refreshes atomic.Int32
	fresh := signedToken(t, "42", time.Now().Add(time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		if c, err := r.Cookie("refresh_token"); err != nil || c.Value != "rt-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": fresh, "token_type": "bearer"})
	})
	mux.HandleFunc("GET /api/v1/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "42", "name": "Ann"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("valid cookie", func(t *testing.T) {
		refreshes.Store(0)
		transport := WrapHTTPClient(cookieClient(t, srv, "rt-1"))
		c := New(srv.URL, transport, NewEndpointRefresher(srv.URL, transport))
		c.SetToken("stale")

		var me struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		require.NoError(t, c.Get(context.Background(), "/api/v1/users/me", nil, &me))
		assert.Equal(t, "Ann", me.Name)
		assert.Equal(t, fresh, c.Token())
		assert.Equal(t, "42", TokenSubject(c.Token()))
		assert.EqualValues(t, 1, refreshes.Load())
	})

	t.Run("revoked cookie", func(t *testing.T) {
		refreshes.Store(0)
		transport := WrapHTTPClient(cookieClient(t, srv, "revoked"))
		c := New(srv.URL, transport, NewEndpointRefresher(srv.URL, transport))
		c.SetToken("stale")

		var expired atomic.Int32
		c.OnSessionExpired(func() { expired.Add(1) })

		err := c.Get(context.Background(), "/api/v1/users/me", nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRefreshTokenExpired)
		assert.Equal(t, "", c.Token())
		assert.EqualValues(t, 1, expired.Load())
		assert.EqualValues(t, 1, refreshes.Load())
	})
}

func TestTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, "user-7", exp)

	got, ok := TokenExpiry(token)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))
	assert.Equal(t, "user-7", TokenSubject(token))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)
	assert.Equal(t, "", TokenSubject("not-a-jwt"))
}
