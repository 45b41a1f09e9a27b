package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-authgate/storefront-cli/gateway"
)

var errNoSession = errors.New("no saved session")

// SessionCookie is a persisted API cookie.
type SessionCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SessionStorage is what the CLI remembers about one API between runs. It
// holds only the refresh cookie set by the API; access tokens live in memory.
type SessionStorage struct {
	APIURL    string          `json:"api_url"`
	Cookies   []SessionCookie `json:"cookies"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionStorageMap holds sessions for multiple APIs
type SessionStorageMap struct {
	Sessions map[string]*SessionStorage `json:"sessions"` // key = API URL
}

// sessionFromJar captures the refresh cookie the jar would send to the refresh
// endpoint of the API at rawURL.
func sessionFromJar(jar http.CookieJar, rawURL string) (*SessionStorage, error) {
	u, err := url.Parse(strings.TrimRight(rawURL, "/") + gateway.RefreshPath)
	if err != nil {
		return nil, err
	}
	storage := &SessionStorage{APIURL: rawURL}
	for _, c := range jar.Cookies(u) {
		if c.Name == cookieName {
			storage.Cookies = append(storage.Cookies, SessionCookie{Name: c.Name, Value: c.Value})
		}
	}
	if len(storage.Cookies) == 0 {
		return nil, errNoSession
	}
	return storage, nil
}

// install puts the saved cookies into jar for every path of the API.
func (s *SessionStorage) install(jar http.CookieJar) error {
	u, err := url.Parse(s.APIURL)
	if err != nil {
		return err
	}
	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     "/",
			HttpOnly: true,
		})
	}
	jar.SetCookies(u, cookies)
	return nil
}

// loadSession loads the session for the current API URL
func loadSession() (*SessionStorage, error) {
	data, err := os.ReadFile(sessionFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errNoSession
		}
		return nil, err
	}

	var storageMap SessionStorageMap
	if err := json.Unmarshal(data, &storageMap); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	storage, ok := storageMap.Sessions[apiURL]
	if !ok || len(storage.Cookies) == 0 {
		return nil, errNoSession
	}
	return storage, nil
}

// saveSession saves the session (merges with sessions for other APIs)
func saveSession(ctx context.Context, storage *SessionStorage) error {
	if storage.APIURL == "" {
		storage.APIURL = apiURL
	}
	storage.UpdatedAt = time.Now().UTC()

	return updateSessionFile(ctx, func(m *SessionStorageMap) {
		m.Sessions[storage.APIURL] = storage
	})
}

// deleteSession forgets the session for the current API URL.
func deleteSession(ctx context.Context) error {
	return updateSessionFile(ctx, func(m *SessionStorageMap) {
		delete(m.Sessions, apiURL)
	})
}

// updateSessionFile applies fn to the session map under the file lock and
// writes the result atomically (temp file + rename).
func updateSessionFile(ctx context.Context, fn func(*SessionStorageMap)) error {
	lock, err := acquireFileLock(ctx, sessionFile)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			slog.Warn("failed to release session lock", "error", releaseErr)
		}
	}()

	// Load existing sessions (inside lock to ensure consistency)
	var storageMap SessionStorageMap
	if existing, err := os.ReadFile(sessionFile); err == nil {
		// An unreadable file is replaced rather than blocking every write.
		_ = json.Unmarshal(existing, &storageMap)
	}
	if storageMap.Sessions == nil {
		storageMap.Sessions = make(map[string]*SessionStorage)
	}

	fn(&storageMap)

	data, err := json.MarshalIndent(storageMap, "", "  ")
	if err != nil {
		return err
	}

	tempFile := sessionFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, sessionFile); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
