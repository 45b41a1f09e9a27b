package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/go-authgate/storefront-cli/gateway"
)

var (
	apiURL         string
	sessionFile    string
	configFile     string
	cookieName     string
	logLevel       string
	refreshTimeout time.Duration

	flagAPIURL         *string
	flagSessionFile    *string
	flagConfigFile     *string
	flagCookieName     *string
	flagLogLevel       *string
	flagRefreshTimeout *string
	configInitialized  bool
)

const (
	defaultAPIURL      = "http://localhost:8000"
	defaultSessionFile = ".storefront-session.json"
	defaultCookieName  = "refresh_token"
	defaultLogLevel    = "warn"
)

// fileConfig is the optional YAML config file. Every key may also be set by
// flag or environment variable, which take precedence.
type fileConfig struct {
	APIURL         string `yaml:"api_url"`
	SessionFile    string `yaml:"session_file"`
	CookieName     string `yaml:"cookie_name"`
	LogLevel       string `yaml:"log_level"`
	RefreshTimeout string `yaml:"refresh_timeout"`
}

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagAPIURL = flag.String(
		"api-url",
		"",
		"Storefront API URL (default: "+defaultAPIURL+" or API_URL env)",
	)
	flagSessionFile = flag.String(
		"session-file",
		"",
		"Session storage file (default: "+defaultSessionFile+" or SESSION_FILE env)",
	)
	flagConfigFile = flag.String("config", "", "Optional YAML config file (or CONFIG_FILE env)")
	flagCookieName = flag.String(
		"cookie-name",
		"",
		"Name of the refresh cookie (default: "+defaultCookieName+" or REFRESH_COOKIE_NAME env)",
	)
	flagLogLevel = flag.String("log-level", "", "debug, info, warn or error (or LOG_LEVEL env)")
	flagRefreshTimeout = flag.String(
		"refresh-timeout",
		"",
		"Token refresh timeout (default: 10s or REFRESH_TIMEOUT env)",
	)
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	configFile = getConfig(*flagConfigFile, "CONFIG_FILE", "")
	fc, err := loadFileConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Priority: flag > env > config file > default
	apiURL = strings.TrimRight(
		getConfig(*flagAPIURL, "API_URL", orDefault(fc.APIURL, defaultAPIURL)),
		"/",
	)
	sessionFile = getConfig(
		*flagSessionFile,
		"SESSION_FILE",
		orDefault(fc.SessionFile, defaultSessionFile),
	)
	cookieName = getConfig(
		*flagCookieName,
		"REFRESH_COOKIE_NAME",
		orDefault(fc.CookieName, defaultCookieName),
	)
	logLevel = getConfig(*flagLogLevel, "LOG_LEVEL", orDefault(fc.LogLevel, defaultLogLevel))

	refreshTimeout, err = parseTimeout(
		getConfig(*flagRefreshTimeout, "REFRESH_TIMEOUT", fc.RefreshTimeout),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REFRESH_TIMEOUT: %v\n", err)
		os.Exit(1)
	}

	if err := validateServerURL(apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid API_URL: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(apiURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens and cookies will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// loadFileConfig reads the YAML config file. An empty path yields an empty config.
func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return fc, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func orDefault(value, def string) string {
	if value != "" {
		return value
	}
	return def
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return gateway.DefaultRefreshTimeout, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got: %s", s)
	}
	return d, nil
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// newLogger returns a text logger for diagnostics. Unknown levels fall back to warn.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
