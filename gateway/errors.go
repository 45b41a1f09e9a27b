package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrRefreshTokenExpired indicates that the ambient refresh credential has expired or is invalid
var ErrRefreshTokenExpired = errors.New("refresh token expired or invalid")

// ErrorResponse is the error body returned by the API. OAuth-style endpoints use
// error/error_description, the REST endpoints use detail.
type ErrorResponse struct {
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Detail           json.RawMessage `json:"detail,omitempty"`
}

// Message returns the most descriptive text the body carries, or "".
func (e ErrorResponse) Message() string {
	switch {
	case e.Error != "" && e.ErrorDescription != "":
		return e.Error + ": " + e.ErrorDescription
	case e.Error != "":
		return e.Error
	case len(e.Detail) > 0:
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil {
			return s
		}
		return string(e.Detail)
	}
	return ""
}

func parseErrorResponse(body []byte) (ErrorResponse, bool) {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ErrorResponse{}, false
	}
	return errResp, errResp.Message() != ""
}

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if errResp, ok := parseErrorResponse(e.Body); ok {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, errResp.Message())
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, string(e.Body))
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// ErrorResponse decodes the body as an API error, if it is one.
func (e *StatusError) ErrorResponse() (ErrorResponse, bool) {
	return parseErrorResponse(e.Body)
}

// RefreshError wraps a failure of the refresh endpoint. Every request waiting on
// that refresh receives the same RefreshError.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is an authentication failure (401).
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsSessionExpired reports whether err ends the session: a failed refresh.
func IsSessionExpired(err error) bool {
	var refreshErr *RefreshError
	return errors.As(err, &refreshErr)
}
