package tui

import (
	"time"
)

// ProductRow is one line of the product table.
type ProductRow struct {
	ID        int64
	Title     string
	Price     string
	Stock     int
	Available bool
}

// ProductPage is a page of the catalogue ready for display.
type ProductPage struct {
	Rows  []ProductRow
	Page  int
	Pages int
	Total int
}

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionFound signals that a saved session was found on disk.
type MsgSessionFound struct{}

// MsgSessionNotFound signals that there is no saved session.
type MsgSessionNotFound struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the access token was refreshed.
type MsgRefreshOK struct{ ExpiresIn time.Duration }

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgLoginRequired signals that the user must sign in on the web.
type MsgLoginRequired struct{ LoginURL string }

// MsgSessionSaved signals that the session was written to disk.
type MsgSessionSaved struct{ Path string }

// MsgSessionSaveFailed signals that saving the session failed.
type MsgSessionSaveFailed struct{ Err error }

// MsgSessionExpired signals that the session ended while requests were running.
type MsgSessionExpired struct{}

// MsgProfileLoaded carries the signed-in user.
type MsgProfileLoaded struct {
	Name  string
	Email string
	Role  string
}

// MsgProductsLoaded carries a catalogue page.
type MsgProductsLoaded struct{ Page ProductPage }

// MsgListLoaded carries a titled list (categories, attributes, product fields).
type MsgListLoaded struct {
	Title string
	Items []string
}

// MsgActionOK signals that a write operation succeeded.
type MsgActionOK struct{ Text string }

// MsgAPICallFailed signals that an API call failed.
type MsgAPICallFailed struct{ Err error }

// MsgDone signals successful completion.
type MsgDone struct {
	Preview   string
	Subject   string
	ExpiresIn time.Duration
}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
