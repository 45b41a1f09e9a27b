package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all user-facing output of the storefront client.
type Displayer interface {
	Banner()
	SessionFound()
	SessionNotFound()
	Refreshing()
	RefreshOK(expiresIn time.Duration)
	RefreshFailed(err error)
	LoginRequired(loginURL string)
	SessionSaved(path string)
	SessionSaveFailed(err error)
	SessionExpired()
	ProfileLoaded(name, email, role string)
	ProductsLoaded(page ProductPage)
	ListLoaded(title string, items []string)
	ActionOK(text string)
	APICallFailed(err error)
	Done(preview, subject string, expiresIn time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Storefront CLI ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionFound() {
	fmt.Fprintln(p.w, "Found saved session, restoring...")
}

func (p *PlainDisplayer) SessionNotFound() {
	fmt.Fprintln(p.w, "No saved session, browsing as guest.")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK(expiresIn time.Duration) {
	if expiresIn > 0 {
		fmt.Fprintf(p.w, "Access token refreshed (expires in %s)\n", expiresIn.Round(time.Second))
		return
	}
	fmt.Fprintln(p.w, "Access token refreshed")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) LoginRequired(loginURL string) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Sign in with Google:\n%s\n", loginURL)
	fmt.Fprintln(p.w, "\nThen run: storefront-cli login -cookie <refresh cookie value>")
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) SessionSaved(path string) {
	fmt.Fprintf(p.w, "Session saved to %s\n", path)
}

func (p *PlainDisplayer) SessionSaveFailed(err error) {
	fmt.Fprintf(p.w, "Warning: Failed to save session: %v\n", err)
}

func (p *PlainDisplayer) SessionExpired() {
	fmt.Fprintln(p.w, "Session expired, please sign in again.")
}

func (p *PlainDisplayer) ProfileLoaded(name, email, role string) {
	fmt.Fprintf(p.w, "Signed in as %s <%s> (%s)\n", name, email, role)
}

func (p *PlainDisplayer) ProductsLoaded(page ProductPage) {
	fmt.Fprintf(p.w, "\nProducts (page %d of %d, %d total):\n", page.Page, page.Pages, page.Total)
	for _, row := range page.Rows {
		mark := " "
		if !row.Available {
			mark = "x"
		}
		fmt.Fprintf(p.w, "%s %5d  %-40s %16s  stock %d\n", mark, row.ID, row.Title, row.Price, row.Stock)
	}
}

func (p *PlainDisplayer) ListLoaded(title string, items []string) {
	fmt.Fprintf(p.w, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(p.w, "  %s\n", item)
	}
}

func (p *PlainDisplayer) ActionOK(text string) {
	fmt.Fprintln(p.w, text)
}

func (p *PlainDisplayer) APICallFailed(err error) {
	fmt.Fprintf(p.w, "API call failed: %v\n", err)
}

func (p *PlainDisplayer) Done(preview, subject string, expiresIn time.Duration) {
	if preview == "" {
		fmt.Fprintln(p.w, "\nNot signed in.")
		return
	}
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, "Current Session:")
	fmt.Fprintf(p.w, "Access Token: %s...\n", preview)
	if subject != "" {
		fmt.Fprintf(p.w, "Subject: %s\n", subject)
	}
	if expiresIn > 0 {
		fmt.Fprintf(p.w, "Expires In: %s\n", expiresIn.Round(time.Second))
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                           {}
func (NoopDisplayer) SessionFound()                     {}
func (NoopDisplayer) SessionNotFound()                  {}
func (NoopDisplayer) Refreshing()                       {}
func (NoopDisplayer) RefreshOK(_ time.Duration)         {}
func (NoopDisplayer) RefreshFailed(_ error)             {}
func (NoopDisplayer) LoginRequired(_ string)            {}
func (NoopDisplayer) SessionSaved(_ string)             {}
func (NoopDisplayer) SessionSaveFailed(_ error)         {}
func (NoopDisplayer) SessionExpired()                   {}
func (NoopDisplayer) ProfileLoaded(_, _, _ string)      {}
func (NoopDisplayer) ProductsLoaded(_ ProductPage)      {}
func (NoopDisplayer) ListLoaded(_ string, _ []string)   {}
func (NoopDisplayer) ActionOK(_ string)                 {}
func (NoopDisplayer) APICallFailed(_ error)             {}
func (NoopDisplayer) Done(_, _ string, _ time.Duration) {}
func (NoopDisplayer) Fatal(_ error)                     {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) SessionFound() {
	t.p.Send(MsgSessionFound{})
}

func (t *ProgramDisplayer) SessionNotFound() {
	t.p.Send(MsgSessionNotFound{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK(expiresIn time.Duration) {
	t.p.Send(MsgRefreshOK{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) LoginRequired(loginURL string) {
	t.p.Send(MsgLoginRequired{LoginURL: loginURL})
}

func (t *ProgramDisplayer) SessionSaved(path string) {
	t.p.Send(MsgSessionSaved{Path: path})
}

func (t *ProgramDisplayer) SessionSaveFailed(err error) {
	t.p.Send(MsgSessionSaveFailed{Err: err})
}

func (t *ProgramDisplayer) SessionExpired() {
	t.p.Send(MsgSessionExpired{})
}

func (t *ProgramDisplayer) ProfileLoaded(name, email, role string) {
	t.p.Send(MsgProfileLoaded{Name: name, Email: email, Role: role})
}

func (t *ProgramDisplayer) ProductsLoaded(page ProductPage) {
	t.p.Send(MsgProductsLoaded{Page: page})
}

func (t *ProgramDisplayer) ListLoaded(title string, items []string) {
	t.p.Send(MsgListLoaded{Title: title, Items: items})
}

func (t *ProgramDisplayer) ActionOK(text string) {
	t.p.Send(MsgActionOK{Text: text})
}

func (t *ProgramDisplayer) APICallFailed(err error) {
	t.p.Send(MsgAPICallFailed{Err: err})
}

func (t *ProgramDisplayer) Done(preview, subject string, expiresIn time.Duration) {
	t.p.Send(MsgDone{Preview: preview, Subject: subject, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
