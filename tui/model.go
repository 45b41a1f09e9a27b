package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the token lifetime countdown.
type tickMsg time.Time

// state represents the current phase of a storefront session.
type state int

const (
	stateInit       state = iota
	stateRefreshing       // restoring or refreshing the session
	stateLoading          // API calls in flight
	stateLogin            // user must sign in on the web
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// list is a titled block of lines rendered below the product table.
type list struct {
	title string
	items []string
}

// Model is the BubbleTea model for the storefront TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	loginURL    string
	tokenExpiry time.Time
	remaining   time.Duration

	user     *MsgProfileLoaded
	products *ProductPage
	lists    []list

	tokenPreview string
	subject      string
	errMsg       string

	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleLinkBox = lipgloss.NewStyle().
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 1)

	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	stylePrice  = lipgloss.NewStyle().Foreground(lipgloss.Color("228"))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold   = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.remaining = max(time.Until(m.tokenExpiry), 0)
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case MsgBanner:
		return m, nil

	case MsgSessionFound:
		m.addStatus(statusOK, "Found saved session")
		return m, nil

	case MsgSessionNotFound:
		m.addStatus(statusInfo, "No saved session, browsing as guest")
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		m.state = stateLoading
		m.addStatus(statusOK, "Access token refreshed")
		if msg.ExpiresIn > 0 {
			m.tokenExpiry = time.Now().Add(msg.ExpiresIn)
			m.remaining = msg.ExpiresIn
			return m, tickAfterSecond()
		}
		return m, nil

	case MsgRefreshFailed:
		m.state = stateLoading
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgLoginRequired:
		m.loginURL = msg.LoginURL
		m.state = stateLogin
		return m, nil

	case MsgSessionSaved:
		m.addStatus(statusOK, "Session saved to "+msg.Path)
		return m, nil

	case MsgSessionSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save session: %v", msg.Err))
		return m, nil

	case MsgSessionExpired:
		m.tokenExpiry = time.Time{}
		m.remaining = 0
		m.addStatus(statusWarn, "Session expired, please sign in again")
		return m, nil

	case MsgProfileLoaded:
		m.user = &msg
		m.addStatus(statusOK, "Signed in as "+msg.Name)
		return m, nil

	case MsgProductsLoaded:
		m.products = &msg.Page
		m.addStatus(statusOK, fmt.Sprintf("Loaded %d products", len(msg.Page.Rows)))
		return m, nil

	case MsgListLoaded:
		m.lists = append(m.lists, list{title: msg.Title, items: msg.Items})
		return m, nil

	case MsgActionOK:
		m.addStatus(statusOK, msg.Text)
		return m, nil

	case MsgAPICallFailed:
		m.addStatus(statusWarn, fmt.Sprintf("API call failed: %v", msg.Err))
		return m, nil

	case MsgDone:
		m.tokenPreview = msg.Preview
		m.subject = msg.Subject
		if msg.ExpiresIn > 0 {
			m.tokenExpiry = time.Now().Add(msg.ExpiresIn)
			m.remaining = msg.ExpiresIn
		}
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Storefront  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateLogin:
		b.WriteString(styleBold.Render("Sign in with Google:"))
		b.WriteString("\n")
		b.WriteString(styleLinkBox.Render(m.loginURL))
		b.WriteString("\n")
		b.WriteString(styleDim.Render("Then run: storefront-cli login -cookie <refresh cookie value>"))
		b.WriteString("\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateLoading:
		b.WriteString(m.spinner.View())
		b.WriteString(" Loading...")
		if m.remaining > 0 {
			b.WriteString("  ")
			b.WriteString(styleDim.Render("token expires in " + formatDuration(m.remaining)))
		}
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewContent())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.user != nil {
		b.WriteString(styleOK.Render(fmt.Sprintf("  ✓ Signed in as %s", m.user.Name)))
		b.WriteString(styleDim.Render(fmt.Sprintf("  <%s> %s", m.user.Email, m.user.Role)))
	} else {
		b.WriteString(styleOK.Render("  ✓ Done"))
	}
	b.WriteString("\n")

	b.WriteString(m.viewContent())

	if m.tokenPreview != "" {
		b.WriteString("\n")
		b.WriteString(styleBold.Render("Access Token: "))
		b.WriteString(m.tokenPreview + "...\n")
		if m.subject != "" {
			b.WriteString(styleBold.Render("Subject:      "))
			b.WriteString(m.subject + "\n")
		}
		if m.remaining > 0 {
			b.WriteString(styleBold.Render("Expires In:   "))
			b.WriteString(formatDuration(m.remaining) + "\n")
		}
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Request failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewContent renders the product table and any loaded lists.
func (m Model) viewContent() string {
	var b strings.Builder

	if m.products != nil {
		b.WriteString("\n")
		b.WriteString(styleHeader.Render(fmt.Sprintf(
			"Products  page %d of %d  (%d total)",
			m.products.Page, m.products.Pages, m.products.Total,
		)))
		b.WriteString("\n")
		for _, row := range m.products.Rows {
			line := fmt.Sprintf("%5d  %-40s ", row.ID, truncate(row.Title, 40))
			price := stylePrice.Render(fmt.Sprintf("%16s", row.Price))
			stock := fmt.Sprintf("  stock %d", row.Stock)
			if !row.Available {
				b.WriteString(styleDim.Render(line + fmt.Sprintf("%16s", row.Price) + stock + "  (unavailable)"))
			} else {
				b.WriteString(line + price + styleDim.Render(stock))
			}
			b.WriteString("\n")
		}
	}

	for _, l := range m.lists {
		b.WriteString("\n")
		b.WriteString(styleHeader.Render(l.title))
		b.WriteString("\n")
		for _, item := range l.items {
			b.WriteString("  " + item + "\n")
		}
	}
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
