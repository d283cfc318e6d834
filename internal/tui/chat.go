// Package tui provides the terminal chat front end for a negotiation
// session. It only reads state snapshots from the channel manager and calls
// its public operations; all chat logic lives in internal/negotiation.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
	"github.com/Raviteja77/autodealgenie-sub000/internal/negotiation"
)

// stateMsg carries a fresh manager snapshot into the update loop.
type stateMsg negotiation.State

// Model is the negotiation chat TUI.
type Model struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	mgr   *negotiation.Manager
	state negotiation.State

	ready  bool
	width  int
	height int
}

// NewModel creates the chat model for an already-configured manager.
func NewModel(mgr *negotiation.Manager) Model {
	ti := textinput.New()
	ti.Placeholder = "Make an offer or ask a question..."
	ti.Focus()
	ti.CharLimit = 0
	ti.Prompt = "❯ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	return Model{
		input:   ti,
		spinner: sp,
		mgr:     mgr,
		state:   mgr.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

// listenForUpdates waits for the next manager state change.
func (m Model) listenForUpdates() tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		<-mgr.Updates()
		return stateMsg(mgr.Snapshot())
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Layout: header(1) + divider(1) + viewport + divider(1) + input(1) + status(1)
		vpHeight := msg.Height - 5
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.viewport.SetContent(m.renderHistory())
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlR:
			mgr := m.mgr
			return m, func() tea.Msg {
				mgr.ManualReconnect()
				return nil
			}
		case tea.KeyEnter:
			input := strings.TrimSpace(m.input.Value())
			if input == "" {
				return m, nil
			}
			m.input.SetValue("")
			mgr := m.mgr
			return m, func() tea.Msg {
				mgr.SendMessage(input, domain.MessageTypeText)
				return nil
			}
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case stateMsg:
		m.state = negotiation.State(msg)
		if m.ready {
			m.viewport.SetContent(m.renderHistory())
			m.viewport.GotoBottom()
		}
		return m, m.listenForUpdates()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	title := TitleStyle.Render(" AutoDealGenie")
	badge := StatusBadge(m.state.ConnectionState, m.state.IsUsingFallback)
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(badge) - 1
	if gap < 1 {
		gap = 1
	}
	header := title + strings.Repeat(" ", gap) + badge + " "
	divider := DimStyle.Render(strings.Repeat("─", m.width))

	var inputLine string
	if m.state.IsSending {
		inputLine = fmt.Sprintf(" %s Sending...", m.spinner.View())
	} else {
		inputLine = " " + m.input.View()
	}

	return header + "\n" +
		divider + "\n" +
		m.viewport.View() + "\n" +
		divider + "\n" +
		inputLine + "\n" +
		m.renderStatusBar()
}

func (m Model) renderHistory() string {
	if len(m.state.Messages) == 0 {
		return m.renderWelcome()
	}

	var sb strings.Builder
	for _, msg := range m.state.Messages {
		sb.WriteString("\n")
		label := AgentLabel.Render("Dealer")
		if msg.Role == domain.RoleUser {
			label = UserLabel.Render("You")
		}
		sb.WriteString("  " + label)
		if msg.PriceMentioned != nil {
			sb.WriteString("  " + PriceStyle.Render(fmt.Sprintf("$%.0f", *msg.PriceMentioned)))
		}
		sb.WriteString("\n")
		for _, line := range strings.Split(msg.Content, "\n") {
			sb.WriteString("  " + line + "\n")
		}
	}
	if m.state.IsTyping {
		sb.WriteString("\n  " + DimStyle.Render("Dealer is typing...") + "\n")
	}
	return sb.String()
}

func (m Model) renderWelcome() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString("  " + TitleStyle.Render("Negotiation chat") + "\n\n")
	sb.WriteString(DimStyle.Render("  Chat with the dealer agent about the car you picked.") + "\n")
	sb.WriteString(DimStyle.Render("  Ctrl+R reconnects the live channel, Ctrl+C quits.") + "\n")
	return sb.String()
}

func (m Model) renderStatusBar() string {
	if m.state.Error != "" {
		return " " + ErrStyle.Render(m.state.Error)
	}

	left := DimStyle.Render(fmt.Sprintf(" session %d", m.state.SessionID))
	var right string
	if n := len(m.state.MessageQueue); n > 0 {
		right = WarnStyle.Render(fmt.Sprintf("%d queued ", n))
	} else {
		right = DimStyle.Render(fmt.Sprintf("%d messages ", len(m.state.Messages)))
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}
