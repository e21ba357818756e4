// Package chat is the console's interactive chat view: a bubbletea program
// driving a long-lived Gateway session.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jcc-labs/jcc/console/internal/eventbus"
	"github.com/jcc-labs/jcc/console/internal/tui"
	"github.com/jcc-labs/jcc/pkg/gateway"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

// Backend is the part of a gateway.Session the view needs.
type Backend interface {
	Chat(ctx context.Context, sessionKey, content string, onDelta func(string)) (string, error)
	History(ctx context.Context, sessionKey string, limit int) ([]protocol.Message, error)
}

// Options configures the view.
type Options struct {
	SessionKey   string
	GatewayURL   string
	HistoryLimit int
}

// StateMsg reports a Gateway session state change.
type StateMsg struct {
	State string
}

// DeltaMsg carries a fragment of the reply being streamed.
type DeltaMsg struct {
	SessionKey string
	Text       string
}

// ReplyMsg ends a chat turn.
type ReplyMsg struct {
	Text string
	Err  error
}

// LogMsg carries a log record worth showing in the status line.
type LogMsg struct {
	Entry eventbus.LogPayload
}

// SessionEndedMsg reports that the session gave up reconnecting.
type SessionEndedMsg struct {
	Err error
}

type historyMsg struct {
	msgs []protocol.Message
	err  error
}

var (
	keyQuit   = key.NewBinding(key.WithKeys("ctrl+c", "esc"))
	keySend   = key.NewBinding(key.WithKeys("enter"))
	keyScroll = key.NewBinding(key.WithKeys("pgup", "pgdown", "up", "down", "home", "end"))
)

// Model is the root chat model.
type Model struct {
	ctx     context.Context
	backend Backend
	bus     *eventbus.Bus
	opts    Options

	transcript transcriptModel
	input      textinput.Model

	state         string
	status        string
	pending       bool
	historyLoaded bool
	width         int
	height        int
}

// NewModel returns a chat view over backend. Replies stream through bus when
// it is non-nil.
func NewModel(ctx context.Context, backend Backend, bus *eventbus.Bus, opts Options) Model {
	if opts.SessionKey == "" {
		opts.SessionKey = protocol.DefaultSessionKey
	}
	in := textinput.New()
	in.Placeholder = "Message " + opts.SessionKey
	in.Prompt = "> "
	in.CharLimit = 8000
	in.Focus()
	return Model{
		ctx:        ctx,
		backend:    backend,
		bus:        bus,
		opts:       opts,
		transcript: newTranscript(),
		input:      in,
		state:      gateway.SessionDisconnected.String(),
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.transcript.SetSize(msg.Width-4, m.transcriptHeight())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keySend):
			return m.submit()
		case key.Matches(msg, keyScroll):
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			return m, cmd
		}

	case StateMsg:
		m.state = msg.State
		if msg.State == gateway.SessionConnected.String() && !m.historyLoaded {
			m.historyLoaded = true
			return m, m.loadHistory()
		}
		return m, nil

	case historyMsg:
		if msg.err != nil {
			m.transcript.add(entryError, gateway.DisplayText(msg.err))
			return m, nil
		}
		m.transcript.setHistory(msg.msgs)
		return m, nil

	case DeltaMsg:
		if m.pending && msg.SessionKey == m.opts.SessionKey {
			m.transcript.appendDelta(msg.Text)
		}
		return m, nil

	case ReplyMsg:
		m.pending = false
		switch {
		case msg.Err != nil:
			m.transcript.finishReply(entryError, gateway.DisplayText(msg.Err))
		case msg.Text == "":
			m.transcript.finishReply(entryNote, "No response received.")
		default:
			m.transcript.finishReply(entryAgent, msg.Text)
		}
		return m, nil

	case LogMsg:
		m.status = formatLog(msg.Entry)
		return m, nil

	case SessionEndedMsg:
		m.state = gateway.SessionDisconnected.String()
		m.transcript.add(entryError, gateway.DisplayText(msg.Err))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the input line: a slash command or a chat message.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	switch text {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/clear":
		m.input.Reset()
		m.transcript.clear()
		return m, nil
	case "/history":
		m.input.Reset()
		return m, m.loadHistory()
	}
	if m.pending {
		return m, nil
	}

	m.input.Reset()
	m.pending = true
	m.transcript.add(entryUser, text)
	m.transcript.startReply()
	return m, m.send(text)
}

func (m Model) send(content string) tea.Cmd {
	sessionKey := m.opts.SessionKey
	var onDelta func(string)
	if m.bus != nil {
		onDelta = func(d string) {
			m.bus.PublishType(eventbus.ChatDelta, eventbus.ChatPayload{SessionKey: sessionKey, Text: d})
		}
	}
	return func() tea.Msg {
		text, err := m.backend.Chat(m.ctx, sessionKey, content, onDelta)
		return ReplyMsg{Text: text, Err: err}
	}
}

func (m Model) loadHistory() tea.Cmd {
	return func() tea.Msg {
		msgs, err := m.backend.History(m.ctx, m.opts.SessionKey, m.opts.HistoryLimit)
		return historyMsg{msgs: msgs, err: err}
	}
}

func (m Model) View() string {
	width := max(m.width, 40)

	pane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tui.ColorMuted).
		Width(width - 2)
	if m.pending {
		pane = pane.BorderForeground(tui.ColorPrimary)
	}

	status := m.status
	if status == "" {
		status = tui.Dimmed.Render("  ready")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(width),
		pane.Render(m.transcript.View()),
		status,
		m.input.View(),
		tui.Help.Render("  enter send  pgup/pgdn scroll  /history reload  /clear  esc quit"),
	)
}

func (m Model) header(width int) string {
	left := tui.Title.Render("JCC Console") + "  " + tui.Description.Render(m.opts.SessionKey)
	right := fmt.Sprintf("%s  %s %s", m.opts.GatewayURL, tui.StatusDot(m.state), tui.StatusText(m.state))
	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right)-4, 1)
	return lipgloss.NewStyle().Padding(0, 1).Render(left + strings.Repeat(" ", gap) + right)
}

// transcriptHeight leaves room for the header, status line, input, help and
// the pane border.
func (m Model) transcriptHeight() int {
	return max(m.height-7, 3)
}

func formatLog(e eventbus.LogPayload) string {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("  %s %s  %s", ts.Format("15:04:05"), tui.LogLevelStyle(e.Level).Render(fmt.Sprintf("%-5s", e.Level)), e.Message)
	if errText, ok := e.Attrs["error"]; ok {
		line += "  " + tui.Dimmed.Render(errText)
	}
	return line
}

// Pending reports whether a chat turn is in flight.
func (m Model) Pending() bool { return m.pending }
