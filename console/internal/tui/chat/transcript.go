package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jcc-labs/jcc/console/internal/tui"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

const maxEntries = 500

type entryKind int

const (
	entryUser entryKind = iota
	entryAgent
	entryNote
	entryError
)

type entry struct {
	kind entryKind
	text string
}

// transcriptModel is the scrolling conversation pane. At most one entry, the
// last, is in progress while a reply streams in.
type transcriptModel struct {
	viewport   viewport.Model
	entries    []entry
	streaming  bool
	autoScroll bool
	width      int
}

func newTranscript() transcriptModel {
	return transcriptModel{
		viewport:   viewport.New(80, 10),
		autoScroll: true,
		width:      80,
	}
}

func (t *transcriptModel) SetSize(width, height int) {
	t.width = width
	t.viewport.Width = width
	t.viewport.Height = height
	t.refresh()
}

func (t *transcriptModel) add(kind entryKind, text string) {
	t.entries = append(t.entries, entry{kind: kind, text: text})
	if len(t.entries) > maxEntries {
		t.entries = t.entries[len(t.entries)-maxEntries:]
	}
	t.refresh()
}

// setHistory replaces the transcript with Gateway history.
func (t *transcriptModel) setHistory(msgs []protocol.Message) {
	t.entries = t.entries[:0]
	t.streaming = false
	for _, m := range msgs {
		text := m.Content.Text()
		switch {
		case text == "":
		case m.Role == protocol.RoleUser:
			t.entries = append(t.entries, entry{kind: entryUser, text: text})
		case m.Role == protocol.RoleAssistant:
			t.entries = append(t.entries, entry{kind: entryAgent, text: text})
		}
	}
	if len(t.entries) > maxEntries {
		t.entries = t.entries[len(t.entries)-maxEntries:]
	}
	t.autoScroll = true
	t.refresh()
}

func (t *transcriptModel) startReply() {
	t.streaming = true
	t.add(entryAgent, "")
}

func (t *transcriptModel) appendDelta(text string) {
	if !t.streaming || len(t.entries) == 0 {
		return
	}
	t.entries[len(t.entries)-1].text += text
	t.refresh()
}

// finishReply replaces the in-progress entry with the final text.
func (t *transcriptModel) finishReply(kind entryKind, text string) {
	if t.streaming && len(t.entries) > 0 {
		last := &t.entries[len(t.entries)-1]
		last.kind = kind
		last.text = text
		t.streaming = false
		t.refresh()
		return
	}
	t.add(kind, text)
}

func (t *transcriptModel) clear() {
	t.entries = nil
	t.streaming = false
	t.refresh()
}

func (t *transcriptModel) refresh() {
	body := lipgloss.NewStyle().Width(max(t.width-2, 10))
	var sb strings.Builder
	for i, e := range t.entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		inProgress := t.streaming && i == len(t.entries)-1
		switch e.kind {
		case entryUser:
			sb.WriteString(tui.UserLabel.Render("you") + "\n" + body.Render(e.text))
		case entryAgent:
			text := e.text
			if inProgress {
				text = tui.Streaming.Render(text + "…")
			}
			sb.WriteString(tui.AgentLabel.Render("agent") + "\n" + body.Render(text))
		case entryError:
			sb.WriteString(tui.ErrorStyle.Render(body.Render(e.text)))
		default:
			sb.WriteString(tui.Dimmed.Render(body.Render(e.text)))
		}
	}
	t.viewport.SetContent(sb.String())
	if t.autoScroll {
		t.viewport.GotoBottom()
	}
}

func (t transcriptModel) Update(msg tea.Msg) (transcriptModel, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "end":
			t.autoScroll = true
			t.viewport.GotoBottom()
			return t, nil
		case "pgup", "up", "home":
			t.autoScroll = false
		}
	}
	var cmd tea.Cmd
	t.viewport, cmd = t.viewport.Update(msg)
	if t.viewport.AtBottom() {
		t.autoScroll = true
	}
	return t, cmd
}

func (t transcriptModel) View() string {
	return t.viewport.View()
}
