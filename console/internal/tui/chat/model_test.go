package chat

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jcc-labs/jcc/console/internal/eventbus"
	"github.com/jcc-labs/jcc/pkg/gateway"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

type fakeBackend struct {
	reply   string
	deltas  []string
	err     error
	history []protocol.Message
	sent    []string
}

func (f *fakeBackend) Chat(ctx context.Context, key, content string, onDelta func(string)) (string, error) {
	f.sent = append(f.sent, key+"|"+content)
	for _, d := range f.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	return f.reply, f.err
}

func (f *fakeBackend) History(ctx context.Context, key string, limit int) ([]protocol.Message, error) {
	return f.history, f.err
}

func newTestModel(t *testing.T, b Backend, bus *eventbus.Bus) Model {
	t.Helper()
	m := NewModel(context.Background(), b, bus, Options{SessionKey: "agent:main:main", GatewayURL: "ws://gw"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeLine(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func TestSendStreamsAndFinishes(t *testing.T) {
	bus := eventbus.New(8)
	deltas := bus.Subscribe(eventbus.ChatDelta)
	b := &fakeBackend{reply: "Hello", deltas: []string{"Hel", "lo"}}
	m := newTestModel(t, b, bus)

	m, cmd := typeLine(t, m, "hi there")
	if cmd == nil || !m.Pending() {
		t.Fatal("enter did not start a chat turn")
	}
	if !strings.Contains(m.View(), "hi there") {
		t.Error("user line missing from transcript")
	}

	reply := cmd()
	if len(b.sent) != 1 || b.sent[0] != "agent:main:main|hi there" {
		t.Fatalf("sent = %v", b.sent)
	}

	// Deltas travel over the bus.
	for range 2 {
		msg := toMsg(<-deltas)
		m, _ = update(t, m, msg)
	}
	if !strings.Contains(m.View(), "Hello…") {
		t.Errorf("streaming text missing:\n%s", m.View())
	}

	m, _ = update(t, m, reply)
	if m.Pending() {
		t.Error("still pending after reply")
	}
	view := m.View()
	if !strings.Contains(view, "Hello") || strings.Contains(view, "Hello…") {
		t.Errorf("final reply not rendered:\n%s", view)
	}
}

func TestSendIgnoredWhilePending(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	m := newTestModel(t, b, nil)
	m, _ = typeLine(t, m, "one")
	if _, cmd := typeLine(t, m, "two"); cmd != nil {
		t.Error("second message sent while a turn is in flight")
	}
}

func TestErrorsRenderAsDisplayText(t *testing.T) {
	b := &fakeBackend{err: gateway.ErrTimeout}
	m := newTestModel(t, b, nil)
	m, cmd := typeLine(t, m, "ping")
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.View(), "taking longer than expected") {
		t.Errorf("timeout text missing:\n%s", m.View())
	}
}

func TestEmptyReply(t *testing.T) {
	m := newTestModel(t, &fakeBackend{}, nil)
	m, cmd := typeLine(t, m, "ping")
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.View(), "No response received.") {
		t.Errorf("empty reply not explained:\n%s", m.View())
	}
}

func TestHistoryLoadsOnFirstConnect(t *testing.T) {
	b := &fakeBackend{history: []protocol.Message{
		{Role: protocol.RoleUser, Content: protocol.TextContent("earlier question")},
		{Role: protocol.RoleSystem, Content: protocol.TextContent("system note")},
		{Role: protocol.RoleAssistant, Content: protocol.BlockContent(protocol.ContentBlock{Type: "text", Text: "earlier answer"})},
	}}
	m := newTestModel(t, b, nil)

	m, cmd := update(t, m, StateMsg{State: "connected"})
	if cmd == nil {
		t.Fatal("no history load on connect")
	}
	m, _ = update(t, m, cmd())
	view := m.View()
	if !strings.Contains(view, "earlier question") || !strings.Contains(view, "earlier answer") {
		t.Errorf("history missing:\n%s", view)
	}
	if strings.Contains(view, "system note") {
		t.Error("system message shown")
	}
	if !strings.Contains(view, "connected") || strings.Contains(view, "disconnected") {
		t.Error("header does not show state")
	}

	m, _ = update(t, m, StateMsg{State: "reconnecting"})
	if _, cmd := update(t, m, StateMsg{State: "connected"}); cmd != nil {
		t.Error("history reloaded on reconnect")
	}
}

func TestSlashCommands(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	m := newTestModel(t, b, nil)
	m, cmd := typeLine(t, m, "hello")
	m, _ = update(t, m, cmd())

	m, _ = typeLine(t, m, "/clear")
	if strings.Contains(m.View(), "hello") {
		t.Error("/clear left the transcript")
	}
	if _, cmd := typeLine(t, m, "/history"); cmd == nil {
		t.Error("/history did not reload")
	}
	_, cmd = typeLine(t, m, "/quit")
	if cmd == nil {
		t.Fatal("/quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("/quit did not quit")
	}
	if len(b.sent) != 1 {
		t.Errorf("slash commands reached the gateway: %v", b.sent)
	}
}

func TestSessionEnded(t *testing.T) {
	m := newTestModel(t, &fakeBackend{}, nil)
	m, _ = update(t, m, SessionEndedMsg{Err: &gateway.AuthError{Message: "bad token"}})
	if !strings.Contains(m.View(), "bad token") {
		t.Errorf("auth failure not shown:\n%s", m.View())
	}
}

func TestToMsg(t *testing.T) {
	bus := eventbus.New(8)
	ch := bus.Subscribe()
	bus.PublishType(eventbus.GatewayState, eventbus.StatePayload{State: "connected"})
	bus.PublishType(eventbus.LogEntry, eventbus.LogPayload{Level: "INFO", Message: "quiet"})
	bus.PublishType(eventbus.LogEntry, eventbus.LogPayload{Level: "WARN", Message: "loud"})
	bus.PublishType(eventbus.SyncCompleted, eventbus.SyncPayload{Agent: "main"})

	if msg, ok := toMsg(<-ch).(StateMsg); !ok || msg.State != "connected" {
		t.Errorf("state = %#v", msg)
	}
	if msg := toMsg(<-ch); msg != nil {
		t.Errorf("info log forwarded: %#v", msg)
	}
	if msg, ok := toMsg(<-ch).(LogMsg); !ok || msg.Entry.Message != "loud" {
		t.Errorf("warn log = %#v", msg)
	}
	if msg := toMsg(<-ch); msg != nil {
		t.Errorf("sync event forwarded: %#v", msg)
	}
}

func TestLogLineShown(t *testing.T) {
	m := newTestModel(t, &fakeBackend{}, nil)
	m, _ = update(t, m, LogMsg{Entry: eventbus.LogPayload{Level: "WARN", Message: "connection failed", Attrs: map[string]string{"error": "refused"}}})
	if !strings.Contains(m.View(), "connection failed") || !strings.Contains(m.View(), "refused") {
		t.Errorf("status line missing:\n%s", m.View())
	}
}

var _ Backend = (*gateway.Session)(nil)
