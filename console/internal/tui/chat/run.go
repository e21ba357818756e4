package chat

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jcc-labs/jcc/console/internal/eventbus"
	"github.com/jcc-labs/jcc/pkg/gateway"
)

// Run opens the chat view on sess until the user quits or ctx ends. It runs
// the session's reconnect loop for the lifetime of the view.
func Run(ctx context.Context, sess *gateway.Session, bus *eventbus.Bus, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess.OnStateChange(func(s gateway.SessionState) {
		bus.PublishType(eventbus.GatewayState, eventbus.StatePayload{State: s.String()})
	})

	p := tea.NewProgram(NewModel(ctx, sess, bus, opts), tea.WithAltScreen(), tea.WithContext(ctx))

	events := bus.Subscribe(eventbus.GatewayState, eventbus.ChatDelta, eventbus.LogEntry)
	defer bus.Unsubscribe(events)
	go forward(p, events)

	sessErr := make(chan error, 1)
	go func() {
		err := sess.Run(ctx)
		if err != nil && ctx.Err() == nil {
			p.Send(SessionEndedMsg{Err: err})
		}
		sessErr <- err
	}()

	_, err := p.Run()
	cancel()
	if serr := <-sessErr; serr != nil && !errors.Is(serr, context.Canceled) {
		return serr
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func forward(p *tea.Program, events <-chan eventbus.Event) {
	for ev := range events {
		if msg := toMsg(ev); msg != nil {
			p.Send(msg)
		}
	}
}

// toMsg converts a bus event into the message the model handles, or nil.
func toMsg(ev eventbus.Event) tea.Msg {
	switch ev.Type {
	case eventbus.GatewayState:
		var p eventbus.StatePayload
		if ev.Decode(&p) == nil {
			return StateMsg{State: p.State}
		}
	case eventbus.ChatDelta:
		var p eventbus.ChatPayload
		if ev.Decode(&p) == nil {
			return DeltaMsg{SessionKey: p.SessionKey, Text: p.Text}
		}
	case eventbus.LogEntry:
		var p eventbus.LogPayload
		if ev.Decode(&p) == nil && p.Level != "DEBUG" && p.Level != "INFO" {
			return LogMsg{Entry: p}
		}
	}
	return nil
}
