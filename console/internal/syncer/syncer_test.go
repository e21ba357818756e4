package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcc-labs/jcc/console/internal/config"
	"github.com/jcc-labs/jcc/console/internal/eventbus"
	"github.com/jcc-labs/jcc/console/internal/transcript"
	"github.com/jcc-labs/jcc/pkg/gateway"
	"github.com/jcc-labs/jcc/pkg/gateway/gatewaytest"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) transcript.Store {
	t.Helper()
	s, err := transcript.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(role string, content protocol.Content, ts float64) protocol.Message {
	return protocol.Message{Role: role, Content: content, Timestamp: protocol.Timestamp{Num: ts, Valid: true}}
}

// fakeFetcher serves canned history per session key.
type fakeFetcher struct {
	history map[string][]protocol.Message
	fail    map[string]error
	calls   atomic.Int32
}

func (f *fakeFetcher) History(ctx context.Context, key string, limit int) ([]protocol.Message, error) {
	f.calls.Add(1)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return f.history[key], nil
}

var agents = []config.Agent{
	{ID: "main", Name: "Main", SessionKey: "agent:main:main"},
	{ID: "ops", Name: "Ops", SessionKey: "agent:ops:main"},
}

func TestKeep(t *testing.T) {
	tests := []struct {
		name string
		m    protocol.Message
		want bool
	}{
		{"user text", msg("user", protocol.TextContent("hi"), 1), true},
		{"assistant blocks", msg("assistant", protocol.BlockContent(protocol.ContentBlock{Type: "text", Text: "ok"}), 1), true},
		{"system", msg("system", protocol.TextContent("boot"), 1), false},
		{"tool", msg("toolResult", protocol.TextContent("x"), 1), false},
		{"empty", msg("assistant", protocol.BlockContent(protocol.ContentBlock{Type: "image"}), 1), false},
		{"heartbeat ok", msg("assistant", protocol.TextContent("HEARTBEAT_OK"), 1), false},
		{"no reply", msg("assistant", protocol.TextContent("NO_REPLY"), 1), false},
		{"heartbeat prompt", msg("user", protocol.TextContent("Read HEARTBEAT.md if it exists"), 1), false},
		{"memory flush", msg("user", protocol.TextContent("Pre-compaction memory flush. Store durable memories now."), 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Keep(tt.m); ok != tt.want {
				t.Errorf("Keep = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestSyncAllIsIdempotent(t *testing.T) {
	store := newStore(t)
	f := &fakeFetcher{history: map[string][]protocol.Message{
		"agent:main:main": {
			msg("user", protocol.TextContent("hello"), 1767225600),            // seconds
			msg("assistant", protocol.TextContent("hi there"), 1767225601000), // milliseconds
			msg("assistant", protocol.TextContent("HEARTBEAT_OK"), 1767225602),
		},
		"agent:ops:main": {
			msg("user", protocol.TextContent("status?"), 1767225700),
		},
	}}
	s := New(f, store, agents, Options{Concurrency: 1}, testLogger())

	results, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Fetched != 3 || results[0].Inserted != 2 || results[1].Inserted != 1 {
		t.Errorf("first run = %+v", results)
	}

	results, _ = s.SyncAll(context.Background())
	if results[0].Inserted != 0 || results[1].Inserted != 0 {
		t.Errorf("second run inserted again: %+v", results)
	}

	got, _ := store.ListMessages(context.Background(), "agent:main:main", 0)
	if len(got) != 2 {
		t.Fatalf("stored %d messages", len(got))
	}
	if got[0].CreatedAt != "2026-01-01T00:00:00.000Z" || got[1].CreatedAt != "2026-01-01T00:00:01.000Z" {
		t.Errorf("timestamps = %q, %q", got[0].CreatedAt, got[1].CreatedAt)
	}
	if got[0].DedupKey != "agent:main:main:2026-01-01T00:00:00.000Z:user" || got[0].AgentName != "Main" {
		t.Errorf("row = %+v", got[0])
	}
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	store := newStore(t)
	boom := errors.New("gateway down")
	f := &fakeFetcher{
		history: map[string][]protocol.Message{"agent:ops:main": {msg("user", protocol.TextContent("x"), 5)}},
		fail:    map[string]error{"agent:main:main": boom},
	}
	bus := eventbus.New(8)
	events := bus.Subscribe(eventbus.SyncCompleted)
	s := New(f, store, agents, Options{Bus: bus}, testLogger())

	results, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if !errors.Is(results[0].Err, boom) || results[1].Inserted != 1 {
		t.Errorf("results = %+v", results)
	}

	var failed int
	for range 2 {
		var p eventbus.SyncPayload
		if err := (<-events).Decode(&p); err != nil {
			t.Fatal(err)
		}
		if p.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed events = %d", failed)
	}
}

func TestSyncAgainstGateway(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.Handle(protocol.MethodChatHistory, gatewaytest.HistoryReply(
		msg("user", protocol.TextContent("ping"), 1767225600),
		msg("assistant", protocol.TextContent("pong"), 1767225601),
	))
	client := gateway.NewClient(gateway.Config{URL: srv.WSURL(), Token: "tok"}, testLogger())
	store := newStore(t)

	results, err := New(client, store, agents[:1], Options{}, testLogger()).SyncAll(context.Background())
	if err != nil || results[0].Err != nil {
		t.Fatalf("SyncAll = %+v, %v", results, err)
	}
	if results[0].Inserted != 2 {
		t.Errorf("inserted = %d", results[0].Inserted)
	}
	reqs := srv.Requests(protocol.MethodChatHistory)
	if len(reqs) != 1 {
		t.Fatalf("history requests = %d", len(reqs))
	}
	var p protocol.ChatHistoryParams
	if err := json.Unmarshal(reqs[0].Params, &p); err != nil {
		t.Fatal(err)
	}
	if p.Limit != 200 || p.SessionKey != "agent:main:main" {
		t.Errorf("params = %+v", p)
	}
}

func TestSchedule(t *testing.T) {
	f := &fakeFetcher{}
	bus := eventbus.New(8)
	events := bus.Subscribe(eventbus.SyncCompleted)
	s := New(f, newStore(t), agents[:1], Options{Bus: bus}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Schedule(ctx, "@every 1s") }()

	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled sync never ran")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Schedule = %v", err)
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	s := New(&fakeFetcher{}, newStore(t), agents, Options{}, testLogger())
	if err := s.Schedule(context.Background(), "whenever"); err == nil {
		t.Error("expected parse error")
	}
}
