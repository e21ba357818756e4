// Package syncer copies each agent's Gateway chat history into the
// transcript store.
package syncer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jcc-labs/jcc/console/internal/config"
	"github.com/jcc-labs/jcc/console/internal/eventbus"
	"github.com/jcc-labs/jcc/console/internal/transcript"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

// HistoryFetcher reads chat history. *gateway.Client satisfies it.
type HistoryFetcher interface {
	History(ctx context.Context, sessionKey string, limit int) ([]protocol.Message, error)
}

// Options tunes a Syncer. Zero values take defaults.
type Options struct {
	HistoryLimit int // default 200
	Concurrency  int // default 4
	Bus          *eventbus.Bus
}

// Result is the outcome of syncing one agent.
type Result struct {
	Agent    config.Agent
	Fetched  int
	Inserted int
	Err      error
}

// Syncer pulls history for a fixed set of agents.
type Syncer struct {
	fetcher HistoryFetcher
	store   transcript.Store
	agents  []config.Agent
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func New(fetcher HistoryFetcher, store transcript.Store, agents []config.Agent, opts Options, logger *slog.Logger) *Syncer {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		agents:  agents,
		opts:    opts,
		logger:  logger.With("component", "syncer"),
		now:     time.Now,
	}
}

// SyncAll syncs every agent, at most Concurrency at a time. A failing agent
// is logged and reported in its Result; only cancellation of ctx makes
// SyncAll itself fail.
func (s *Syncer) SyncAll(ctx context.Context) ([]Result, error) {
	results := make([]Result, len(s.agents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, agent := range s.agents {
		g.Go(func() error {
			results[i] = s.SyncAgent(gctx, agent)
			return nil
		})
	}
	_ = g.Wait()

	var inserted int
	for _, r := range results {
		inserted += r.Inserted
	}
	s.logger.Info("sync finished", "agents", len(results), "inserted", inserted)
	return results, ctx.Err()
}

// SyncAgent fetches the agent's history and stores the messages worth
// keeping.
func (s *Syncer) SyncAgent(ctx context.Context, agent config.Agent) Result {
	res := Result{Agent: agent}
	defer s.publish(&res)

	msgs, err := s.fetcher.History(ctx, agent.SessionKey, s.opts.HistoryLimit)
	if err != nil {
		res.Err = err
		s.logger.Warn("fetch history failed", "agent", agent.ID, "error", err)
		return res
	}
	res.Fetched = len(msgs)

	now := s.now()
	for _, m := range msgs {
		text, ok := Keep(m)
		if !ok {
			continue
		}
		createdAt := m.Timestamp.ISO(now)
		inserted, err := s.store.UpsertMessage(ctx, &transcript.Message{
			DedupKey:   transcript.DedupKey(agent.SessionKey, createdAt, m.Role),
			SessionKey: agent.SessionKey,
			AgentID:    agent.ID,
			AgentName:  agent.Name,
			Role:       m.Role,
			Content:    text,
			CreatedAt:  createdAt,
		})
		if err != nil {
			res.Err = err
			s.logger.Warn("store message failed", "agent", agent.ID, "error", err)
			return res
		}
		if inserted {
			res.Inserted++
		}
	}
	s.logger.Debug("agent synced", "agent", agent.ID, "fetched", res.Fetched, "inserted", res.Inserted)
	return res
}

func (s *Syncer) publish(res *Result) {
	if s.opts.Bus == nil {
		return
	}
	p := eventbus.SyncPayload{Agent: res.Agent.ID, Fetched: res.Fetched, Inserted: res.Inserted}
	if res.Err != nil {
		p.Error = res.Err.Error()
	}
	s.opts.Bus.PublishType(eventbus.SyncCompleted, p)
}

// Keep reports whether m belongs in a transcript and returns its text. Only
// user and assistant messages with text are kept; heartbeat traffic and
// housekeeping prompts are dropped.
func Keep(m protocol.Message) (string, bool) {
	if m.Role != protocol.RoleUser && m.Role != protocol.RoleAssistant {
		return "", false
	}
	text := m.Content.Text()
	switch {
	case text == "", text == "HEARTBEAT_OK", text == "NO_REPLY":
		return "", false
	case strings.HasPrefix(text, "Read HEARTBEAT.md"),
		strings.HasPrefix(text, "Pre-compaction memory flush"):
		return "", false
	}
	return text, true
}

// Schedule runs SyncAll on the standard cron expression spec until ctx is
// cancelled. A run still in progress when the next one is due is skipped.
func (s *Syncer) Schedule(ctx context.Context, spec string) error {
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := c.AddFunc(spec, func() {
		if _, err := s.SyncAll(ctx); err != nil {
			s.logger.Debug("scheduled sync interrupted", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("sync scheduled", "schedule", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
