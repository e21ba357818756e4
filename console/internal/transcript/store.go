// Package transcript persists Gateway chat history for offline reading.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Message is one stored transcript line. DedupKey makes repeated syncs of
// the same history idempotent.
type Message struct {
	ID         int64
	DedupKey   string
	SessionKey string
	AgentID    string
	AgentName  string
	Role       string
	Content    string
	CreatedAt  string // ISO-8601
	Source     string
}

// DedupKey is "<sessionKey>:<createdAt>:<role>".
func DedupKey(sessionKey, createdAt, role string) string {
	return sessionKey + ":" + createdAt + ":" + role
}

// Store is the transcript persistence interface.
type Store interface {
	// UpsertMessage inserts m unless a message with the same DedupKey exists.
	// inserted reports whether a row was written.
	UpsertMessage(ctx context.Context, m *Message) (inserted bool, err error)
	// ListMessages returns the newest limit messages of sessionKey, oldest
	// first. limit <= 0 returns all of them.
	ListMessages(ctx context.Context, sessionKey string, limit int) ([]Message, error)
	// CountMessages counts messages of sessionKey, or of every session when
	// sessionKey is empty.
	CountMessages(ctx context.Context, sessionKey string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// migrate applies schema statements in order. Every statement is
// idempotent, so it runs on each open.
func migrate(db *sql.DB, schema []string) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema step %d: %w", i+1, err)
		}
	}
	return nil
}
