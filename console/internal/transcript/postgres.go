package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL through pgx.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens dsn and creates the schema.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			dedup_key TEXT NOT NULL UNIQUE,
			session_key TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'gateway-sync',
			synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_key, created_at)`,
	}
	return migrate(s.db, schema)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertMessage(ctx context.Context, m *Message) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages (dedup_key, session_key, agent_id, agent_name, role, content, created_at, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (dedup_key) DO NOTHING
		 RETURNING id`,
		m.DedupKey, m.SessionKey, m.AgentID, m.AgentName, m.Role, m.Content, m.CreatedAt, sourceOrDefault(m.Source)).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("insert message: %w", err)
	}
	m.ID = id
	return true, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionKey string, limit int) ([]Message, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dedup_key, session_key, agent_id, agent_name, role, content, created_at, source FROM (
			SELECT * FROM chat_messages WHERE session_key = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		 ) recent ORDER BY created_at, id`,
		sessionKey, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) CountMessages(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE $1 = '' OR session_key = $1`,
		sessionKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
