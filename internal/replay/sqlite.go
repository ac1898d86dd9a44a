// ABOUTME: SQLite replay store using modernc.org/sqlite for single-node durable replay logs
// ABOUTME: Tracks a sliding expiry per conversation and purges expired logs on demand

package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/converse-gateway/internal/envelope"
)

// SQLiteStore persists logs in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	logger := o.logger

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps appends from the emitter strictly serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		ttl:    o.ttl,
		now:    o.now,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite replay store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS replay_logs (
			conversation_id TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS replay_events (
			conversation_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			envelope TEXT NOT NULL,
			PRIMARY KEY (conversation_id, sequence)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_replay_events_event_id
			ON replay_events(conversation_id, event_id);

		CREATE INDEX IF NOT EXISTS idx_replay_logs_expires_at
			ON replay_logs(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds env and slides the log expiry forward.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, env envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// An expired log is gone as a whole before new events land in it
	if err := deleteExpiredLog(ctx, tx, conversationID, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO replay_events (conversation_id, sequence, event_id, envelope)
		VALUES (?, ?, ?, ?)
	`, conversationID, env.Sequence, env.EventID, string(data))
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO replay_logs (conversation_id, expires_at) VALUES (?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET expires_at = excluded.expires_at
	`, conversationID, now+s.ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("refreshing expiry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

func deleteExpiredLog(ctx context.Context, tx *sql.Tx, conversationID string, now int64) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM replay_logs WHERE conversation_id = ? AND expires_at <= ?
	`, conversationID, now)
	if err != nil {
		return fmt.Errorf("expiring log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM replay_events WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("expiring events: %w", err)
	}
	return nil
}

// Fetch returns envelopes with Sequence greater than after.
func (s *SQLiteStore) Fetch(ctx context.Context, conversationID string, after int64) ([]envelope.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.envelope
		FROM replay_events e
		JOIN replay_logs l ON l.conversation_id = e.conversation_id
		WHERE e.conversation_id = ? AND e.sequence > ? AND l.expires_at > ?
		ORDER BY e.sequence
	`, conversationID, after, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []envelope.Envelope
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var env envelope.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			s.logger.Warn("skipping undecodable replay entry", "conversation_id", conversationID, "error", err)
			continue
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// LastSequence returns the highest stored sequence of a live log.
func (s *SQLiteStore) LastSequence(ctx context.Context, conversationID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(e.sequence), 0)
		FROM replay_events e
		JOIN replay_logs l ON l.conversation_id = e.conversation_id
		WHERE e.conversation_id = ? AND l.expires_at > ?
	`, conversationID, s.now().UnixMilli()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("reading last sequence: %w", err)
	}
	return seq, nil
}

// Purge deletes expired logs and their events.
func (s *SQLiteStore) Purge(ctx context.Context) (int, error) {
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM replay_events WHERE conversation_id IN (
			SELECT conversation_id FROM replay_logs WHERE expires_at <= ?
		)
	`, now)
	if err != nil {
		return 0, fmt.Errorf("purging events: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM replay_logs WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purging logs: %w", err)
	}
	removed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing purge: %w", err)
	}
	return int(removed), nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
