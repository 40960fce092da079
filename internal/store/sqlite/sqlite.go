package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/velora-app/callkit/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id         TEXT NOT NULL,
	direction       TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	peer_id         INTEGER NOT NULL,
	peer_name       TEXT NOT NULL DEFAULT '',
	call_type       TEXT NOT NULL DEFAULT 'audio',
	conversation_id TEXT NOT NULL DEFAULT '',
	started_at      DATETIME NOT NULL,
	connected_at    DATETIME,
	ended_at        DATETIME NOT NULL,
	duration_ms     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_call_log_ended_at ON call_log(ended_at DESC);
`

// CallLog implements store.CallLog for SQLite.
type CallLog struct {
	db *sql.DB
}

// New opens (or creates) the call log database at dbPath and applies the schema.
func New(dbPath string) (*CallLog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &CallLog{db: db}, nil
}

// NewWithSetup opens the database and runs a setup function instead of the
// built-in schema. Useful for tests.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*CallLog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &CallLog{db: db}, nil
}

// Close closes the database connection.
func (l *CallLog) Close() error {
	return l.db.Close()
}

// RecordEnded appends a finished call to the log.
func (l *CallLog) RecordEnded(ctx context.Context, rec *store.CallRecord) error {
	query := `
		INSERT INTO call_log (call_id, direction, outcome, peer_id, peer_name,
			call_type, conversation_id, started_at, connected_at, ended_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var connectedAt any
	if rec.ConnectedAt != nil {
		connectedAt = rec.ConnectedAt.UTC()
	}
	result, err := l.db.ExecContext(ctx, query,
		rec.CallID, string(rec.Direction), string(rec.Outcome),
		rec.PeerID, rec.PeerName, rec.CallType, rec.ConversationID,
		rec.StartedAt.UTC(), connectedAt, rec.EndedAt.UTC(),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListRecent returns the most recent records, newest first.
func (l *CallLog) ListRecent(ctx context.Context, limit int) ([]*store.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, call_id, direction, outcome, peer_id, peer_name,
			call_type, conversation_id, started_at, connected_at, ended_at, duration_ms
		FROM call_log
		ORDER BY ended_at DESC, id DESC
		LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query call log: %w", err)
	}
	defer rows.Close()

	records := make([]*store.CallRecord, 0, limit)
	for rows.Next() {
		var (
			rec         store.CallRecord
			direction   string
			outcome     string
			connectedAt sql.NullTime
			durationMS  int64
		)
		if err := rows.Scan(&rec.ID, &rec.CallID, &direction, &outcome,
			&rec.PeerID, &rec.PeerName, &rec.CallType, &rec.ConversationID,
			&rec.StartedAt, &connectedAt, &rec.EndedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.Direction = store.Direction(direction)
		rec.Outcome = store.Outcome(outcome)
		if connectedAt.Valid {
			t := connectedAt.Time
			rec.ConnectedAt = &t
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call log: %w", err)
	}
	return records, nil
}
