package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	sequence     INTEGER PRIMARY KEY,
	id           TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	kind         TEXT NOT NULL,
	operation    TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	details      TEXT,
	content_hash TEXT NOT NULL,
	prev_hash    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_entries(kind);
`

// SQLiteSink persists entries to a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the database at path and ensures the schema exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite sink: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: init sqlite schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// NewSQLiteSinkFromDB wraps an existing handle; used by tests with sqlmock.
func NewSQLiteSinkFromDB(db *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Write(ctx context.Context, e Entry) error {
	wire := toExport(e)
	var details []byte
	if wire.Details != nil {
		var err error
		details, err = json.Marshal(wire.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (sequence, id, timestamp, agent_id, kind, operation, outcome, details, content_hash, prev_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wire.Sequence, wire.ID, wire.Timestamp, wire.AgentID, string(wire.Kind),
		wire.Operation, string(wire.Outcome), string(details), wire.ContentHash, wire.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("audit: sqlite insert: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
