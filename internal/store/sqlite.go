// ABOUTME: SQLite transcript ledger using modernc.org/sqlite
// ABOUTME: Append-only record of finalized charter events, schema created on open

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/2389/charter-gateway/internal/events"
)

const (
	// DefaultHistoryLimit applies when a history query passes a
	// non-positive limit.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps a single history query.
	MaxHistoryLimit = 500
)

// timeLayout pads fractional seconds to fixed width so the TEXT column
// sorts chronologically. RFC3339Nano trims trailing zeros, which breaks
// lexicographic ordering ("...00Z" sorts after "...00.001Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteLedger is the transcript ledger backed by SQLite. Transcripts
// outlive the in-memory session: history remains queryable after a
// conversation is tombstoned or the tombstone itself is gone.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger opens (or creates) the ledger at the given path.
// Parent directories are created if needed.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	logger := slog.Default().With("component", "ledger")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &SQLiteLedger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("transcript ledger initialized", "path", path)
	return l, nil
}

func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS charter_events (
			event_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_charter_events_conversation
			ON charter_events(conversation_id, created_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// SaveEvent appends one event to the ledger.
func (l *SQLiteLedger) SaveEvent(ctx context.Context, ev *events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	query := `
		INSERT INTO charter_events (event_id, conversation_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, query,
		ev.ID,
		ev.ConversationID,
		string(ev.Type),
		string(payload),
		ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving event: %w", err)
	}
	return nil
}

// GetEvents returns a conversation's transcript in emission order, capped by
// limit (defaulted and clamped to the history bounds).
func (l *SQLiteLedger) GetEvents(ctx context.Context, conversationID string, limit int) ([]*events.Event, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `
		SELECT payload FROM charter_events
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*events.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			// A malformed row is skipped rather than failing the whole
			// transcript.
			l.logger.Warn("skipping malformed ledger row", "error", err)
			continue
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
