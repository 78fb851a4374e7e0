// Package sqlite implements memory.Provider on a local SQLite database so
// conversations and working memory survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentrelay/core"
)

// Provider is a durable memory.Provider backed by SQLite.
type Provider struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and runs the schema
// migration.
func New(dbPath string) (*Provider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return &Provider{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			tool_calls      TEXT NOT NULL DEFAULT '[]',
			tool_call_id    TEXT NOT NULL DEFAULT '',
			tool_name       TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, id);
		CREATE TABLE IF NOT EXISTS working_memory (
			scope      TEXT NOT NULL,
			id         TEXT NOT NULL,
			note       TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (scope, id)
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (p *Provider) Close() error { return p.db.Close() }

// LoadHistory implements memory.Provider.
func (p *Provider) LoadHistory(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	query := `SELECT role, content, tool_calls, tool_call_id, tool_name
		FROM messages WHERE conversation_id = ? ORDER BY id`
	args := []any{conversationID}
	if limit > 0 {
		// Trailing window: take the newest rows, then restore order.
		query = `SELECT role, content, tool_calls, tool_call_id, tool_name FROM (
			SELECT id, role, content, tool_calls, tool_call_id, tool_name
			FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var msg core.Message
		var role, toolCalls string
		if err := rows.Scan(&role, &msg.Content, &toolCalls, &msg.ToolCallID, &msg.ToolName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = core.Role(role)
		if toolCalls != "" && toolCalls != "[]" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SaveMessage implements memory.Provider.
func (p *Provider) SaveMessage(ctx context.Context, conversationID string, msg core.Message) error {
	toolCalls := "[]"
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(raw)
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Content, toolCalls, msg.ToolCallID, msg.ToolName,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// LoadWorkingMemory implements memory.Provider.
func (p *Provider) LoadWorkingMemory(ctx context.Context, scope, id string) (string, error) {
	var note string
	err := p.db.QueryRowContext(ctx,
		"SELECT note FROM working_memory WHERE scope = ? AND id = ?", scope, id,
	).Scan(&note)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load working memory: %w", err)
	}
	return note, nil
}

// SaveWorkingMemory implements memory.Provider.
func (p *Provider) SaveWorkingMemory(ctx context.Context, scope, id, text string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO working_memory (scope, id, note, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (scope, id) DO UPDATE SET note = excluded.note, updated_at = excluded.updated_at`,
		scope, id, text, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save working memory: %w", err)
	}
	return nil
}
