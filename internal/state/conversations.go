package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yubzen/phonepilot/internal/timeline"
)

const insertConversation = `
	INSERT INTO conversations (id, session_id, role, content, thinking, action, created_at, seq)
	VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM conversations WHERE session_id = ?))
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		thinking = excluded.thinking,
		action = excluded.action
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveRecord(ctx context.Context, ex execer, r timeline.Record) error {
	var action any
	if len(r.Action) > 0 {
		action = string(r.Action)
	}
	var thinking any
	if r.Thinking != nil {
		thinking = *r.Thinking
	}
	_, err := ex.ExecContext(ctx, insertConversation,
		r.ID, r.SessionID, string(r.Role), r.Content, thinking, action, r.CreatedAt, r.SessionID)
	return err
}

// SaveConversation stores one record, updating it in place if the id exists.
func (db *DB) SaveConversation(ctx context.Context, r timeline.Record) error {
	return saveRecord(ctx, db.conn, r)
}

// ReplaceConversations swaps the cached history of a session for records.
func (db *DB) ReplaceConversations(ctx context.Context, sessionID string, records []timeline.Record) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	for _, r := range records {
		r.SessionID = sessionID
		if err := saveRecord(ctx, tx, r); err != nil {
			return fmt.Errorf("cache conversation %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (db *DB) ListConversations(ctx context.Context, sessionID string) ([]timeline.Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, role, content, thinking, action, created_at
		FROM conversations
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timeline.Record
	for rows.Next() {
		var (
			r                timeline.Record
			role             string
			content, created sql.NullString
			thinking, action sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &role, &content, &thinking, &action, &created); err != nil {
			return nil, err
		}
		r.Role = timeline.Role(role)
		r.Content = content.String
		r.CreatedAt = created.String
		if thinking.Valid {
			v := thinking.String
			r.Thinking = &v
		}
		if action.Valid {
			r.Action = json.RawMessage(action.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordTurn caches a finished exchange: the user's task and the finalized
// assistant message in the steps encoding.
func (db *DB) RecordTurn(ctx context.Context, sessionID string, user, assistant timeline.Message) error {
	steps, err := timeline.EncodeSteps(assistant.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	records := []timeline.Record{
		{
			ID:        user.ID,
			SessionID: sessionID,
			Role:      timeline.RoleUser,
			Content:   user.Content,
			CreatedAt: formatTime(user.Timestamp),
		},
		{
			ID:        assistant.ID,
			SessionID: sessionID,
			Role:      timeline.RoleAssistant,
			Content:   assistant.Content,
			Action:    steps,
			CreatedAt: formatTime(assistant.Timestamp),
		},
	}
	for _, r := range records {
		if err := saveRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
