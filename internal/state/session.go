package state

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the cached view of a remote session.
type Session struct {
	ID        string
	Name      string
	AgentType string
	DeviceID  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	SyncedAt  time.Time
}

// UpsertSessions refreshes cached sessions from a directory listing.
func (db *DB) UpsertSessions(ctx context.Context, sessions []Session) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, s := range sessions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, name, agent_type, device_id, status, created_at, updated_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				agent_type = excluded.agent_type,
				device_id = excluded.device_id,
				status = excluded.status,
				updated_at = excluded.updated_at,
				synced_at = excluded.synced_at
		`, s.ID, s.Name, s.AgentType, s.DeviceID, s.Status, s.CreatedAt.UTC(), s.UpdatedAt.UTC(), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, agent_type, device_id, status, created_at, updated_at, synced_at
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, agent_type, device_id, status, created_at, updated_at, synced_at
		FROM sessions WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session with its conversations and input history.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM conversations WHERE session_id = ?",
		"DELETE FROM session_input_history WHERE session_id = ?",
		"DELETE FROM sessions WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (Session, error) {
	var (
		out                         Session
		name, agent, device, status sql.NullString
		created, updated, synced    sql.NullTime
	)
	if err := s.Scan(&out.ID, &name, &agent, &device, &status, &created, &updated, &synced); err != nil {
		return Session{}, err
	}
	out.Name = name.String
	out.AgentType = agent.String
	out.DeviceID = device.String
	out.Status = status.String
	out.CreatedAt = created.Time
	out.UpdatedAt = updated.Time
	out.SyncedAt = synced.Time
	return out, nil
}
