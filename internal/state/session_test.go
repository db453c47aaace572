package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubzen/phonepilot/internal/timeline"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Connect(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionsUpsertAndList(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	require.NoError(t, db.UpsertSessions(ctx, []Session{
		{ID: "a", Name: "first", AgentType: "glm", Status: "active", CreatedAt: older, UpdatedAt: older},
		{ID: "b", Name: "second", AgentType: "gelab", Status: "active", CreatedAt: newer, UpdatedAt: newer},
	}))
	require.NoError(t, db.UpsertSessions(ctx, []Session{
		{ID: "a", Name: "renamed", AgentType: "glm", Status: "closed", CreatedAt: older, UpdatedAt: older},
	}))

	sessions, err := db.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)
	assert.Equal(t, "renamed", sessions[1].Name)
	assert.Equal(t, "closed", sessions[1].Status)
	assert.False(t, sessions[1].SyncedAt.IsZero())

	got, err := db.GetSession(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "gelab", got.AgentType)
	assert.True(t, newer.Equal(got.CreatedAt))
}

func TestDeleteSessionCascades(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertSessions(ctx, []Session{{ID: "s1", Name: "x"}}))
	require.NoError(t, db.SaveConversation(ctx, timeline.Record{ID: "c1", SessionID: "s1", Role: timeline.RoleUser, Content: "hi"}))
	require.NoError(t, db.AppendSessionInputHistory(ctx, "s1", "hi"))

	require.NoError(t, db.DeleteSession(ctx, "s1"))

	_, err := db.GetSession(ctx, "s1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	records, err := db.ListConversations(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, records)
	history, err := db.GetSessionInputHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReplaceConversationsKeepsOrderAndNullColumns(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	thinking := "legacy thought"

	require.NoError(t, db.SaveConversation(ctx, timeline.Record{ID: "stale", SessionID: "s", Role: timeline.RoleUser, Content: "old"}))
	require.NoError(t, db.ReplaceConversations(ctx, "s", []timeline.Record{
		{ID: "1", Role: timeline.RoleUser, Content: "open wifi settings", CreatedAt: "2026-01-01T00:00:00"},
		{ID: "2", Role: timeline.RoleAssistant, Content: "done", Thinking: &thinking, Action: json.RawMessage(`{"action":"tap"}`)},
	}))

	records, err := db.ListConversations(ctx, "s")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ID)
	assert.Nil(t, records[0].Thinking)
	assert.Nil(t, records[0].Action)
	require.NotNil(t, records[1].Thinking)
	assert.Equal(t, thinking, *records[1].Thinking)
	assert.JSONEq(t, `{"action":"tap"}`, string(records[1].Action))
}

func TestRecordTurnStoresStepsEncoding(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	user := timeline.Message{ID: "u1", Role: timeline.RoleUser, Content: "open camera", Timestamp: at}
	assistant := timeline.Message{
		ID:        "a1",
		Role:      timeline.RoleAssistant,
		Content:   "Task completed",
		Timestamp: at.Add(time.Second),
		Steps: []timeline.Step{{
			ID:         "a1-step-1",
			StepNumber: 1,
			Thinking:   "find the camera icon",
			Action:     timeline.Action{"action": "tap"},
			Status:     timeline.StatusCompleted,
			Timestamp:  at,
		}},
	}
	require.NoError(t, db.RecordTurn(ctx, "s", user, assistant))

	records, err := db.ListConversations(ctx, "s")
	require.NoError(t, err)
	msgs := timeline.Reconcile(records)
	require.Len(t, msgs, 2)
	assert.Equal(t, "open camera", msgs[0].Content)
	assert.Empty(t, msgs[0].Steps)
	require.Len(t, msgs[1].Steps, 1)
	assert.Equal(t, "tap", msgs[1].Steps[0].Action.Name())
	assert.Equal(t, "find the camera icon", msgs[1].Steps[0].Thinking)
	assert.True(t, assistant.Timestamp.Equal(msgs[1].Timestamp))
}
