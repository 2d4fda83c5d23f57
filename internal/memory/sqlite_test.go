package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	return s
}

func TestSaveAndLoadHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	h := History{
		Turns: []Turn{
			{Role: RoleUser, Content: "Hello", Timestamp: ts},
			{Role: RoleAssistant, Content: "Hi there!", Timestamp: ts.Add(time.Second)},
			{Role: RoleUser, Content: "How are you?", Timestamp: ts.Add(2 * time.Second)},
		},
		Summary: "They met.",
	}
	require.NoError(t, s.SaveHistory(ctx, "chat1", h))

	loaded, err := s.LoadHistory(ctx, "chat1")
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 3)
	assert.Equal(t, "Hello", loaded.Turns[0].Content)
	assert.Equal(t, RoleAssistant, loaded.Turns[1].Role)
	assert.Equal(t, "How are you?", loaded.Turns[2].Content)
	assert.True(t, loaded.Turns[0].Timestamp.Equal(ts))
	assert.Equal(t, "They met.", loaded.Summary)
}

func TestSaveReplacesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveHistory(ctx, "chat1", History{
		Turns: []Turn{{Role: RoleUser, Content: "a"}, {Role: RoleUser, Content: "b"}},
	}))
	require.NoError(t, s.SaveHistory(ctx, "chat1", History{
		Turns:   []Turn{{Role: RoleUser, Content: "c"}},
		Summary: "a and b",
	}))

	loaded, err := s.LoadHistory(ctx, "chat1")
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, "c", loaded.Turns[0].Content)
	assert.Equal(t, "a and b", loaded.Summary)

	require.NoError(t, s.SaveHistory(ctx, "chat1", History{}))
	loaded, err = s.LoadHistory(ctx, "chat1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Turns)
	assert.Empty(t, loaded.Summary)
}

func TestLoadUnknownKey(t *testing.T) {
	s := newTestStore(t)
	h, err := s.LoadHistory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, h.Turns)
	assert.Empty(t, h.Summary)
}

func TestDeleteHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveHistory(ctx, "chat1", History{Turns: []Turn{{Role: RoleUser, Content: "a"}}, Summary: "s"}))
	require.NoError(t, s.SaveHistory(ctx, "chat2", History{Turns: []Turn{{Role: RoleUser, Content: "b"}}}))
	require.NoError(t, s.DeleteHistory(ctx, "chat1"))

	h, err := s.LoadHistory(ctx, "chat1")
	require.NoError(t, err)
	assert.Empty(t, h.Turns)
	assert.Empty(t, h.Summary)

	h, err = s.LoadHistory(ctx, "chat2")
	require.NoError(t, err)
	assert.Len(t, h.Turns, 1)
}

func TestBufferSurvivesRestart(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)
	opts := Options{MaxLength: 2, Policy: PolicySummarize, Store: store, Summarizer: &fakeSummarizer{}}

	b1, err := NewBuffer(opts)
	require.NoError(t, err)
	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, b1.Append(ctx, "chat", RoleUser, c))
	}

	b2, err := NewBuffer(opts)
	require.NoError(t, err)
	h, err := b2.Snapshot(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, contents(h.Turns))
	assert.Equal(t, "a,b", h.Summary)
}
