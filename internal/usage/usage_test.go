package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tr, err := NewTracker(context.Background(), db)
	require.NoError(t, err)
	return tr
}

func TestIncrementAndStats(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	_, ok, err := tr.Stats(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Increment(ctx, 1))
	}
	require.NoError(t, tr.Increment(ctx, 2))

	s, ok, err := tr.Stats(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, s.TotalRequests)
	assert.True(t, fixed.Equal(s.LastRequest))

	s, _, err = tr.Stats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalRequests)
}

func TestAllowed(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	ok, err := tr.Allowed(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tr.Increment(ctx, 1))
	require.NoError(t, tr.Increment(ctx, 1))

	ok, err = tr.Allowed(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.Allowed(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFormatted(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	out, err := tr.Formatted(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Usage statistics are unavailable.", out)

	require.NoError(t, tr.Increment(ctx, 5))
	out, err = tr.Formatted(ctx, 5)
	require.NoError(t, err)
	assert.Contains(t, out, "Total requests: 1")
	assert.Contains(t, out, "Last request: ")
}

func TestRecordTokens(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tok, err := tr.Tokens(ctx, "chat")
	require.NoError(t, err)
	assert.Zero(t, tok.Total())

	require.NoError(t, tr.RecordTokens(ctx, "chat", 100, 40))
	require.NoError(t, tr.RecordTokens(ctx, "chat", 50, 10))

	tok, err = tr.Tokens(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, 2, tok.Completions)
	assert.Equal(t, 150, tok.PromptTokens)
	assert.Equal(t, 50, tok.CompletionTokens)
	assert.Equal(t, 200, tok.Total())
}
