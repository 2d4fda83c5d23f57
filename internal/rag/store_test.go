package rag

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointcrash/ai-dm-bot/internal/memory"
	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "rag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(context.Background(), db)
	require.NoError(t, err)
	return s
}

func TestStoreCommitAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	chunks := []Chunk{
		{ID: "a", Seq: 0, Content: "first", Embedding: []float32{0.5, -1.25}, CreatedAt: now},
		{ID: "b", Seq: 1, Content: "second", Embedding: []float32{3, 0}, CreatedAt: now},
	}
	require.NoError(t, s.Commit(ctx, "chat", 0, 120, chunks))

	offset, err := s.Offset(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, int64(120), offset)

	loaded, err := s.Chunks(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "first", loaded[0].Content)
	assert.Equal(t, []float32{0.5, -1.25}, loaded[0].Embedding)
	assert.Equal(t, 1, loaded[1].Seq)
}

func TestStoreCommitConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, "chat", 0, 50, nil))

	err := s.Commit(ctx, "chat", 0, 80, []Chunk{{ID: "x", Content: "dup", Embedding: []float32{1}}})
	assert.ErrorIs(t, err, ErrOffsetConflict)

	// Nothing from the rejected commit was written.
	chunks, err := s.Chunks(ctx, "chat")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	err = s.Commit(ctx, "chat", 50, 40, nil)
	assert.Error(t, err)
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, "chat", 0, 10, []Chunk{{ID: "x", Content: "c", Embedding: []float32{1}}}))
	require.NoError(t, s.Delete(ctx, "chat"))

	offset, err := s.Offset(ctx, "chat")
	require.NoError(t, err)
	assert.Zero(t, offset)
	chunks, err := s.Chunks(ctx, "chat")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1, -2.5, 3.14159}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	a := newVector([]float32{1, 0})
	assert.InDelta(t, 1.0, cosine(a, newVector([]float32{2, 0})), 1e-9)
	assert.InDelta(t, 0.0, cosine(a, newVector([]float32{0, 1})), 1e-9)
	assert.InDelta(t, -1.0, cosine(a, newVector([]float32{-1, 0})), 1e-9)
	assert.Zero(t, cosine(a, newVector([]float32{1, 0, 0})))
	assert.Zero(t, cosine(a, newVector([]float32{0, 0})))
}

func TestTranscriptPathsAreDistinct(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "transcripts", "-100", "history_-100.txt"), NewTranscript(dir, "-100").Path())

	keys := []string{"a.b", "a_b", "a-b", "_612e62", "a/b", "console"}
	seen := make(map[string]string)
	for _, k := range keys {
		p := NewTranscript(dir, k).Path()
		prev, dup := seen[p]
		assert.False(t, dup, "%q and %q share %s", k, prev, p)
		seen[p] = k
	}

	a := NewTranscript(dir, "a.b")
	b := NewTranscript(dir, "a_b")
	require.NoError(t, a.Append([]memory.Turn{{Role: memory.RoleUser, Content: "dot"}}))
	size, err := b.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestTranscriptAppendAndRead(t *testing.T) {
	tr := NewTranscript(t.TempDir(), "-100/42")
	assert.Contains(t, tr.Path(), "history__2d3130302f3432.txt")

	size, err := tr.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, tr.Append([]memory.Turn{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: "hello"},
	}))
	size, err = tr.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len("user: hi\n\nassistant: hello\n\n")), size)

	part, err := tr.ReadRange(10, size)
	require.NoError(t, err)
	assert.Equal(t, "assistant: hello\n\n", part)

	_, err = tr.ReadRange(0, size+5)
	assert.Error(t, err)

	require.NoError(t, tr.Remove())
	size, err = tr.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}
