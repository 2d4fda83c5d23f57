package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pointcrash/ai-dm-bot/internal/eventbus"
	"github.com/pointcrash/ai-dm-bot/internal/llm"
)

// Ingest stages reported by IndexIngestError.
const (
	StageRead    = "read"
	StageEmbed   = "embed"
	StagePersist = "persist"
)

// IndexIngestError reports a failed ingestion. The offset is unchanged.
type IndexIngestError struct {
	Key   string
	Stage string
	Err   error
}

func (e *IndexIngestError) Error() string {
	return fmt.Sprintf("ingest %s (%s): %v", e.Key, e.Stage, e.Err)
}

func (e *IndexIngestError) Unwrap() error { return e.Err }

const embedBatchSize = 16

// Index is the retrieval index of one conversation: chunks of its
// transcript with their embeddings and the offset up to which the
// transcript has been ingested.
type Index struct {
	key         string
	transcript  *Transcript
	store       *Store
	embedder    llm.Embedder
	splitter    *Splitter
	topK        int
	concurrency int
	logger      *zap.Logger
	bus         *eventbus.Bus

	mu      sync.Mutex
	loaded  bool
	offset  int64
	chunks  []Chunk
	vectors []vector
}

func (ix *Index) load(ctx context.Context) error {
	if ix.loaded {
		return nil
	}
	offset, err := ix.store.Offset(ctx, ix.key)
	if err != nil {
		return err
	}
	chunks, err := ix.store.Chunks(ctx, ix.key)
	if err != nil {
		return err
	}
	ix.offset = offset
	ix.chunks = chunks
	ix.vectors = make([]vector, len(chunks))
	for i, c := range chunks {
		ix.vectors[i] = newVector(c.Embedding)
	}
	ix.loaded = true
	return nil
}

// Offset returns the number of transcript bytes already ingested.
func (ix *Index) Offset(ctx context.Context) (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.load(ctx); err != nil {
		return 0, err
	}
	return ix.offset, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len(ctx context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.load(ctx); err != nil {
		return 0, err
	}
	return len(ix.chunks), nil
}

// IngestNewData indexes the transcript bytes past the current offset and
// advances the offset to the file size observed when it started. It is a
// no-op when there are no new bytes. It returns the number of chunks added.
func (ix *Index) IngestNewData(ctx context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.load(ctx); err != nil {
		return 0, &IndexIngestError{Key: ix.key, Stage: StageRead, Err: err}
	}

	size, err := ix.transcript.Size()
	if err != nil {
		return 0, &IndexIngestError{Key: ix.key, Stage: StageRead, Err: err}
	}
	if size <= ix.offset {
		return 0, nil
	}

	text, err := ix.transcript.ReadRange(ix.offset, size)
	if err != nil {
		return 0, &IndexIngestError{Key: ix.key, Stage: StageRead, Err: err}
	}

	var pieces []string
	for _, c := range ix.splitter.Split(text) {
		if strings.TrimSpace(c) != "" {
			pieces = append(pieces, c)
		}
	}

	var embeddings [][]float32
	if len(pieces) > 0 {
		embeddings, err = ix.embed(ctx, pieces)
		if err != nil {
			return 0, &IndexIngestError{Key: ix.key, Stage: StageEmbed, Err: err}
		}
	}

	now := time.Now()
	added := make([]Chunk, len(pieces))
	for i, p := range pieces {
		added[i] = Chunk{
			ID:        uuid.NewString(),
			Seq:       len(ix.chunks) + i,
			Content:   p,
			Embedding: embeddings[i],
			CreatedAt: now,
		}
	}

	if err := ix.store.Commit(ctx, ix.key, ix.offset, size, added); err != nil {
		// Another instance may have ingested; reload on next access.
		ix.loaded = false
		return 0, &IndexIngestError{Key: ix.key, Stage: StagePersist, Err: err}
	}

	for _, c := range added {
		ix.chunks = append(ix.chunks, c)
		ix.vectors = append(ix.vectors, newVector(c.Embedding))
	}
	ix.logger.Debug("ingested transcript",
		zap.String("key", ix.key),
		zap.Int64("from", ix.offset),
		zap.Int64("to", size),
		zap.Int("chunks", len(added)),
	)
	ix.offset = size

	ix.bus.Publish(eventbus.TopicIndexIngested, eventbus.IndexIngested{
		Key:    ix.key,
		Chunks: len(added),
		Offset: size,
	})
	return len(added), nil
}

// embed embeds pieces in batches, several batches in flight at once.
func (ix *Index) embed(ctx context.Context, pieces []string) ([][]float32, error) {
	out := make([][]float32, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for start := 0; start < len(pieces); start += embedBatchSize {
		end := min(start+embedBatchSize, len(pieces))
		g.Go(func() error {
			vecs, err := ix.embedder.EmbedBatch(gctx, pieces[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns the k chunks most similar to text, best first.
func (ix *Index) Search(ctx context.Context, text string, k int) ([]Match, error) {
	ix.mu.Lock()
	if err := ix.load(ctx); err != nil {
		ix.mu.Unlock()
		return nil, err
	}
	chunks := ix.chunks
	vectors := ix.vectors
	ix.mu.Unlock()

	if len(chunks) == 0 || k <= 0 {
		return nil, nil
	}

	qv, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	q := newVector(qv)

	matches := make([]Match, len(chunks))
	for i, c := range chunks {
		matches[i] = Match{Content: c.Content, Seq: c.Seq, Score: cosine(q, vectors[i])}
	}
	rank(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Query returns the text of the top-k chunks for text. It never mutates the index.
func (ix *Index) Query(ctx context.Context, text string) ([]string, error) {
	matches, err := ix.Search(ctx, text, ix.topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Content
	}
	return out, nil
}

// Delete removes the transcript, chunks and offset of the conversation.
// The cached chunks are dropped even when it fails, so the next access
// reloads whatever the store still holds.
func (ix *Index) Delete(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.offset = 0
	ix.chunks = nil
	ix.vectors = nil
	ix.loaded = false

	if err := ix.transcript.Remove(); err != nil {
		return err
	}
	if err := ix.store.Delete(ctx, ix.key); err != nil {
		return err
	}
	ix.loaded = true
	return nil
}
