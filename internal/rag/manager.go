// Package rag indexes each conversation's transcript of evicted turns and
// retrieves the excerpts most similar to an incoming message.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/eventbus"
	"github.com/pointcrash/ai-dm-bot/internal/llm"
	"github.com/pointcrash/ai-dm-bot/internal/memory"
)

// Options configure a Manager.
type Options struct {
	DataDir      string
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	Concurrency  int
	Store        *Store
	Embedder     llm.Embedder
	Bus          *eventbus.Bus
	Logger       *zap.Logger
}

// Manager is the registry of per-conversation indices. An index is
// created on first access and dropped from the registry when deleted.
type Manager struct {
	dataDir     string
	splitter    *Splitter
	topK        int
	concurrency int
	store       *Store
	embedder    llm.Embedder
	bus         *eventbus.Bus
	logger      *zap.Logger

	mu      sync.Mutex
	indices map[string]*Index
}

// NewManager validates opts and returns an empty registry.
func NewManager(opts Options) (*Manager, error) {
	splitter, err := NewSplitter(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if opts.TopK < 1 {
		return nil, fmt.Errorf("top k must be positive, got %d", opts.TopK)
	}
	if opts.Store == nil || opts.Embedder == nil {
		return nil, errors.New("store and embedder are required")
	}
	if opts.DataDir == "" {
		return nil, errors.New("data dir is required")
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dataDir:     opts.DataDir,
		splitter:    splitter,
		topK:        opts.TopK,
		concurrency: concurrency,
		store:       opts.Store,
		embedder:    opts.Embedder,
		bus:         opts.Bus,
		logger:      logger.Named("rag"),
		indices:     make(map[string]*Index),
	}, nil
}

// Index returns the index of key, creating it on first access.
func (m *Manager) Index(key string) *Index {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, ok := m.indices[key]
	if !ok {
		ix = &Index{
			key:         key,
			transcript:  NewTranscript(m.dataDir, key),
			store:       m.store,
			embedder:    m.embedder,
			splitter:    m.splitter,
			topK:        m.topK,
			concurrency: m.concurrency,
			logger:      m.logger,
			bus:         m.bus,
		}
		m.indices[key] = ix
	}
	return ix
}

// Transcript returns the transcript of key.
func (m *Manager) Transcript(key string) *Transcript {
	return m.Index(key).transcript
}

// Archive appends evicted turns to the transcript of key.
func (m *Manager) Archive(_ context.Context, key string, turns []memory.Turn) error {
	ix := m.Index(key)
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.transcript.Append(turns); err != nil {
		return fmt.Errorf("append transcript %s: %w", key, err)
	}
	return nil
}

// Ingest indexes the new transcript bytes of key.
func (m *Manager) Ingest(ctx context.Context, key string) error {
	_, err := m.Index(key).IngestNewData(ctx)
	return err
}

// AppendEvicted archives turns and ingests them.
func (m *Manager) AppendEvicted(ctx context.Context, key string, turns []memory.Turn) error {
	if err := m.Archive(ctx, key, turns); err != nil {
		return err
	}
	return m.Ingest(ctx, key)
}

// Query returns the top-k excerpts of key for text, best first.
func (m *Manager) Query(ctx context.Context, key, text string) ([]string, error) {
	return m.Index(key).Query(ctx, text)
}

// Delete removes the index, offset and transcript of key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	ix := m.Index(key)
	if err := ix.Delete(ctx); err != nil {
		return fmt.Errorf("delete index %s: %w", key, err)
	}

	m.mu.Lock()
	if m.indices[key] == ix {
		delete(m.indices, key)
	}
	m.mu.Unlock()

	m.logger.Debug("index deleted", zap.String("key", key))
	return nil
}
