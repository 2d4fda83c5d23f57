package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/eventbus"
)

// Policy selects what happens to the window on overflow.
type Policy string

const (
	// PolicyIngest moves the evicted window into the retrieval archive.
	PolicyIngest Policy = "ingest"
	// PolicySummarize folds the evicted window into the running summary.
	PolicySummarize Policy = "summarize"
)

// ErrEmptyHistory is returned when there is nothing to summarize.
var ErrEmptyHistory = errors.New("history is empty")

// Options configure a Buffer.
type Options struct {
	MaxLength  int
	Policy     Policy
	Store      HistoryStore
	Summarizer Summarizer
	// Archive is required for PolicyIngest. Under any policy it is wiped on Reset.
	Archive Archive
	Bus     *eventbus.Bus
	Logger  *zap.Logger
	// Now overrides the turn clock.
	Now func() time.Time
}

// Buffer is the registry of bounded conversation windows. Each key is
// loaded from the store on first access and serialized by its own lock.
type Buffer struct {
	maxLength  int
	policy     Policy
	store      HistoryStore
	summarizer Summarizer
	archive    Archive
	bus        *eventbus.Bus
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	loaded  bool
	dropped bool
	turns   []Turn
	summary string
}

// NewBuffer validates opts and returns an empty registry.
func NewBuffer(opts Options) (*Buffer, error) {
	if opts.MaxLength < 1 {
		return nil, fmt.Errorf("max length must be positive, got %d", opts.MaxLength)
	}
	switch opts.Policy {
	case PolicyIngest:
		if opts.Archive == nil {
			return nil, errors.New("ingest policy requires an archive")
		}
	case PolicySummarize:
		if opts.Summarizer == nil {
			return nil, errors.New("summarize policy requires a summarizer")
		}
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", opts.Policy)
	}
	if opts.Store == nil {
		return nil, errors.New("history store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		maxLength:  opts.MaxLength,
		policy:     opts.Policy,
		store:      opts.Store,
		summarizer: opts.Summarizer,
		archive:    opts.Archive,
		bus:        opts.Bus,
		logger:     logger.Named("memory"),
		now:        now,
		entries:    make(map[string]*entry),
	}, nil
}

// Policy returns the eviction policy in force.
func (b *Buffer) Policy() Policy {
	return b.policy
}

// MaxLength returns the window capacity.
func (b *Buffer) MaxLength() int {
	return b.maxLength
}

// acquire returns the locked, loaded entry for key. The registry lock is
// held only for the map lookup.
func (b *Buffer) acquire(ctx context.Context, key string) (*entry, error) {
	for {
		b.mu.Lock()
		e, ok := b.entries[key]
		if !ok {
			e = &entry{}
			b.entries[key] = e
		}
		b.mu.Unlock()

		e.mu.Lock()
		if e.dropped {
			// Reset removed this entry while we waited.
			e.mu.Unlock()
			continue
		}
		if !e.loaded {
			h, err := b.store.LoadHistory(ctx, key)
			if err != nil {
				e.mu.Unlock()
				return nil, &StorageError{Key: key, Op: "load", Err: err}
			}
			e.turns = h.Turns
			e.summary = h.Summary
			e.loaded = true
		}
		return e, nil
	}
}

// Append adds a turn to the window for key. When the window is already
// full it is evicted first, so the new turn always starts the next window.
//
// The turn is kept in memory even when eviction or persistence fails; the
// returned error then wraps an *OverflowError and/or a *StorageError.
func (b *Buffer) Append(ctx context.Context, key string, role Role, content string) error {
	e, err := b.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	var evictErr error
	if len(e.turns) >= b.maxLength {
		evictErr = b.evict(ctx, key, e)
	}

	e.turns = append(e.turns, Turn{Role: role, Content: content, Timestamp: b.now()})
	saveErr := b.persist(ctx, key, e)

	b.bus.Publish(eventbus.TopicTurnAppended, eventbus.TurnAppended{
		Key:    key,
		Role:   string(role),
		Length: len(e.turns),
	})
	return errors.Join(evictErr, saveErr)
}

// evict empties the window of e according to the policy. On failure the
// window is left untouched.
func (b *Buffer) evict(ctx context.Context, key string, e *entry) error {
	evicted := make([]Turn, len(e.turns))
	copy(evicted, e.turns)

	switch b.policy {
	case PolicySummarize:
		summary, err := b.summarizer.Summarize(ctx, evicted, e.summary)
		if err != nil {
			b.fail(key, err)
			return &OverflowError{Key: key, Policy: b.policy, Err: err}
		}
		e.summary = summary
		e.turns = nil

	case PolicyIngest:
		if err := b.archive.Archive(ctx, key, evicted); err != nil {
			b.fail(key, err)
			return &OverflowError{Key: key, Policy: b.policy, Err: err}
		}
		e.turns = nil
		// The turns are safe in the transcript; a failed ingest is retried
		// by the next one since the offset did not move.
		if err := b.archive.Ingest(ctx, key); err != nil {
			b.logger.Warn("ingest after eviction failed", zap.String("key", key), zap.Error(err))
			b.fail(key, err)
		}
	}

	b.logger.Debug("window evicted",
		zap.String("key", key),
		zap.String("policy", string(b.policy)),
		zap.Int("turns", len(evicted)),
	)
	b.bus.Publish(eventbus.TopicHistoryEvicted, eventbus.HistoryEvicted{
		Key:     key,
		Policy:  string(b.policy),
		Evicted: len(evicted),
	})
	return nil
}

func (b *Buffer) persist(ctx context.Context, key string, e *entry) error {
	h := History{Turns: e.turns, Summary: e.summary}
	if err := b.store.SaveHistory(ctx, key, h); err != nil {
		b.logger.Warn("persist history failed", zap.String("key", key), zap.Error(err))
		b.fail(key, err)
		return &StorageError{Key: key, Op: "save", Err: err}
	}
	return nil
}

func (b *Buffer) fail(key string, err error) {
	b.bus.Publish(eventbus.TopicError, eventbus.Failure{Key: key, Component: "memory", Err: err})
}

// Turns returns a copy of the current window, oldest first.
func (b *Buffer) Turns(ctx context.Context, key string) ([]Turn, error) {
	e, err := b.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

// Summary returns the digest of evicted turns, or "" if there is none.
func (b *Buffer) Summary(ctx context.Context, key string) (string, error) {
	e, err := b.acquire(ctx, key)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()
	return e.summary, nil
}

// Snapshot returns the window and summary read under one lock.
func (b *Buffer) Snapshot(ctx context.Context, key string) (History, error) {
	e, err := b.acquire(ctx, key)
	if err != nil {
		return History{}, err
	}
	defer e.mu.Unlock()

	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return History{Turns: turns, Summary: e.summary}, nil
}

// Reset clears the window and summary of key, deletes its durable history
// and wipes the archive so nothing from before the reset can be retrieved.
func (b *Buffer) Reset(ctx context.Context, key string) error {
	e, err := b.acquire(ctx, key)
	if err != nil {
		// Load failed; the durable state is still deleted below.
		e = &entry{}
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	e.turns = nil
	e.summary = ""

	var errs []error
	if err := b.store.DeleteHistory(ctx, key); err != nil {
		errs = append(errs, &StorageError{Key: key, Op: "delete", Err: err})
	}
	if b.archive != nil {
		if err := b.archive.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete archive %s: %w", key, err))
		}
	}

	b.mu.Lock()
	if b.entries[key] == e {
		delete(b.entries, key)
	}
	b.mu.Unlock()
	e.dropped = true

	b.bus.Publish(eventbus.TopicHistoryReset, eventbus.HistoryReset{Key: key})
	return errors.Join(errs...)
}

// Summarize folds the current window and the previous summary into a new
// summary and empties the window. Under the ingest policy the window is
// archived as well, so retrieval still sees it.
func (b *Buffer) Summarize(ctx context.Context, key string) (string, error) {
	if b.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}
	e, err := b.acquire(ctx, key)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()

	if len(e.turns) == 0 {
		if e.summary != "" {
			return e.summary, nil
		}
		return "", ErrEmptyHistory
	}

	window := make([]Turn, len(e.turns))
	copy(window, e.turns)

	summary, err := b.summarizer.Summarize(ctx, window, e.summary)
	if err != nil {
		return "", err
	}

	if b.policy == PolicyIngest {
		if err := b.archive.Archive(ctx, key, window); err != nil {
			return "", &OverflowError{Key: key, Policy: b.policy, Err: err}
		}
		if err := b.archive.Ingest(ctx, key); err != nil {
			b.logger.Warn("ingest after summary failed", zap.String("key", key), zap.Error(err))
			b.fail(key, err)
		}
	}

	e.summary = summary
	e.turns = nil
	return summary, b.persist(ctx, key, e)
}

// FormattedHistory renders the summary and window for display.
func (b *Buffer) FormattedHistory(ctx context.Context, key string) (string, error) {
	h, err := b.Snapshot(ctx, key)
	if err != nil {
		return "", err
	}
	return FormatHistory(h), nil
}

// FormatHistory renders h for display.
func FormatHistory(h History) string {
	if len(h.Turns) == 0 && h.Summary == "" {
		return "The conversation history is empty."
	}

	var sb strings.Builder
	sb.WriteString("📜 Conversation history:\n\n")
	if h.Summary != "" {
		sb.WriteString("📝 Context: ")
		sb.WriteString(h.Summary)
		sb.WriteString("\n\n")
	}
	for _, t := range h.Turns {
		if t.Role == RoleUser {
			sb.WriteString("👤 You: ")
		} else {
			sb.WriteString("🎲 DM: ")
		}
		sb.WriteString(t.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
