// Package memory keeps the bounded per-conversation turn window, its
// running summary, and the eviction of old turns on overflow.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/pointcrash/ai-dm-bot/internal/llm"
)

// Role distinguishes prompt framing of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message exchanged in a conversation.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// History is a snapshot of one conversation's window and summary.
type History struct {
	Turns   []Turn
	Summary string
}

// HistoryStore persists conversation histories.
type HistoryStore interface {
	LoadHistory(ctx context.Context, key string) (History, error)
	// SaveHistory replaces the stored window and summary for key.
	SaveHistory(ctx context.Context, key string, h History) error
	DeleteHistory(ctx context.Context, key string) error
}

// Summarizer digests evicted turns together with the previous summary.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn, previous string) (string, error)
}

// Archive receives evicted windows under the ingest policy and is wiped on reset.
type Archive interface {
	// Archive durably records turns in the conversation transcript.
	Archive(ctx context.Context, key string, turns []Turn) error
	// Ingest indexes whatever the transcript holds beyond the last ingest.
	Ingest(ctx context.Context, key string) error
	// Delete removes the transcript and index for key.
	Delete(ctx context.Context, key string) error
}

// Messages converts turns into completion messages.
func Messages(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}

// StorageError reports a durable read or write failure for a conversation.
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// OverflowError reports an eviction that could not complete. The window
// keeps the turns it failed to evict so the next overflow retries them.
type OverflowError struct {
	Key    string
	Policy Policy
	Err    error
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("evict %s (%s): %v", e.Key, e.Policy, e.Err)
}

func (e *OverflowError) Unwrap() error { return e.Err }
