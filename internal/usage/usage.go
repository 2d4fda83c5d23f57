// Package usage counts requests per player and tokens per conversation.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS usage (
		user_id INTEGER PRIMARY KEY,
		total_requests INTEGER NOT NULL DEFAULT 0,
		last_request DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS token_usage (
		chat_key TEXT PRIMARY KEY,
		completions INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME
	)`,
}

// Stats is the request history of one player.
type Stats struct {
	UserID        int64
	TotalRequests int
	LastRequest   time.Time
}

// Tokens is the token spend of one conversation.
type Tokens struct {
	Key              string
	Completions      int
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (t Tokens) Total() int {
	return t.PromptTokens + t.CompletionTokens
}

// Tracker persists usage counters.
type Tracker struct {
	db  *sql.DB
	now func() time.Time
}

// NewTracker migrates the usage tables in db.
func NewTracker(ctx context.Context, db *sql.DB) (*Tracker, error) {
	if err := storage.Migrate(ctx, db, "usage", migrations); err != nil {
		return nil, err
	}
	return &Tracker{db: db, now: time.Now}, nil
}

// Increment counts one request by userID.
func (t *Tracker) Increment(ctx context.Context, userID int64) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage (user_id, total_requests, last_request) VALUES (?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_requests = total_requests + 1,
			last_request = excluded.last_request`,
		userID, t.now().UTC(),
	)
	return err
}

// Stats returns the counters of userID. ok is false when the player has
// never made a request.
func (t *Tracker) Stats(ctx context.Context, userID int64) (s Stats, ok bool, err error) {
	s.UserID = userID
	var last sql.NullTime
	err = t.db.QueryRowContext(ctx,
		`SELECT total_requests, last_request FROM usage WHERE user_id = ?`, userID,
	).Scan(&s.TotalRequests, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if last.Valid {
		s.LastRequest = last.Time
	}
	return s, true, nil
}

// Allowed reports whether userID is still under limit. A limit of zero or
// less means unlimited.
func (t *Tracker) Allowed(ctx context.Context, userID int64, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	s, _, err := t.Stats(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.TotalRequests < limit, nil
}

// Formatted renders the statistics of userID for a chat reply.
func (t *Tracker) Formatted(ctx context.Context, userID int64) (string, error) {
	s, ok, err := t.Stats(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "Usage statistics are unavailable.", nil
	}
	last := "no data"
	if !s.LastRequest.IsZero() {
		last = s.LastRequest.Local().Format("02.01.2006 15:04:05")
	}
	return fmt.Sprintf("📊 Usage statistics:\nTotal requests: %d\nLast request: %s", s.TotalRequests, last), nil
}

// RecordTokens adds one completion's token counts to the conversation key.
func (t *Tracker) RecordTokens(ctx context.Context, key string, prompt, completion int) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO token_usage (chat_key, completions, prompt_tokens, completion_tokens, updated_at) VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(chat_key) DO UPDATE SET
			completions = completions + 1,
			prompt_tokens = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			updated_at = excluded.updated_at`,
		key, prompt, completion, t.now().UTC(),
	)
	return err
}

// Tokens returns the token spend of key, zero when nothing was recorded.
func (t *Tracker) Tokens(ctx context.Context, key string) (Tokens, error) {
	tok := Tokens{Key: key}
	err := t.db.QueryRowContext(ctx,
		`SELECT completions, prompt_tokens, completion_tokens FROM token_usage WHERE chat_key = ?`, key,
	).Scan(&tok.Completions, &tok.PromptTokens, &tok.CompletionTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return tok, nil
	}
	return tok, err
}
