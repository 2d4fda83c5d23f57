package memory

import (
	"context"
	"database/sql"
	"time"

	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

// SQLiteStore implements HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore migrates the history tables in db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := storage.Migrate(ctx, db, "memory", migrations); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, key string) (History, error) {
	var h History

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE chat_key = ? ORDER BY seq ASC`,
		key,
	)
	if err != nil {
		return h, err
	}
	defer rows.Close()

	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.Timestamp); err != nil {
			return h, err
		}
		t.Role = Role(role)
		h.Turns = append(h.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return h, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT summary FROM summaries WHERE chat_key = ?`,
		key,
	).Scan(&h.Summary)
	if err != nil && err != sql.ErrNoRows {
		return h, err
	}
	return h, nil
}

func (s *SQLiteStore) SaveHistory(ctx context.Context, key string, h History) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE chat_key = ?`, key); err != nil {
		return err
	}
	for i, t := range h.Turns {
		ts := t.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (chat_key, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			key, i, string(t.Role), t.Content, ts.UTC(),
		); err != nil {
			return err
		}
	}

	if h.Summary == "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM summaries WHERE chat_key = ?`, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO summaries (chat_key, summary, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			key, h.Summary,
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteHistory(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE chat_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE chat_key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}
