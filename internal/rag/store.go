package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pointcrash/ai-dm-bot/internal/storage"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS rag_chunks (
		id TEXT PRIMARY KEY,
		chat_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_rag_chunks_key_seq ON rag_chunks(chat_key, seq)`,
	`CREATE TABLE IF NOT EXISTS rag_offsets (
		chat_key TEXT PRIMARY KEY,
		ingest_offset INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// ErrOffsetConflict is returned when the stored offset moved since it was read.
var ErrOffsetConflict = errors.New("ingest offset changed concurrently")

// Chunk is one indexed transcript fragment.
type Chunk struct {
	ID        string
	Seq       int
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// Store persists chunks and ingest offsets in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore migrates the retrieval tables in db.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := storage.Migrate(ctx, db, "rag", migrations); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Offset returns the ingest offset of key, 0 if it was never ingested.
func (s *Store) Offset(ctx context.Context, key string) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ingest_offset FROM rag_offsets WHERE chat_key = ?`, key,
	).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return offset, err
}

// Chunks returns every chunk of key in insertion order.
func (s *Store) Chunks(ctx context.Context, key string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, content, embedding, created_at FROM rag_chunks WHERE chat_key = ? ORDER BY seq ASC`,
		key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Seq, &c.Content, &blob, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Commit adds chunks and moves the offset of key from `from` to `to` in
// one transaction. It fails with ErrOffsetConflict if the stored offset is
// no longer `from`.
func (s *Store) Commit(ctx context.Context, key string, from, to int64, chunks []Chunk) error {
	if to < from {
		return fmt.Errorf("offset would move backwards: %d -> %d", from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT ingest_offset FROM rag_offsets WHERE chat_key = ?`, key,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if current != from {
		return fmt.Errorf("%w: expected %d, found %d", ErrOffsetConflict, from, current)
	}

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rag_chunks (id, chat_key, seq, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, key, c.Seq, c.Content, encodeVector(c.Embedding), c.CreatedAt.UTC(),
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO rag_offsets (chat_key, ingest_offset, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		key, to,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes every chunk and the offset of key.
func (s *Store) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rag_chunks WHERE chat_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rag_offsets WHERE chat_key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

// encodeVector serializes v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
