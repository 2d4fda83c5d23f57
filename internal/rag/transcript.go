package rag

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pointcrash/ai-dm-bot/internal/memory"
)

var plainKey = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// fileKey maps key to a file name part. Keys of letters, digits and dashes,
// such as chat ids, are kept; any other key is hex-encoded behind an
// underscore, which plain keys never contain.
func fileKey(key string) string {
	if plainKey.MatchString(key) {
		return key
	}
	return "_" + hex.EncodeToString([]byte(key))
}

// Transcript is the append-only plain-text record of a conversation's
// evicted turns, stored at <dir>/transcripts/<key>/history_<key>.txt.
type Transcript struct {
	dir  string
	path string
}

// NewTranscript returns the transcript for key under dataDir.
func NewTranscript(dataDir, key string) *Transcript {
	safe := fileKey(key)
	dir := filepath.Join(dataDir, "transcripts", safe)
	return &Transcript{
		dir:  dir,
		path: filepath.Join(dir, "history_"+safe+".txt"),
	}
}

// Path returns the transcript file path.
func (t *Transcript) Path() string {
	return t.path
}

// FormatTurns renders turns the way they are written to the transcript.
func FormatTurns(turns []memory.Turn) string {
	var sb strings.Builder
	for _, turn := range turns {
		sb.WriteString(string(turn.Role))
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// Append writes turns to the end of the file and syncs it.
func (t *Transcript) Append(turns []memory.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if err := os.MkdirAll(t.dir, 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(FormatTurns(turns)); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Size returns the file size in bytes, 0 if it does not exist.
func (t *Transcript) Size() (int64, error) {
	info, err := os.Stat(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadRange returns the bytes in [from, to).
func (t *Transcript) ReadRange(from, to int64) (string, error) {
	if from < 0 || to < from {
		return "", fmt.Errorf("invalid range [%d, %d)", from, to)
	}
	f, err := os.Open(t.path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.NewSectionReader(f, from, to-from))
	if err != nil {
		return "", err
	}
	if int64(len(data)) != to-from {
		return "", fmt.Errorf("short read: got %d of %d bytes", len(data), to-from)
	}
	return string(data), nil
}

// Remove deletes the transcript and its directory.
func (t *Transcript) Remove() error {
	return os.RemoveAll(t.dir)
}
