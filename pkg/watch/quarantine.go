package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Rejection is one quarantined file, written as a line of errors.jsonl.
type Rejection struct {
	File  string    `json:"file"`
	Moved string    `json:"moved"`
	Code  string    `json:"code,omitempty"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Quarantine moves rejected files out of the watched directory and logs
// why they were rejected.
type Quarantine struct {
	mu    sync.Mutex
	dir   string
	log   *os.File
	count int
}

// NewQuarantine creates dir if needed and opens its errors.jsonl for
// appending.
func NewQuarantine(dir string) (*Quarantine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	log, err := os.OpenFile(filepath.Join(dir, "errors.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Quarantine{dir: dir, log: log}, nil
}

// Add moves path into the quarantine directory. A name already taken
// there gets a timestamp suffix.
func (q *Quarantine) Add(path, code, reason string) (Rejection, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	dst := filepath.Join(q.dir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(q.dir, fmt.Sprintf("%s.%s", filepath.Base(path), now.Format("20060102T150405.000000000")))
	}
	if err := move(path, dst); err != nil {
		return Rejection{}, fmt.Errorf("failed to quarantine %s: %w", path, err)
	}

	rej := Rejection{File: path, Moved: dst, Code: code, Error: reason, At: now}
	data, err := json.Marshal(rej)
	if err != nil {
		return rej, err
	}
	if _, err := q.log.Write(append(data, '\n')); err != nil {
		return rej, err
	}
	q.count++
	return rej, nil
}

// Count returns the number of files quarantined since creation.
func (q *Quarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close flushes and closes the error log.
func (q *Quarantine) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.log.Sync(); err != nil {
		q.log.Close()
		return err
	}
	return q.log.Close()
}

// move renames src to dst, copying when they are on different devices.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
