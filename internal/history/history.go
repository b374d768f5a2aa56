// Package history keeps an append-only JSONL log of task runs under the
// output root, rotating it into an archive directory when it grows large.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	FileName = "history.jsonl"
	// ArchiveDir holds rotated logs next to FileName.
	ArchiveDir = "history-archive"
	// DefaultMaxSize is the size at which the log is rotated.
	DefaultMaxSize int64 = 1 << 20
)

// Entry is one finished run. Like the run record it names forwarded
// variables but never stores their values.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	InvocationID string    `json:"invocation_id"`
	Task         string    `json:"task"`
	State        string    `json:"state"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	EnvMode      string    `json:"env_mode,omitempty"`
	EnvNames     []string  `json:"env_names,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	maxSize int64
	now     func() time.Time
}

// Open opens or creates the history log in dir.
func Open(dir string, maxSize int64) (*Log, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	l := &Log{path: filepath.Join(dir, FileName), maxSize: maxSize, now: time.Now}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat history: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func (l *Log) Path() string {
	return l.path
}

// Append writes e as one line and syncs it. A zero Timestamp is filled in.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("history log is closed")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	data = append(data, '\n')

	if l.size > 0 && l.size+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate history: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write history entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync history: %w", err)
	}
	l.size += int64(n)
	return nil
}

func (l *Log) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	archive := filepath.Join(filepath.Dir(l.path), ArchiveDir)
	if err := os.MkdirAll(archive, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("history.%s.jsonl", l.now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(l.path, filepath.Join(archive, name)); err != nil {
		return err
	}
	return l.open()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadAll returns the entries of the current log, oldest first. Malformed
// lines are skipped. A missing log yields no entries.
func ReadAll(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}
