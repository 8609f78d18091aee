package task

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const maxLogLine = 4 << 20

// maxOutputLine caps a copied worker line below maxLogLine so Tail can
// always read it back with its prefix.
const maxOutputLine = 1 << 20

// LogPath returns the log file location for a task.
func LogPath(dir string, id uuid.UUID) string {
	return filepath.Join(dir, "task_"+id.String()+".log")
}

// Log is the append-only artifact recording one task's runs.
type Log struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenLog opens (creating if needed) the log for a task under dir.
func OpenLog(dir string, id uuid.UUID) (*Log, error) {
	return OpenLogFile(LogPath(dir, id))
}

// OpenLogFile opens the log at path for appending.
func OpenLogFile(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is derived from the task id
	if err != nil {
		return nil, fmt.Errorf("failed to open task log: %w", err)
	}
	return &Log{file: f, path: path}, nil
}

// Path returns the file path.
func (l *Log) Path() string {
	return l.path
}

// Write appends p. Safe for concurrent use.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Write(p)
}

// WriteLine appends one line with the given prefix.
func (l *Log) WriteLine(prefix, line string) error {
	_, err := l.Write([]byte(prefix + line + "\n"))
	return err
}

// Logger returns a structured logger writing text records to the log.
func (l *Log) Logger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(l, &slog.HandlerOptions{Level: level}))
}

// Close closes the file.
func (l *Log) Close() error {
	return l.file.Close()
}

// Tail returns up to the last n lines of the log at path. A missing file
// yields no lines.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // path comes from the task record
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open task log: %w", err)
	}
	defer func() { _ = f.Close() }()

	return tailLines(f, n)
}

func tailLines(r io.Reader, n int) ([]string, error) {
	ring := make([]string, 0, n)
	start := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	for scanner.Scan() {
		if len(ring) < n {
			ring = append(ring, scanner.Text())
			continue
		}
		ring[start] = scanner.Text()
		start = (start + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task log: %w", err)
	}

	return append(ring[start:], ring[:start]...), nil
}

// TruncatedSuffix marks a worker output line cut at the log line limit.
const TruncatedSuffix = " [truncated]"

// copyLines copies r into the log line by line, prefixing each line. Lines
// longer than maxOutputLine are cut and the rest of them discarded, so r is
// always read to EOF.
func copyLines(r io.Reader, log *Log, prefix string) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	truncated := false
	for {
		chunk, more, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		room := maxOutputLine - len(line)
		if len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		line = append(line, chunk...)
		if more {
			continue
		}

		text := string(line)
		if truncated {
			text += TruncatedSuffix
		}
		if err := log.WriteLine(prefix, text); err != nil {
			// Keep the pipe moving so the worker never blocks on a full buffer.
			_, _ = io.Copy(io.Discard, br)
			return err
		}
		line, truncated = line[:0], false
	}
}
