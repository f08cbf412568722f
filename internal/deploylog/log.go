// Package deploylog implements the append-only, human-readable deployment
// log kept inside the working tree.
//
// Each Append opens the file with O_APPEND, writes exactly one line and closes
// it again, so the file survives rotation and concurrent readers never see a
// torn line. Timestamps are always rendered in UTC with millisecond precision
// so logs from different hosts sort and compare the same way.
package deploylog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deployhook/internal/security"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Log appends timestamped lines to a file.
type Log struct {
	path    string
	mu      sync.Mutex
	now     func() time.Time
	console io.Writer
}

// New returns a Log writing to path. Nothing is created until the first Append.
func New(path string) *Log {
	return &Log{
		path:    path,
		now:     time.Now,
		console: os.Stderr,
	}
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// SetClock replaces the time source. Used by tests.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetConsole replaces the writer that receives write-failure reports.
func (l *Log) SetConsole(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
}

// FormatTimestamp renders t the way every log line does.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Append writes "[timestamp] [runID] message" as a single line. Multi-line
// messages are indented so that every physical line still belongs to the
// record. A write failure is reported to the console and otherwise ignored.
func (l *Log) Append(runID, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := formatLine(FormatTimestamp(l.now()), runID, message)
	if err := l.write(line); err != nil {
		fmt.Fprintf(l.console, "deployment log error: %v\n", err)
	}
}

func formatLine(ts, runID, message string) string {
	message = strings.TrimRight(message, "\n")
	message = strings.ReplaceAll(message, "\r\n", "\n")
	message = strings.ReplaceAll(message, "\n", "\n    ")

	if runID == "" {
		return fmt.Sprintf("[%s] %s\n", ts, message)
	}
	return fmt.Sprintf("[%s] [%s] %s\n", ts, runID, message)
}

func (l *Log) write(line string) error {
	if err := security.CreateSecureDir(filepath.Dir(l.path), security.PermDirectory); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if _, err := io.WriteString(f, line); err != nil {
		f.Close()
		return fmt.Errorf("write log file: %w", err)
	}
	return f.Close()
}

// Tail returns the last n physical lines of the log. A missing file is not an
// error and yields no lines.
func (l *Log) Tail(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	return ring, nil
}
