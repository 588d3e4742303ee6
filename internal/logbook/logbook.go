// Package logbook keeps the human-facing journal of a simulation session:
// plan loads, admissions, completions and transport trouble. Entries go to a
// rolling file and into a bounded in-memory window, so the TUI can show the
// latest entries without rereading the file.
package logbook

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ajtruex/agenttrafficcontrol/internal/logging"
)

// FileName is the journal inside .atc/logs.
const FileName = "journal.log"

// window is how many recent entries stay in memory.
const window = 256

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook journals session events. A nil *Logbook discards everything.
type Logbook struct {
	out   *logging.RollingFile
	clock func() time.Time

	mu     sync.Mutex
	recent []string
	total  int
}

// New opens the journal at path, seeding the in-memory window with the
// entries already on disk.
func New(path string) (*Logbook, error) {
	recent, total, err := loadRecent(path)
	if err != nil {
		return nil, fmt.Errorf("logbook: %w", err)
	}
	out, err := logging.OpenRolling(path, logging.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("logbook: %w", err)
	}
	return &Logbook{out: out, clock: time.Now, recent: recent, total: total}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.out.Path()
}

// Close releases the journal file. Entries appended afterwards are kept in
// memory only.
func (l *Logbook) Close() error {
	if l == nil {
		return nil
	}
	return l.out.Close()
}

// Append journals a single entry.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	line := fmt.Sprintf("%s %-5s %s",
		l.clock().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write([]byte(line + "\n"))
	l.remember(line)
}

// Tail returns up to maxLines of the most recent entries along with the
// number of entries journaled so far, including those found at open.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recent) == 0 {
		return nil, l.total
	}
	from := max(0, len(l.recent)-maxLines)
	out := make([]string, len(l.recent)-from)
	copy(out, l.recent[from:])
	return out, l.total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// remember adds line to the window. The backing slice is compacted only
// once it holds two windows' worth. Callers hold l.mu.
func (l *Logbook) remember(line string) {
	l.total++
	l.recent = append(l.recent, line)
	if len(l.recent) >= 2*window {
		l.recent = append(l.recent[:0], l.recent[len(l.recent)-window:]...)
	}
}

// loadRecent reads the last window entries of an existing journal.
func loadRecent(path string) ([]string, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	var (
		recent []string
		total  int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		total++
		recent = append(recent, scanner.Text())
		if len(recent) >= 2*window {
			recent = append(recent[:0], recent[len(recent)-window:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	if len(recent) > window {
		recent = append(recent[:0], recent[len(recent)-window:]...)
	}
	return recent, total, nil
}
