// Package logging writes diagnostics for every atc mode to .atc/logs/atc.log
// so nothing draws over the terminal UI. The file rolls over to a single
// ".1" backup once it grows past MaxBytes.
package logging

import (
	"fmt"
	"log"
	"path/filepath"
)

const (
	// FileName is the diagnostic log inside .atc/logs.
	FileName = "atc.log"
	// MaxBytes is the size at which a log file rolls over.
	MaxBytes int64 = 1 << 20
)

// Logger is a standard library logger bound to a rolling file.
type Logger struct {
	out *RollingFile
	std *log.Logger
}

// New opens atc.log inside logsDir, creating the directory when needed.
func New(logsDir string) (*Logger, error) {
	out, err := OpenRolling(filepath.Join(logsDir, FileName), MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return &Logger{
		out: out,
		std: log.New(out, "", log.LstdFlags|log.Lmicroseconds|log.LUTC),
	}, nil
}

// Printf writes one line. Lines logged after Close are dropped.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.std.Printf(format, args...)
}

// Path reports the active log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.out.Path()
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.out.Close()
}
