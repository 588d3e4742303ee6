package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RollingFile is an append-only writer that moves the current file to
// path+".1" once the next write would push it past its limit. Writes are
// serialized, so one RollingFile may back several loggers.
type RollingFile struct {
	path  string
	limit int64

	mu   sync.Mutex
	file *os.File
	size int64
}

// OpenRolling opens path for appending. A limit <= 0 never rolls.
func OpenRolling(path string, limit int64) (*RollingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log dir: %w", err)
	}
	r := &RollingFile{path: path, limit: limit}
	if err := r.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the active file.
func (r *RollingFile) Path() string {
	return r.path
}

// Write appends p, rolling first when p would overflow the limit. A single
// write larger than the limit still lands whole in a fresh file.
func (r *RollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.limit > 0 && r.size > 0 && r.size+int64(len(p)) > r.limit {
		if err := r.roll(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close releases the file. Later writes fail with os.ErrClosed.
func (r *RollingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *RollingFile) roll() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", r.path, err)
	}
	r.file = nil
	if err := os.Rename(r.path, r.path+".1"); err != nil {
		return fmt.Errorf("roll %s: %w", r.path, err)
	}
	return r.open(os.O_TRUNC)
}

func (r *RollingFile) open(mode int) error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", r.path, err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}
