package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrintfWritesOneLinePerCall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Printf("engine: loaded plan %s\n", "Calm")
	logger.Printf("bridge: listening on %s", "127.0.0.1:8787")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	logger.Printf("dropped after close")

	if got, want := logger.Path(), filepath.Join(dir, FileName); got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
	lines := readLines(t, logger.Path())
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if !strings.HasSuffix(lines[0], " engine: loaded plan Calm") {
		t.Fatalf("unexpected line format: %q", lines[0])
	}
}

func TestRollingFileRollsPastLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roll.log")
	out, err := OpenRolling(path, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = out.Close() })
	for _, line := range []string{"first\n", "second\n", "third\n"} {
		if _, err := out.Write([]byte(line)); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}
	if got := readLines(t, path+".1"); len(got) != 1 || got[0] != "second" {
		t.Fatalf("backup = %q, want only the second line", got)
	}
	if got := readLines(t, path); len(got) != 1 || got[0] != "third" {
		t.Fatalf("active = %q, want only the third line", got)
	}
}

func TestRollingFileAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	out, err := OpenRolling(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := out.Write([]byte("new\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := out.Write([]byte("late\n")); err == nil {
		t.Fatalf("expected write after close to fail")
	}
	if got := readLines(t, path); len(got) != 2 || got[0] != "old" || got[1] != "new" {
		t.Fatalf("unexpected contents: %q", got)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Printf("ignored")
	if err := logger.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
