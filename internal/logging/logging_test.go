package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter_Defaults(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "app.log")

	w, err := NewRotatingWriter(RotationConfig{File: file})
	if err != nil {
		t.Fatalf("NewRotatingWriter() failed: %v", err)
	}
	defer w.Close()

	if w.MaxSize != defaultMaxSizeMB || w.MaxBackups != defaultMaxFiles {
		t.Errorf("MaxSize=%d MaxBackups=%d, want defaults", w.MaxSize, w.MaxBackups)
	}
	if _, err := os.Stat(filepath.Dir(file)); err != nil {
		t.Errorf("log directory not created: %v", err)
	}
}

func TestNewRotatingWriter_EmptyPath(t *testing.T) {
	if _, err := NewRotatingWriter(RotationConfig{}); err == nil {
		t.Error("NewRotatingWriter() accepted an empty path")
	}
}

func TestSink(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	sink, err := Open(RotationConfig{File: Path(dir)}, &console)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	sink.Logger("bootstrap").Printf("Database ready: mode=%s", "local")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if !strings.Contains(console.String(), "[bootstrap] Database ready: mode=local") {
		t.Errorf("console output = %q", console.String())
	}

	logs, err := ReadLogs(sink.Path(), 0)
	if err != nil {
		t.Fatalf("ReadLogs() failed: %v", err)
	}
	if !strings.Contains(logs, "[bootstrap] Database ready: mode=local") {
		t.Errorf("file output = %q", logs)
	}
}

func TestReadLogs_Missing(t *testing.T) {
	logs, err := ReadLogs(filepath.Join(t.TempDir(), "none.log"), 0)
	if err != nil {
		t.Fatalf("ReadLogs() failed: %v", err)
	}
	if logs != "" {
		t.Errorf("ReadLogs() = %q, want empty", logs)
	}
}

func TestReadLogs_Tail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.log")
	content := "first line is long enough to be cut\nsecond\nthird\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	logs, err := ReadLogs(path, 20)
	if err != nil {
		t.Fatalf("ReadLogs() failed: %v", err)
	}
	if logs != "second\nthird\n" {
		t.Errorf("ReadLogs() = %q, want the last whole lines", logs)
	}
}
