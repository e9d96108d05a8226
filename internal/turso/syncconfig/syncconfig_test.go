package syncconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "accounts.db")
}

func TestPath(t *testing.T) {
	got := Path(filepath.Join("data", "accounts.db"))
	want := filepath.Join("data", "sync_config.json")
	if got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestLoad_Missing(t *testing.T) {
	if cfg := Load(testDBPath(t)); cfg != nil {
		t.Errorf("Load() = %+v, want nil", cfg)
	}
}

func TestLoad_Malformed(t *testing.T) {
	dbPath := testDBPath(t)
	if err := os.WriteFile(Path(dbPath), []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if cfg := Load(dbPath); cfg != nil {
		t.Errorf("Load() = %+v, want nil for malformed file", cfg)
	}
}

func TestSaveLoad(t *testing.T) {
	dbPath := testDBPath(t)

	if err := Save(dbPath, "libsql://ledger.example.com", "secret"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	cfg := Load(dbPath)
	if cfg == nil {
		t.Fatal("Load() returned nil after Save()")
	}
	if cfg.URL != "libsql://ledger.example.com" || cfg.Token != "secret" {
		t.Errorf("Load() = %+v", cfg)
	}

	data, err := os.ReadFile(Path(dbPath))
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if !strings.Contains(string(data), `"url"`) || !strings.Contains(string(data), `"token"`) {
		t.Errorf("unexpected file contents: %s", data)
	}
}

func TestSave_Overwrites(t *testing.T) {
	dbPath := testDBPath(t)

	if err := Save(dbPath, "https://a.example.com", "one"); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	if err := Save(dbPath, "", ""); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	cfg := Load(dbPath)
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.URL != "" || cfg.Token != "" {
		t.Errorf("Load() = %+v, want empty fields", cfg)
	}
	if cfg.Enabled() {
		t.Error("empty config reports Enabled() = true")
	}
}

func TestSave_ReplacesAtomically(t *testing.T) {
	dbPath := testDBPath(t)

	for _, token := range []string{"first", "second"} {
		if err := Save(dbPath, "libsql://ledger.example.com", token); err != nil {
			t.Fatalf("Save(%s) failed: %v", token, err)
		}
	}

	info, err := os.Stat(Path(dbPath))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	entries, err := os.ReadDir(filepath.Dir(dbPath))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != FileName {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}

	if cfg := Load(dbPath); cfg == nil || cfg.Token != "second" {
		t.Errorf("Load() = %+v, want token second", cfg)
	}
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  *SyncConfig
		want bool
	}{
		{"nil", nil, false},
		{"empty", &SyncConfig{}, false},
		{"url only", &SyncConfig{URL: "libsql://x"}, false},
		{"token only", &SyncConfig{Token: "tok"}, false},
		{"both", &SyncConfig{URL: "libsql://x", Token: "tok"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("abcdef"); got != "<6 chars>" {
		t.Errorf("Redact() = %q", got)
	}
	if got := Redact(""); got != "<empty>" {
		t.Errorf("Redact(\"\") = %q", got)
	}
}

func TestWatcher_ReportsWriteAndRemove(t *testing.T) {
	dbPath := testDBPath(t)

	w, err := NewWatcher(dbPath)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(filepath.Dir(dbPath), "other.json"), []byte("{}"), 0600); err != nil {
		t.Fatalf("failed to write other file: %v", err)
	}

	if err := Save(dbPath, "libsql://x.example.com", "tok"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if ev := waitForEvent(t, w, OpWrite); ev.Config == nil {
		// The create event can race the write; a later write event carries the contents.
		if ev := waitForConfig(t, w); ev.Config.URL != "libsql://x.example.com" {
			t.Errorf("Config.URL = %q", ev.Config.URL)
		}
	}

	if err := os.Remove(Path(dbPath)); err != nil {
		t.Fatalf("failed to remove config: %v", err)
	}
	waitForEvent(t, w, OpRemove)
}

func TestWatcher_StartTwice(t *testing.T) {
	w, err := NewWatcher(testDBPath(t))
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("second Start() succeeded")
	}
	if !w.IsRunning() {
		t.Error("IsRunning() = false")
	}
}

func waitForEvent(t *testing.T, w *Watcher, op EventOp) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Op == op {
				return ev
			}
		case err := <-w.Errors():
			t.Fatalf("watcher error: %v", err)
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", op)
		}
	}
}

func waitForConfig(t *testing.T, w *Watcher) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Op == OpWrite && ev.Config != nil {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for config contents")
		}
	}
}
