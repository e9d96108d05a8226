package daemon

import (
	"encoding/json"
	"sync"
	"time"
)

// SyncRecord is one sync attempt.
type SyncRecord struct {
	Started  time.Time
	Duration time.Duration
	Trigger  Trigger

	// Err is nil for a successful sync.
	Err error
}

// OK reports whether the sync succeeded.
func (r SyncRecord) OK() bool {
	return r.Err == nil
}

// MarshalJSON renders Err as its message.
func (r SyncRecord) MarshalJSON() ([]byte, error) {
	view := struct {
		Started    time.Time `json:"started"`
		DurationMS int64     `json:"duration_ms"`
		Trigger    Trigger   `json:"trigger"`
		Error      string    `json:"error,omitempty"`
	}{
		Started:    r.Started,
		DurationMS: r.Duration.Milliseconds(),
		Trigger:    r.Trigger,
	}
	if r.Err != nil {
		view.Error = r.Err.Error()
	}
	return json.Marshal(view)
}

// History is a fixed-size ring of sync records.
type History struct {
	mu      sync.Mutex
	entries []SyncRecord
	next    int
	full    bool
}

// NewHistory returns a History keeping the last size records.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{entries: make([]SyncRecord, size)}
}

// Add records an attempt, overwriting the oldest once full.
func (h *History) Add(rec SyncRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = rec
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Entries returns the records in chronological order (oldest first).
func (h *History) Entries() []SyncRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		out := make([]SyncRecord, h.next)
		copy(out, h.entries[:h.next])
		return out
	}

	out := make([]SyncRecord, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}

// Last returns the most recent record.
func (h *History) Last() (SyncRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full && h.next == 0 {
		return SyncRecord{}, false
	}
	i := (h.next - 1 + len(h.entries)) % len(h.entries)
	return h.entries[i], true
}
