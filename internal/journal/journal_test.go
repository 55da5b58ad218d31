package journal

import (
	"os"
	"testing"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	j.Record(EventSessionStarted, "s-1", nil)
	if err := j.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
	entries, err := j.Recent(10)
	if err != nil || entries != nil {
		t.Fatalf("nil Recent = %v, %v", entries, err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := newTestJournal(t)

	j.Record(EventSessionStarted, "s-1", map[string]any{"quality": "balanced"})
	j.Record(EventSessionStopped, "s-1", map[string]any{"durationMs": 1500})
	j.Record(EventRecordingSaved, "s-1", map[string]any{"path": "/tmp/x.webm"})

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].EventType != EventSessionStarted {
		t.Fatalf("first event = %q", entries[0].EventType)
	}
	if entries[0].SessionID != "s-1" {
		t.Fatalf("session id = %q", entries[0].SessionID)
	}
	if entries[2].Details["path"] != "/tmp/x.webm" {
		t.Fatalf("details = %v", entries[2].Details)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	j := newTestJournal(t)
	for i := 0; i < 20; i++ {
		j.Record(EventCompressionDone, "s-2", map[string]any{"i": i})
	}

	entries, err := j.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	// Newest last: the final entry carries the highest counter.
	if got := entries[4].Details["i"].(float64); got != 19 {
		t.Fatalf("last entry i = %v, want 19", got)
	}
}

func TestRotationKeepsBackups(t *testing.T) {
	j := newTestJournal(t)
	j.maxSize = 300

	for i := 0; i < 20; i++ {
		j.Record(EventRecordingSaved, "s-3", map[string]any{"i": i})
	}
	j.Close()

	if _, err := os.Stat(j.backupName(1)); err != nil {
		t.Fatal("no backup file after rotation")
	}
	entries, err := j.Recent(100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("current file empty after rotation")
	}
}
