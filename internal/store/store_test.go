package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/john-rock/beeroll/internal/capture"
)

func testStore(t *testing.T) *RecordingStore {
	t.Helper()
	s, err := NewRecordingStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRecordingStore: %v", err)
	}
	return s
}

func TestSaveWritesRecording(t *testing.T) {
	s := testStore(t)

	a := capture.Artifact{
		ID:       "rec-1",
		MimeType: "video/webm;codecs=vp9,opus",
		Data:     []byte("not really webm"),
	}
	path, err := s.Save(a, "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(path, ".webm") {
		t.Fatalf("path = %q, want .webm suffix", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if string(data) != "not really webm" {
		t.Fatalf("saved data = %q", data)
	}
}

func TestSaveDerivesExtensionFromMime(t *testing.T) {
	s := testStore(t)

	path, err := s.Save(capture.Artifact{MimeType: "video/mp4;codecs=avc1", Data: []byte("x")}, "clip")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "clip.mp4" {
		t.Fatalf("file name = %q, want clip.mp4", filepath.Base(path))
	}
}

func TestPruneRemovesOnlyExpiredRecordings(t *testing.T) {
	s := testStore(t)
	dir := s.Dir()

	old := filepath.Join(dir, "recording-old.webm")
	fresh := filepath.Join(dir, "recording-new.webm")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("writing %s: %v", p, err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.Chtimes(other, stale, stale); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	n, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d files, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expired recording survived prune")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh recording removed by prune")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatal("non-recording file removed by prune")
	}
}

func TestPruneDisabledForNonPositiveAge(t *testing.T) {
	s := testStore(t)

	old := filepath.Join(s.Dir(), "recording-old.webm")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing: %v", err)
	}
	stale := time.Now().Add(-240 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	n, err := s.Prune(0)
	if err != nil || n != 0 {
		t.Fatalf("Prune(0) = %d, %v; want 0, nil", n, err)
	}
	if _, err := os.Stat(old); err != nil {
		t.Fatal("recording removed with pruning disabled")
	}
}
