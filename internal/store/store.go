// Package store persists finished recordings to the local data directory.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/john-rock/beeroll/internal/capture"
	"github.com/john-rock/beeroll/internal/logging"
)

// freeSpaceMargin is kept free beyond the artifact size so a save never
// fills the disk completely.
const freeSpaceMargin = 64 << 20

// RecordingStore writes artifacts into a data directory and prunes old
// recordings past the retention window.
type RecordingStore struct {
	dir string
	log *slog.Logger
}

// NewRecordingStore creates the data directory if needed.
func NewRecordingStore(dir string) (*RecordingStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &RecordingStore{dir: dir, log: logging.L("store")}, nil
}

// Dir returns the data directory the store writes into.
func (s *RecordingStore) Dir() string { return s.dir }

// Save writes the artifact under the given base name, deriving the file
// extension from the artifact's container. It preflights free disk space
// and returns the full path written.
func (s *RecordingStore) Save(a capture.Artifact, baseName string) (string, error) {
	if err := s.preflight(uint64(a.Size())); err != nil {
		return "", err
	}

	if baseName == "" {
		baseName = "recording-" + time.Now().Format("2006-01-02-150405")
	}
	path := filepath.Join(s.dir, baseName+extensionFor(a.MimeType))

	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", capture.SaveError("writing recording to disk", err)
	}
	s.log.Info("recording saved", "path", path, "bytes", a.Size())
	return path, nil
}

// preflight verifies the volume has room for the artifact plus a margin.
func (s *RecordingStore) preflight(need uint64) error {
	usage, err := disk.Usage(s.dir)
	if err != nil {
		// A failed probe is not worth refusing the save over.
		s.log.Warn("disk usage probe failed", logging.KeyError, err)
		return nil
	}
	if usage.Free < need+freeSpaceMargin {
		return capture.SaveError(
			fmt.Sprintf("not enough disk space: need %d bytes, %d free", need, usage.Free),
			nil,
		)
	}
	return nil
}

// Prune removes recordings older than maxAge and reports how many were
// deleted. A non-positive maxAge disables pruning.
func (s *RecordingStore) Prune(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isRecordingFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.Warn("prune failed", "file", e.Name(), logging.KeyError, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("pruned old recordings", "count", removed)
	}
	return removed, nil
}

func isRecordingFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".webm", ".mp4", ".mkv":
		return true
	default:
		return false
	}
}

func extensionFor(mimeType string) string {
	if strings.HasPrefix(mimeType, "video/mp4") || strings.HasPrefix(mimeType, "audio/mp4") {
		return ".mp4"
	}
	return ".webm"
}
