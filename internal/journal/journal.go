// Package journal keeps an append-only JSONL history of recording
// activity: sessions, saves, compression outcomes, preference changes.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/john-rock/beeroll/internal/logging"
)

// Event types recorded in the journal.
const (
	EventSessionStarted  = "session_started"
	EventSessionStopped  = "session_stopped"
	EventSessionEnded    = "session_ended"
	EventRecordingSaved  = "recording_saved"
	EventCompressionDone = "compression_done"
	EventQualityChanged  = "quality_changed"
)

// Entry is a single history record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	SessionID string         `json:"sessionId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal writes JSONL history records with size-based rotation. Safe for
// concurrent use; all methods are no-ops on a nil receiver so callers can
// treat history as optional.
type Journal struct {
	log *slog.Logger

	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
}

// Open creates a journal writing to {dir}/history.jsonl.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	j := &Journal{
		log:        logging.L("journal"),
		filePath:   filepath.Join(dir, "history.jsonl"),
		maxSize:    5 * 1024 * 1024,
		maxBackups: 2,
	}
	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Record appends one event. Write failures are logged, never propagated:
// history must not break recording.
func (j *Journal) Record(eventType, sessionID string, details map[string]any) {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		SessionID: sessionID,
		Details:   details,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		j.log.Error("marshaling history entry failed", logging.KeyError, err, "eventType", eventType)
		return
	}
	data = append(data, '\n')

	if j.written+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			j.log.Error("history rotation failed", logging.KeyError, err)
			return
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		j.log.Error("writing history entry failed", logging.KeyError, err, "eventType", eventType)
		return
	}
	j.written += int64(n)
}

// Recent returns up to limit entries from the current file, newest last.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if j == nil || limit <= 0 {
		return nil, nil
	}

	j.mu.Lock()
	path := j.filePath
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Close flushes and closes the journal file. Nil-safe.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

func (j *Journal) openFile() error {
	f, err := os.OpenFile(j.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat history journal: %w", err)
	}
	j.file = f
	j.written = info.Size()
	return nil
}

// rotate shifts backups (.2 is dropped, .1 becomes .2, current becomes .1)
// and reopens a fresh file.
func (j *Journal) rotate() error {
	if j.file != nil {
		j.file.Close()
	}

	for i := j.maxBackups; i >= 2; i-- {
		src := j.backupName(i - 1)
		dst := j.backupName(i)
		if i == j.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				j.log.Warn("removing oldest history backup failed", "path", dst, logging.KeyError, err)
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			j.log.Warn("shifting history backup failed", "src", src, "dst", dst, logging.KeyError, err)
		}
	}
	if err := os.Rename(j.filePath, j.backupName(1)); err != nil && !os.IsNotExist(err) {
		j.log.Warn("renaming current history file failed", logging.KeyError, err)
	}

	return j.openFile()
}

func (j *Journal) backupName(index int) string {
	if index == 0 {
		return j.filePath
	}
	return fmt.Sprintf("%s.%d", j.filePath, index)
}
