// Package tracker keeps one record per live job session on disk. Each record
// names the runner that owns it; a record whose runner has died is stale, and
// the next invocation uses it to report (and optionally reap) the orphaned
// process.
package tracker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/gurre/jobsession-go/adaptor/procspawn"
)

const recordExt = ".json"

// Record identifies the process a session launched.
type Record struct {
	SessionID string    `json:"session_id"`
	Pid       int       `json:"pid"`
	Account   string    `json:"account,omitempty"`
	Elevated  bool      `json:"elevated,omitempty"`
	Args      []string  `json:"args"`
	Started   time.Time `json:"started"`
	// RunnerPid is the pid of the runner supervising the session.
	RunnerPid int `json:"runner_pid"`
}

// FileTracker stores session records as JSON files in a single directory.
type FileTracker struct {
	dir    string
	logger *slog.Logger
	self   int
	alive  func(pid int) bool
}

// NewFileTracker creates a tracker rooted at dir. The directory is created
// on first write.
//
//	t := tracker.NewFileTracker("/var/lib/jobsession/sessions", logger)
func NewFileTracker(dir string, logger *slog.Logger) *FileTracker {
	return &FileTracker{dir: dir, logger: logger, self: os.Getpid(), alive: procspawn.Alive}
}

// Dir returns the tracking directory.
func (t *FileTracker) Dir() string { return t.dir }

func (t *FileTracker) path(sessionID string) string {
	return filepath.Join(t.dir, sessionID+recordExt)
}

// Create writes the record for a session that has just started. A zero
// RunnerPid is filled in with the calling process. The file is replaced
// atomically so a concurrent Stale never sees half a record.
func (t *FileTracker) Create(rec Record) error {
	if rec.SessionID == "" {
		return fmt.Errorf("tracker: empty session id")
	}
	if rec.RunnerPid == 0 {
		rec.RunnerPid = t.self
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("tracker: mkdir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tracker: marshal %s: %w", rec.SessionID, err)
	}

	tmp, err := os.CreateTemp(t.dir, "."+rec.SessionID+"-*")
	if err != nil {
		return fmt.Errorf("tracker: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("tracker: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("tracker: close %s: %w", tmpName, err)
	}
	path := t.path(rec.SessionID)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("tracker: rename %s: %w", path, err)
	}
	return nil
}

// Delete removes the record for a session. A missing record is not an
// error; the runner calls Delete after every session regardless of state.
func (t *FileTracker) Delete(sessionID string) {
	path := t.path(sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("tracker: remove failed", "path", path, "error", err)
	}
}

// Stale returns the records whose runner is no longer alive, oldest first.
// Records owned by this process or by another live runner are skipped, and
// unreadable records are removed instead of returned.
func (t *FileTracker) Stale() []Record {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil
	}

	var out []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(t.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.SessionID == "" {
			t.logger.Warn("removing unreadable session record", "path", path, "error", err)
			_ = os.Remove(path)
			continue
		}
		if t.owned(rec) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// owned reports whether a live runner still supervises the session. Records
// without a runner pid predate ownership and count as orphaned.
func (t *FileTracker) owned(rec Record) bool {
	if rec.RunnerPid <= 0 {
		return false
	}
	return rec.RunnerPid == t.self || t.alive(rec.RunnerPid)
}

// CleanAll removes the tracking directory and every record in it.
func (t *FileTracker) CleanAll() {
	_ = os.RemoveAll(t.dir)
}
