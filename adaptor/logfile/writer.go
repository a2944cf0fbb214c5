// Package logfile provides the size-rotating file writer behind the runner
// log and the per-session logs. Rotated copies are named {name}.1 (newest)
// through {name}.N (oldest).
package logfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var errClosed = errors.New("logfile: writer closed")

// Writer is a goroutine-safe io.WriteCloser that rotates by size. A
// maxBytes <= 0 disables rotation; maxFiles == 0 truncates in place
// instead of keeping copies.
type Writer struct {
	path     string
	maxBytes int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64
}

// Open creates dir if needed and opens dir/name for appending. The current
// size is picked up so a restarted runner rotates on schedule.
//
//	w, err := logfile.Open("/var/log/jobsession", "jobsession.log", 64<<20, 8)
//	if err != nil { ... }
//	defer w.Close()
func Open(dir, name string, maxBytes int64, maxFiles int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logfile: mkdir %s: %w", dir, err)
	}
	w := &Writer{
		path:     filepath.Join(dir, name),
		maxBytes: maxBytes,
		maxFiles: max(maxFiles, 0),
	}
	if err := w.openCurrent(os.O_APPEND); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the path of the live file.
func (w *Writer) Path() string { return w.path }

func (w *Writer) openCurrent(mode int) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("logfile: open %s: %w", w.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logfile: stat %s: %w", w.path, err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past
// maxBytes. A single write larger than maxBytes is written whole into a
// fresh file.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, errClosed
	}
	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Sync flushes the live file to stable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return errClosed
	}
	return w.file.Sync()
}

// Close closes the live file. Closing twice is not an error.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with w.mu held.
func (w *Writer) rotate() error {
	_ = w.file.Close()
	w.file = nil

	if w.maxFiles > 0 {
		w.shift()
	}
	return w.openCurrent(os.O_TRUNC)
}

// shift drops the oldest copy and renames name.N-1 to name.N down to name
// to name.1.
func (w *Writer) shift() {
	_ = os.Remove(w.copyPath(w.maxFiles))
	for i := w.maxFiles - 1; i >= 1; i-- {
		_ = os.Rename(w.copyPath(i), w.copyPath(i+1))
	}
	_ = os.Rename(w.path, w.copyPath(1))
}

func (w *Writer) copyPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}
