package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to date stamped log files, starting a fresh file on
// each UTC day and whenever the current file would grow past MaxBytes.
//
// Files are named <prefix>-YYYY-MM-DD[-N].log, with N counting same day
// rollovers from 2. The base path is maintained as a symlink to whichever
// file is current so tail -F on the base path keeps working.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu    sync.Mutex
	day   string
	seq   int
	file  *os.File
	wrote int64
}

// NewRotatingWriter opens the writer for basePath. Passing "-" returns a
// writer that drops everything, which disables file logging.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes}
	if err := rw.ensureFile(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureFile(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.wrote += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ensureFile opens or rotates the underlying file so that writing incoming
// bytes stays within the current day and size limits. Caller holds mu.
func (w *RotatingWriter) ensureFile(incoming int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.day != today:
		w.day = today
		w.seq = 1
	case w.wrote+incoming > w.MaxBytes:
		w.seq++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	dir := filepath.Dir(w.BasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, w.fileName())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = f
	w.wrote = 0
	if st, serr := f.Stat(); serr == nil {
		w.wrote = st.Size()
	}
	w.repoint(path)
	return nil
}

// fileName derives <prefix>-<day>[-seq]<ext> from the base path.
func (w *RotatingWriter) fileName() string {
	name := filepath.Base(w.BasePath)
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".log"
	}
	prefix := strings.TrimSuffix(name, filepath.Ext(name))
	if w.seq > 1 {
		return fmt.Sprintf("%s-%s-%d%s", prefix, w.day, w.seq, ext)
	}
	return fmt.Sprintf("%s-%s%s", prefix, w.day, ext)
}

// repoint makes the base path refer to the current file. Symlink first, hard
// link on filesystems without symlinks, and a plain text pointer as the last
// resort. Failures are ignored since logging must not stop over the pointer.
func (w *RotatingWriter) repoint(target string) {
	base := strings.TrimSpace(w.BasePath)
	if base == "" || base == "-" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, derr := os.Readlink(base); derr == nil && dest == target {
				return
			}
		}
		_ = os.Remove(base)
	}
	if os.Symlink(target, base) == nil {
		return
	}
	if os.Link(target, base) == nil {
		return
	}
	if f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		fmt.Fprintf(f, "current log file: %s\n", target)
		f.Close()
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
