//go:build !windows

package logging

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// FileTarget is a write-through destination that verifies, before every
// write, that the file it has open still is the file at Path — if an
// external process (logrotate, a manual mv) has renamed or removed the
// inode, it reopens. This is distinct from lumberjack's own self-rotation
// (used only for forked children's stdout/stderr, see ChildLogConfig):
// FileTarget is the externally-rotated destination of the daemon's own
// log, which the `log` event writes through.
type FileTarget struct {
	mu   sync.Mutex
	Path string

	file  *os.File
	inode uint64
}

// Open creates the target, opening (and creating, if absent) Path.
func Open(path string) (*FileTarget, error) {
	t := &FileTarget{Path: path}
	if err := t.reopen(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *FileTarget) reopen() error {
	if t.file != nil {
		_ = t.file.Close()
	}
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", t.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat %s: %w", t.Path, err)
	}
	t.file = f
	t.inode = inodeOf(info)
	return nil
}

// rotated reports whether the path no longer points at the inode we have
// open, either because it was removed or replaced.
func (t *FileTarget) rotated() bool {
	info, err := os.Stat(t.Path)
	if err != nil {
		return true
	}
	return inodeOf(info) != t.inode
}

func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

// Write reopens the target if it has been rotated out from under it, then
// writes p.
func (t *FileTarget) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rotated() {
		if err := t.reopen(); err != nil {
			return 0, err
		}
	}
	return t.file.Write(p)
}

func (t *FileTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
