//go:build !windows

package ipc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is mutual exclusion between a transport's writer and reader sides,
// held around every put/get/drop sequence.
type Lock struct {
	file *os.File
}

// OpenLock opens (creating if absent) the file at path and returns a Lock
// over it. The same sentinel file Derive uses for guid identity doubles as
// the lock file, so parent and child need no extra coordination to find it.
func OpenLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open lock file: %w", err)
	}
	return &Lock{file: f}, nil
}

func (l *Lock) Lock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("ipc: flock: %w", err)
	}
	return nil
}

func (l *Lock) Unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("ipc: funlock: %w", err)
	}
	return nil
}

func (l *Lock) Close() error {
	return l.file.Close()
}
