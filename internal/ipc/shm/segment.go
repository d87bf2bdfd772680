//go:build !windows

// Package shm provides the anonymous-mapping building block the IPC
// transport's payload store is built on: an in-memory file (memfd_create)
// mapped into the process with mmap, shared across a fork-via-exec boundary
// by passing the memfd as an inherited file descriptor rather than
// reattaching by name — a Go process cannot fork() safely once goroutines
// are running, so "shared memory across fork" here means "shared memory
// across os/exec.Cmd.ExtraFiles".
package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Segment is a memfd-backed anonymous mapping of a fixed size.
type Segment struct {
	file *os.File
	data []byte
	size int
}

// Create allocates a new memfd named name, sizes it (no seals are applied), and maps it
// read/write, shared. The parent side of a transport calls this.
func Create(name string, size int) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), name)
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: memfd new file failed for %s", name)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: truncate: %w", err)
	}
	return mapFile(file, size)
}

// Attach maps an already-open file descriptor inherited from the parent
// (typically fd 3+, passed via exec.Cmd.ExtraFiles). The child side of a
// transport calls this instead of Create.
func Attach(fd int, size int) (*Segment, error) {
	file := os.NewFile(uintptr(fd), "daemonkit-shm")
	if file == nil {
		return nil, fmt.Errorf("shm: fd %d is not valid", fd)
	}
	return mapFile(file, size)
}

func mapFile(file *os.File, size int) (*Segment, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}
	return &Segment{file: file, data: data, size: size}, nil
}

// Bytes returns the mapped region. Callers are responsible for their own
// concurrency discipline (the transport guards every access with its lock).
func (s *Segment) Bytes() []byte { return s.data }

func (s *Segment) Size() int { return s.size }

// File returns the underlying descriptor, for passing to a forked child via
// exec.Cmd.ExtraFiles.
func (s *Segment) File() *os.File { return s.file }

func (s *Segment) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		s.file.Close()
		return fmt.Errorf("shm: munmap: %w", err)
	}
	return s.file.Close()
}
