// Package ipc implements the transport abstraction a Mediator uses to talk
// to its forked workers: a lock, a typed message queue, and an indexed
// payload store, all identified by a guid derived from the daemon binary
// path and the worker alias so parent and child independently arrive at the
// same identity without exchanging it over any channel.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guid is the IPC identity shared by a mediator's parent and its children.
// Token is a stable numeric fingerprint; Normalized is the sentinel's base
// name, reused to name every other resource (lock file, log fields).
type Guid struct {
	Token      uint64
	Normalized string

	sentinelPath string
}

func normalize(daemonPath, alias string) string {
	s := daemonPath + "_" + alias
	replacer := strings.NewReplacer(string(filepath.Separator), "_", ".", "_")
	return replacer.Replace(s)
}

// Derive combines daemonPath and alias into a Guid. It creates (if absent)
// a sentinel file named "<normalized>.ftok" in the system temp directory and
// derives Token from that file's inode combined with the first byte of
// alias — the same fingerprint a separately-started process re-derives from
// the same (daemonPath, alias) pair, without needing to be told the token.
func Derive(daemonPath, alias string) (Guid, error) {
	if alias == "" {
		return Guid{}, fmt.Errorf("ipc: alias must not be empty")
	}
	norm := normalize(daemonPath, alias)
	sentinel := filepath.Join(os.TempDir(), norm+".ftok")

	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return Guid{}, fmt.Errorf("ipc: open sentinel: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Guid{}, fmt.Errorf("ipc: stat sentinel: %w", err)
	}
	ino := inodeOf(info)
	token := ino<<8 | uint64(alias[0])

	return Guid{Token: token, Normalized: norm, sentinelPath: sentinel}, nil
}

// Unlink removes the sentinel file. Only the parent should call this, and
// only after every child has exited — callers must not unlink while a
// mediator is still attached.
func (g Guid) Unlink() error {
	if g.sentinelPath == "" {
		return nil
	}
	err := os.Remove(g.sentinelPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LockPath returns the sentinel file path, doubling as the transport's lock
// file so no separate coordination is needed to find it.
func (g Guid) LockPath() string {
	return g.sentinelPath
}

func (g Guid) String() string {
	return fmt.Sprintf("dk-%s-%x", g.Normalized, g.Token)
}
