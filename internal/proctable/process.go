// Package proctable tracks every forked child (worker or fire-and-forget
// task), reaps on SIGCHLD via non-blocking wait4, and tears processes down
// with an escalating SIGTERM/SIGKILL sequence. Grounded on the daemon's
// process-group signal handling, ported from os/exec process groups to
// golang.org/x/sys/unix for the reap loop (the original uses blocking
// cmd.Wait in a dedicated goroutine per process; the table here needs a
// single non-blocking reaper driven by SIGCHLD instead).
package proctable

import (
	"io"
	"os/exec"
	"sync"
	"time"
)

// TaskGroup is the literal group name for fire-and-forget tasks.
const TaskGroup = "task"

// MinTimeout is the floor imposed on a Process's shutdown timeout.
const MinTimeout = 60 * time.Second

// Process is the parent-side bookkeeping record for one forked child.
type Process struct {
	PID     int
	Group   string
	Start   time.Time
	Stop    time.Time
	Timeout time.Duration

	cmd *exec.Cmd

	// outCloser and errCloser are the cmd.Stdout/cmd.Stderr writers, when the
	// caller set them to something closable (a lumberjack logger) rather
	// than leaving them nil. remove closes them once the process is reaped,
	// mirroring the daemon's own per-process log writer lifecycle.
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func clampTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	return d
}

// recentEntry is a bounded-ring summary of an ended process, for
// statistics.
type recentEntry struct {
	PID     int
	Group   string
	Start   time.Time
	End     time.Time
	ExitErr error
}

const recentCap = 64

// Table tracks every live Process, keyed by pid, plus a small ring of
// recently-ended ones. It is the single owner of Process records; callers
// (mediators) hold only pids.
type Table struct {
	mu     sync.Mutex
	byPID  map[int]*Process
	recent []recentEntry
}

func New() *Table {
	return &Table{byPID: make(map[int]*Process)}
}

// register adds a freshly-forked process to the table.
func (t *Table) register(p *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPID[p.PID] = p
}

// remove deletes pid from the live table and appends a recent-ring entry.
func (t *Table) remove(pid int, exitErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPID[pid]
	if !ok {
		return
	}
	delete(t.byPID, pid)
	if p.outCloser != nil {
		_ = p.outCloser.Close()
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
	}
	t.recent = append(t.recent, recentEntry{PID: pid, Group: p.Group, Start: p.Start, End: time.Now(), ExitErr: exitErr})
	if len(t.recent) > recentCap {
		t.recent = t.recent[len(t.recent)-recentCap:]
	}
}

// Count returns the number of live processes, optionally filtered by group.
func (t *Table) Count(group string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if group == "" {
		return len(t.byPID)
	}
	n := 0
	for _, p := range t.byPID {
		if p.Group == group {
			n++
		}
	}
	return n
}

// Find looks up a process by pid, optionally constrained to group.
func (t *Table) Find(pid int, group string) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPID[pid]
	if !ok || (group != "" && p.Group != group) {
		return nil, false
	}
	return p, true
}

// Live returns a snapshot of all live processes in group (or all groups if
// group is empty).
func (t *Table) Live(group string) []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Process, 0, len(t.byPID))
	for _, p := range t.byPID {
		if group == "" || p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

// Recent returns a copy of the bounded ring of recently-ended processes.
func (t *Table) Recent() []recentEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]recentEntry, len(t.recent))
	copy(out, t.recent)
	return out
}
