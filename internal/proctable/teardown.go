//go:build !windows

package proctable

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is the sleep between teardown waves.
const pollInterval = 50 * time.Millisecond

// Stop sends SIGTERM to pid and, if it is still alive after timeout (floor
// MinTimeout), escalates to SIGKILL. This is the per-process timeout
// contract: every process carries a timeout, floored at MinTimeout, that is
// used only during shutdown.
func (t *Table) Stop(pid int, timeout time.Duration) {
	timeout = clampTimeout(timeout)
	_ = unix.Kill(pid, unix.SIGTERM)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return
		}
		time.Sleep(pollInterval)
	}
	if alive(pid) {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
}

// Kill sends SIGKILL to pid directly (used for cooperative cancellation of
// a RUNNING call: kill(pid) sends SIGKILL to the named child).
func (t *Table) Kill(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
}

// KillGroup sends SIGKILL to every live process in group, e.g. all workers
// belonging to one mediator.
func (t *Table) KillGroup(group string) {
	for _, p := range t.Live(group) {
		t.Kill(p.PID)
	}
}

func alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// Teardown iterates all live processes, sends SIGTERM, waits up to each
// process's own timeout, escalating stragglers to SIGKILL: the daemon-wide
// shutdown sequence. It blocks until every process has been observed dead
// or force-killed, polling in waves per pollInterval.
func (t *Table) Teardown() {
	live := t.Live("")
	done := make(chan struct{}, len(live))
	for _, p := range live {
		p := p
		go func() {
			t.Stop(p.PID, p.Timeout)
			done <- struct{}{}
		}()
	}
	for range live {
		<-done
	}
}
