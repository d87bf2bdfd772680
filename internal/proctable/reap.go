//go:build !windows

package proctable

import "golang.org/x/sys/unix"

// ReapAvailable performs repeated non-blocking wait4(-1, WNOHANG) calls,
// collecting every child that has already exited — the SIGCHLD handler's
// job is to repeatedly poll for finished children without blocking. Each
// collected pid is removed from the live table and returned; the caller
// (the scheduler) publishes the resulting list as a "reaped" event after
// the current loop iteration has finished, deliberately decoupling the reap
// from any immediate publish so the race between a child's final RETURN
// message and its process exit resolves in favor of the message.
func (t *Table) ReapAvailable() []int {
	var out []int
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			break
		}
		t.remove(pid, exitStatusError(status))
		out = append(out, pid)
	}
	return out
}
