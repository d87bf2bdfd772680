//go:build !windows

package proctable

import (
	"fmt"
	"io"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// Fork starts cmd (already configured by the caller — a worker-alias
// re-exec for a mediator child, or a task re-exec for a fire-and-forget
// job) and registers it under group. It returns (nil, false) if the start
// failed, or if the child is found to have already died before
// registration completed: a SIGCHLD that arrives between fork and
// registration must be reaped synchronously so the caller knows the work
// never started.
//
// Real POSIX fork() is not used: once a Go process has started goroutines
// (the scheduler always has, by the time a mediator forks its first
// worker), forking duplicates the whole runtime's internal state but only
// one thread continues, which the Go runtime does not support safely. The
// daemon's own process package starts children via os/exec for the same
// reason; criyle-go-sandbox's forkexec package goes lower-level (raw
// clone+execve) but still ends in an execve, never a bare fork that keeps
// running Go code. This package follows that convention: fork is realized
// as exec.Cmd.Start, and a callable is realized by the child re-executing
// the daemon binary with a marker telling it which registered callable to
// run.
func (t *Table) Fork(group string, cmd *exec.Cmd, timeout time.Duration) (*Process, bool) {
	if err := cmd.Start(); err != nil {
		return nil, false
	}
	p := &Process{
		PID:     cmd.Process.Pid,
		Group:   group,
		Start:   time.Now(),
		Timeout: clampTimeout(timeout),
		cmd:     cmd,
	}
	if wc, ok := cmd.Stdout.(io.WriteCloser); ok {
		p.outCloser = wc
	}
	if wc, ok := cmd.Stderr.(io.WriteCloser); ok {
		p.errCloser = wc
	}
	t.register(p)

	if dead, exitErr := t.tryReapOne(p.PID); dead {
		t.remove(p.PID, exitErr)
		return nil, false
	}
	return p, true
}

// tryReapOne performs a single non-blocking wait4 for pid. It reports
// whether the child had already exited.
func (t *Table) tryReapOne(pid int) (dead bool, exitErr error) {
	var status unix.WaitStatus
	got, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
	if err != nil || got != pid {
		return false, nil
	}
	return true, exitStatusError(status)
}

func exitStatusError(status unix.WaitStatus) error {
	switch {
	case status.Exited() && status.ExitStatus() == 0:
		return nil
	case status.Exited():
		return fmt.Errorf("exit status %d", status.ExitStatus())
	case status.Signaled():
		return fmt.Errorf("signal: %s", status.Signal())
	default:
		return nil
	}
}
