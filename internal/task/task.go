// Package task implements fire-and-forget forked work: a single fork in
// the proctable.TaskGroup group running a user callable with no IPC and no
// return channel, reconciled only by reaping. Grounded on loykin-provisr's
// internal/cronjob package for the "fork, run, exit, let the table reap it"
// shape, stripped of cron's own scheduling (daemonkit's scheduler owns
// when a task runs; this package only owns how).
package task

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/loykin/daemonkit/internal/env"
	"github.com/loykin/daemonkit/internal/proctable"
)

// Run forks cmd into proctable.TaskGroup and returns immediately once the
// child is registered; it does not wait for the child to exit. The
// scheduler's own reap loop (shared with every mediator) collects the pid
// when it finishes — Run has nothing further to reconcile, since there is
// no call record and no promise tied to a task.
//
// e, when non-nil, composes cmd's environment on top of the OS base and
// any per-task overrides cmd.Env already carries, rather than leaving the
// task to inherit the daemon's environment verbatim.
func Run(table *proctable.Table, cmd *exec.Cmd, e *env.Env, timeout time.Duration) error {
	if e != nil {
		cmd.Env = e.Merge(cmd.Env)
	}
	if _, ok := table.Fork(proctable.TaskGroup, cmd, timeout); !ok {
		return fmt.Errorf("task: fork failed or child died immediately")
	}
	return nil
}
