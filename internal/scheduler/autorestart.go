//go:build !windows

package scheduler

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// daemonizeMarkerEnv flags a re-exec'd process as the continuation of an
// auto-restart rather than a fresh start, so it skips any first-run-only
// setup.
const daemonizeMarkerEnv = "DAEMONKIT_RESTARTED=1"

// shouldAutoRestart reports whether the daemon has been up at least
// AutoRestartInterval since startedAt — only evaluated while daemonized,
// matching "restart is only permitted ... and was launched daemonized."
func (d *Daemon) shouldAutoRestart(t0 time.Time) bool {
	if !d.parent || !d.Opts.Daemonize || d.Opts.AutoRestartInterval <= 0 {
		return false
	}
	return t0.Sub(d.startedAt) >= d.Opts.AutoRestartInterval
}

// execRestart rebuilds the original invocation (executable + argv, plus the
// daemonize marker), closes stdio to avoid inheriting blocking pipes across
// the exec, and replaces the current process image. On success it never
// returns; a non-nil error means the exec itself failed and the caller
// should fall through to a normal exit instead.
func (d *Daemon) execRestart() error {
	if d.rebuildCommand != nil {
		return d.rebuildCommand()
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("scheduler: resolve executable: %w", err)
	}

	argv := append([]string{exe}, os.Args[1:]...)
	env := append(os.Environ(), daemonizeMarkerEnv)

	for _, fd := range []int{0, 1, 2} {
		_ = unix.Close(fd)
	}

	return unix.Exec(exe, argv, env)
}
