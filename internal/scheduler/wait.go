//go:build !windows

package scheduler

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/logging"
)

// wait implements the per-tick sleep: if the tick finished early, block
// SIGCHLD, sleep out the remainder (woken early by any other pending
// signal), then unblock. If the tick over-ran, log it and yield the
// minimum slice to avoid a busy loop.
func (d *Daemon) wait(t0 time.Time) {
	elapsed := time.Since(t0)
	delta := elapsed - d.Opts.LoopInterval

	if delta < 0 {
		remaining := -delta
		blockSIGCHLD()
		d.sleepInterruptibly(remaining)
		unblockSIGCHLD()
		return
	}

	if d.Opts.LoopInterval > 0 {
		d.publish(eventbus.Log, &logging.LogEvent{
			Level: slog.LevelWarn,
			Msg:   "tick overran loop interval",
			Attrs: []any{"delta", delta, "loop_interval", d.Opts.LoopInterval},
		})
	}
	time.Sleep(d.Opts.LoopSleepMin)
}

// sleepInterruptibly sleeps for d or until a signal wakes the daemon early
// (the signal-reading goroutine writes to d.wake), whichever comes first.
func (d *Daemon) sleepInterruptibly(dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.wake:
	}
}

// isIdle reports whether the current tick counts as idle: either there is
// still slack left in the interval, or (for a zero interval) a Bernoulli
// draw at IdleProbability succeeds.
func (d *Daemon) isIdle(t0 time.Time) bool {
	if d.Opts.LoopInterval == 0 {
		return rand.Float64() < d.Opts.IdleProbability
	}
	return time.Now().Before(t0.Add(d.Opts.LoopInterval - idleGraceDefault))
}
