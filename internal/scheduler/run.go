//go:build !windows

package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/loykin/daemonkit/internal/eventbus"
)

// Run transitions Created -> Initialized -> Running and drives the main
// loop until shutdown is requested, then tears down and returns. It never
// returns a non-nil error for a graceful shutdown; a fatal error from
// Execute is returned, wrapped. Mediator fatal errors never reach Run.
func (d *Daemon) Run(ctx context.Context) error {
	d.pid = os.Getpid()
	d.startedAt = time.Now()
	d.setState(Initialized)
	d.publish(eventbus.PIDChange, &PIDChangeEvent{PID: d.pid})
	d.publish(eventbus.Init, nil)

	stopSignals := d.installSignals()
	defer stopSignals()

	d.setState(Running)
	d.loopStart = time.Now()

	var fatal error
	for {
		if ctx.Err() != nil {
			d.shutdown.Raise()
		}

		t0 := time.Now()
		d.loopIterations++
		d.drainSignals()

		if d.shouldAutoRestart(t0) {
			if !d.publish(eventbus.AutoRestart, nil) {
				d.restart.Raise()
				d.setState(Restarting)
				break
			}
		}

		if d.shutdown.Get() {
			break
		}

		if !d.publish(eventbus.PreExecute, nil) && d.Execute != nil {
			if err := d.Execute(ctx); err != nil {
				fatal = fmt.Errorf("scheduler: execute: %w", err)
				d.publish(eventbus.Error, fatal)
				d.shutdown.Raise()
			}
		}

		d.publish(eventbus.PostExecute, nil)

		if d.isIdle(t0) {
			d.publish(eventbus.Idle, nil)
		}

		if d.shutdown.Get() {
			break
		}
		d.wait(t0)
	}

	return d.teardown(fatal)
}

func (d *Daemon) teardown(fatal error) error {
	d.setState(ShuttingDown)
	d.publish(eventbus.Shutdown, nil)
	d.Table.Teardown()

	if d.restart.Get() && d.parent && d.Opts.Daemonize && d.canRestart() {
		if err := d.execRestart(); err != nil {
			d.publish(eventbus.Error, err)
		}
		// execRestart replaces the process on success and never returns here.
	}

	d.setState(Exited)
	return fatal
}

// canRestart enforces "restart is only permitted if the daemon has been up
// at least the minimum restart threshold" — a daemon that crash-loops
// faster than this never gets to auto-restart.
func (d *Daemon) canRestart() bool {
	return time.Since(d.startedAt) >= d.Opts.MinRestartThreshold
}
