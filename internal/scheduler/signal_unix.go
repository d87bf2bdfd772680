//go:build !windows

package scheduler

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/mediator"
)

// SignalEvent is published on eventbus.Signal once per handled signal, at
// the end of the handler's own processing — handlers themselves only flip
// flags and increment counters; the bus is never touched from the
// signal-reading goroutine (see the pending queue below), matching
// eventbus.Bus's own "driven only from the main loop, never concurrently"
// contract.
type SignalEvent struct {
	Signal os.Signal
	Count  int64
}

type signalState struct {
	mu            sync.Mutex
	pending       []os.Signal
	pendingReaped []int
	dumpRequested bool
}

// installSignals starts a goroutine forwarding os/signal notifications into
// d's pending queue, draining and acting on them once per main-loop
// iteration via drainSignals. Returns a stop function.
func (d *Daemon) installSignals() func() {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGCHLD, syscall.SIGALRM)
	go func() {
		for sig := range ch {
			d.handleSignal(sig)
		}
	}()
	return func() { signal.Stop(ch); close(ch) }
}

func (d *Daemon) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGUSR1:
		if d.parent && d.Opts.DumpOnSignal {
			d.sig.mu.Lock()
			d.sig.dumpRequested = true
			d.sig.mu.Unlock()
		}
	case syscall.SIGHUP:
		if d.parent && d.Opts.Daemonize {
			d.restart.Raise()
			d.shutdown.Raise()
		}
	case syscall.SIGINT:
		d.interrupt.Inc()
		if d.Opts.ShutdownOnInterrupt {
			d.shutdown.Raise()
		}
	case syscall.SIGTERM:
		d.shutdown.Raise()
	case syscall.SIGCHLD:
		pids := d.Table.ReapAvailable()
		if len(pids) > 0 {
			d.sig.mu.Lock()
			d.sig.pendingReaped = append(d.sig.pendingReaped, pids...)
			d.sig.mu.Unlock()
		}
	case syscall.SIGALRM:
		// A child requested an early wakeup (AllowWakeup); nothing else to do,
		// the pending queue append below already breaks the current sleep.
	}
	d.sig.mu.Lock()
	d.sig.pending = append(d.sig.pending, sig)
	d.sig.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// drainSignals runs once per loop iteration (never concurrently with the
// signal-reading goroutine's own bus access, since that goroutine never
// touches the bus): it publishes one SignalEvent per signal collected since
// the last drain and, for SIGCHLD, publishes the reaped pids as a
// mediator.ReapedEvent to every subscribed mediator.
func (d *Daemon) drainSignals() {
	d.sig.mu.Lock()
	pending := d.sig.pending
	reaped := d.sig.pendingReaped
	dump := d.sig.dumpRequested
	d.sig.pending = nil
	d.sig.pendingReaped = nil
	d.sig.dumpRequested = false
	d.sig.mu.Unlock()

	for _, s := range pending {
		d.publish(eventbus.Signal, &SignalEvent{Signal: s, Count: d.DispatchCount(eventbus.Signal) + 1})
	}
	if len(reaped) > 0 {
		d.publish(eventbus.Reaped, &mediator.ReapedEvent{PIDs: reaped})
	}
	if dump {
		d.publish(eventbus.Stats, &mediator.StatsEvent{})
	}
}

// sigsetOf builds a signal set containing sigs, for PthreadSigmask. This
// bitmath mirrors the layout golang.org/x/sys/unix's Sigset_t uses on
// linux/amd64 (64 bits per word).
func sigsetOf(sigs ...syscall.Signal) unix.Sigset_t {
	var set unix.Sigset_t
	for _, s := range sigs {
		bit := uint(s) - 1
		set.Val[bit/64] |= 1 << (bit % 64)
	}
	return set
}

// blockSIGCHLD and unblockSIGCHLD bracket the main loop's sleep so a worker
// exiting mid-sleep doesn't wake it early — reaping still happens (the
// signal is queued by the kernel, not lost), it is just not observed until
// the mask is lifted.
//
// Caveat: PthreadSigmask only affects the calling OS thread, and a
// goroutine can migrate threads between calls. This narrows the race
// window rather than closing it outright; Go offers no portable way to
// mask signals per-goroutine.
func blockSIGCHLD() {
	set := sigsetOf(syscall.SIGCHLD)
	_ = unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil)
}

func unblockSIGCHLD() {
	set := sigsetOf(syscall.SIGCHLD)
	_ = unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, nil)
}
