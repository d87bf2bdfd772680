// Package scheduler implements the daemon's fixed-cadence main loop:
// per-iteration pre/post-execute dispatch, signal-driven shutdown and
// restart, auto-restart, and SIGCHLD-blocked sleeping between ticks.
// Grounded on loykin-provisr's internal/manager package for the overall
// "own a process table, run a control loop, react to signals" shape
// (manager.go, supervisor.go), generalized from "supervise named managed
// processes" to "drive the daemon's own tick and own lifecycle".
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/mediator"
	"github.com/loykin/daemonkit/internal/proctable"
)

// State is one of the daemon's lifecycle states.
type State int

const (
	Created State = iota
	Initialized
	Running
	ShuttingDown
	Restarting
	Exited
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Restarting:
		return "restarting"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// loopSleepMinDefault is the floor on the yield between over-run ticks, so a
// loopInterval of 0 combined with a fast Execute hook never turns into a
// busy loop.
const loopSleepMinDefault = 10 * time.Microsecond

// idleGraceDefault is how much of the current interval must remain for a
// tick to be considered idle (see isIdle).
const idleGraceDefault = 10 * time.Millisecond

// ExecuteFunc is the daemon-author's per-tick callback.
type ExecuteFunc func(ctx context.Context) error

// PIDChangeEvent is published once, right after Run resolves its own pid —
// the daemon's pid never changes again short of an auto-restart re-exec,
// which replaces the process image and never returns to publish anything
// further.
type PIDChangeEvent struct {
	PID int
}

// Options configures one Daemon.
type Options struct {
	LoopInterval        time.Duration
	IdleProbability     float64 // used only when LoopInterval == 0
	AutoRestartInterval time.Duration
	MinRestartThreshold time.Duration
	Daemonize           bool
	ShutdownOnInterrupt bool
	DumpOnSignal        bool
	LoopSleepMin        time.Duration
}

func (o Options) withDefaults() Options {
	if o.LoopSleepMin <= 0 {
		o.LoopSleepMin = loopSleepMinDefault
	}
	return o
}

// Daemon is the supervised main loop: one per process, owning the event
// bus, the process table, and every mediator registered against it.
type Daemon struct {
	mu    sync.Mutex
	state State

	Bus   *eventbus.Bus
	Table *proctable.Table
	Opts  Options

	Execute ExecuteFunc

	mediators map[string]*mediator.Mediator

	parent    bool
	parentPID int
	pid       int
	startedAt time.Time

	loopStart      time.Time
	loopIterations int64

	shutdown  boolFlag
	restart   boolFlag
	interrupt counter

	dispatchCounts map[eventbus.Name]int64

	sig  *signalState
	wake chan struct{}

	rebuildCommand func() error // injected: rebuild argv + exec, for auto-restart
}

// New constructs a Daemon in the Created state. The caller is the parent
// unless explicitly told otherwise (a forked worker/task child never
// constructs its own Daemon — it runs mediator.RunChild or a bare task
// function instead).
func New(bus *eventbus.Bus, table *proctable.Table, opts Options) *Daemon {
	return &Daemon{
		state:          Created,
		Bus:            bus,
		Table:          table,
		Opts:           opts.withDefaults(),
		mediators:      make(map[string]*mediator.Mediator),
		parent:         true,
		dispatchCounts: make(map[eventbus.Name]int64),
		sig:            &signalState{},
		wake:           make(chan struct{}, 1),
	}
}

// State reports the daemon's current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// RegisterMediator records m so Mediators lists it. The main loop and
// teardown never iterate registered mediators: they operate independently,
// driven entirely by their own bus subscriptions.
func (d *Daemon) RegisterMediator(m *mediator.Mediator) {
	d.mu.Lock()
	d.mediators[m.Alias] = m
	d.mu.Unlock()
}

func (d *Daemon) publish(name eventbus.Name, e any) bool {
	d.mu.Lock()
	d.dispatchCounts[name]++
	d.mu.Unlock()
	return d.Bus.Publish(name, e)
}

// DispatchCount reports how many times name has been published, for
// statistics.
func (d *Daemon) DispatchCount(name eventbus.Name) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatchCounts[name]
}

// Mediators returns a snapshot of every mediator registered against this
// daemon, keyed by alias — used by the statistics HTTP plugin to list
// aliases without reaching into scheduler internals.
func (d *Daemon) Mediators() map[string]*mediator.Mediator {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*mediator.Mediator, len(d.mediators))
	for k, v := range d.mediators {
		out[k] = v
	}
	return out
}
