package mediator

import (
	"time"

	"github.com/loykin/daemonkit/internal/logging"
)

// Strategy controls how aggressively a Mediator keeps worker processes
// forked ahead of demand.
type Strategy int

const (
	Lazy Strategy = iota
	Mixed
	Aggressive
)

func (s Strategy) String() string {
	switch s {
	case Lazy:
		return "lazy"
	case Mixed:
		return "mixed"
	case Aggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// SelectStrategy picks the initial forking strategy from the daemon's loop
// interval: a slow loop can afford to fork lazily (one at a time, only once
// demand is visibly ahead of supply); a fast loop needs workers standing by
// already, since there's no time to wait out a fork between ticks.
func SelectStrategy(loopInterval time.Duration) Strategy {
	switch {
	case loopInterval == 0 || loopInterval > 2*time.Second:
		return Lazy
	case loopInterval > time.Second:
		return Mixed
	default:
		return Aggressive
	}
}

// Config is one worker alias's fork policy and child lifecycle limits.
type Config struct {
	Strategy     Strategy
	MaxProcesses int

	// MaxCalls and MaxRuntime bound one child's lifetime when AutoRestart is
	// set; MinRuntime guards against recycling a child too early even if it
	// has already serviced MaxCalls.
	MaxCalls    int
	MinRuntime  time.Duration
	MaxRuntime  time.Duration
	AutoRestart bool

	// AllowWakeup lets a child SIGALRM the parent after RETURN to break its
	// sleep early instead of waiting for the next scheduled tick.
	AllowWakeup bool

	ForkTimeout time.Duration

	// Log captures a forked child's stdout/stderr into rotating files, keyed
	// on the alias. Left zero, forkOne leaves cmd.Stdout/cmd.Stderr nil (the
	// os/exec default: discarded).
	Log logging.ChildLogConfig
}

// planForks returns how many children to fork right now, given the number
// of calls currently active and the number of live processes already
// running for this alias. It never recommends exceeding MaxProcesses.
func planForks(cfg Config, active, procs int) int {
	var want int
	switch cfg.Strategy {
	case Lazy:
		if active > procs {
			want = 1
		}
	case Mixed:
		if active > 0 {
			want = cfg.MaxProcesses - procs
		}
	case Aggressive:
		want = cfg.MaxProcesses - procs
	}
	if want < 0 {
		want = 0
	}
	if procs+want > cfg.MaxProcesses {
		want = cfg.MaxProcesses - procs
	}
	if want < 0 {
		want = 0
	}
	return want
}
