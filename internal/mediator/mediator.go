// Package mediator implements one worker alias's coordinator: it keeps an
// in-memory table of active calls, forks workers according to a chosen
// strategy, delivers results back through promises, and recycles workers.
// Grounded on loykin-provisr's internal/manager package for the overall
// shape (a supervisor owning a table of handlers, reconciling process exits
// against desired state) generalized from "one named managed process" to
// "N interchangeable workers behind an RPC-style call table".
package mediator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/daemonkit/internal/audit"
	"github.com/loykin/daemonkit/internal/call"
	"github.com/loykin/daemonkit/internal/env"
	"github.com/loykin/daemonkit/internal/errclass"
	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/ipc"
	"github.com/loykin/daemonkit/internal/proctable"
	"github.com/loykin/daemonkit/internal/promise"
)

const idleGCInterval = 30 * time.Second

// RecentCall is a bounded-history summary of a finished call, kept for
// statistics after the live record is removed from the active table.
type RecentCall struct {
	ID     int64
	Method string
	Status call.Status
	Err    string
}

const recentCap = 64

// Mediator coordinates one worker alias's forked children.
type Mediator struct {
	mu sync.Mutex

	Alias  string
	Config Config

	subject   Subject
	transport *ipc.Transport
	table     *proctable.Table
	bus       *eventbus.Bus
	factory   *call.Factory

	// NewChildCmd builds the exec.Cmd used to fork one worker; the mediator
	// appends the transport's inherited file descriptors itself. Supplied by
	// the daemonkit facade, which owns how the daemon binary re-execs itself.
	NewChildCmd func() *exec.Cmd

	// Env composes the worker's environment on top of the OS base and
	// NewChildCmd's own cmd.Env, when set. Left nil, forkOne leaves
	// cmd.Env untouched (the usual os/exec default: inherit the parent's
	// environment verbatim).
	Env *env.Env

	// OnFatal is invoked when fork failures escalate (3 in a row) or Errors
	// passes its bound. Supplied by the daemonkit facade, which decides how a
	// fatal mediator error affects the daemon as a whole.
	OnFatal func(error)

	// AuditSink receives one audit.Event per call settlement (returned,
	// errored, timed out, cancelled), when set. Left nil, no events are
	// recorded — callers that don't configure an audit DSN pay nothing.
	AuditSink audit.Sink

	// Errors counts runtime failures by errclass.Class against the
	// parent-side fatal bound; exceeding it escalates through OnFatal just
	// like repeated fork failures do.
	Errors *errclass.Threshold

	calls       map[int64]*call.Call
	running     map[int64]time.Time
	recent      []RecentCall
	reapedQueue []int

	consecutiveForkFailures int
	lastGC                  time.Time
}

// NewParent derives the alias's guid, attaches a fresh IPC transport,
// purges any residual state left by a previous incarnation under the same
// guid, and subscribes to the bus events the mediator needs: pre_execute,
// post_execute, reaped, idle, and stats. It does not fork yet — see Start.
func NewParent(bus *eventbus.Bus, table *proctable.Table, daemonPath, alias string, subject Subject, cfg Config, opts ipc.Options) (*Mediator, error) {
	transport, err := ipc.NewParent(daemonPath, alias, opts)
	if err != nil {
		return nil, fmt.Errorf("mediator %s: %w", alias, err)
	}
	if err := transport.Purge(); err != nil {
		transport.Close()
		return nil, fmt.Errorf("mediator %s: purge: %w", alias, err)
	}

	m := &Mediator{
		Alias:     alias,
		Config:    cfg,
		subject:   subject,
		transport: transport,
		table:     table,
		bus:       bus,
		factory:   call.NewFactory(),
		calls:     make(map[int64]*call.Call),
		running:   make(map[int64]time.Time),
		AuditSink: audit.NopSink{},
		Errors:    errclass.NewThreshold(errclass.ParentThresholdDefault),
	}

	bus.Subscribe(eventbus.PreExecute, 0, func(any) bool { m.PreExecute(); return false })
	bus.Subscribe(eventbus.PostExecute, 0, func(any) bool { m.PostExecute(); return false })
	bus.Subscribe(eventbus.Reaped, 0, m.onReaped)
	bus.Subscribe(eventbus.Idle, 0, func(any) bool { m.Idle(); return false })
	bus.Subscribe(eventbus.Stats, 0, m.onStats)

	bus.Publish(eventbus.GenerateGUID, &GuidEvent{Alias: alias, Guid: transport.Guid.String()})

	return m, nil
}

// Start performs the mediator's initial fork pass. Callers must finish
// configuring NewChildCmd (and, optionally, Env/AuditSink/OnFatal) before
// calling Start — NewParent itself does not fork, since those fields are
// set by the caller after construction, not passed into NewParent.
func (m *Mediator) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tryFork()
}

// Transport exposes the mediator's IPC transport. Forked children get its
// inherited descriptors from forkOne, not through this accessor.
func (m *Mediator) Transport() *ipc.Transport { return m.transport }

func (m *Mediator) onReaped(e any) bool {
	re, ok := e.(*ReapedEvent)
	if !ok {
		return false
	}
	m.mu.Lock()
	m.reapedQueue = append(m.reapedQueue, re.PIDs...)
	m.mu.Unlock()
	return false
}

func (m *Mediator) onStats(e any) bool {
	se, ok := e.(*StatsEvent)
	if !ok {
		return false
	}
	if se.Mediators == nil {
		se.Mediators = make(map[string]StatsSnapshot)
	}
	se.Mediators[m.Alias] = m.Stats()
	return false
}

// Stats returns a live snapshot of this mediator's current state. Unlike
// onStats it never touches the eventbus, so it is safe to call from a
// goroutine the bus was never meant to be driven from — the stats HTTP
// plugin calls this directly instead of publishing eventbus.Stats from its
// own request goroutine.
func (m *Mediator) Stats() StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatsSnapshot{
		Alias:           m.Alias,
		Strategy:        m.Config.Strategy.String(),
		ActiveCalls:     len(m.calls),
		RunningCalls:    len(m.running),
		LiveProcesses:   m.table.Count(m.Alias),
		PendingMessages: m.transport.PendingMessages(),
		ForkFailures:    m.consecutiveForkFailures,
	}
}

// Call creates a Call for method/args, writes it to the transport, and
// returns its promise. A transport failure rejects the promise but leaves
// the call CALLED in the active table until the next idle GC pass clears
// it out.
func (m *Mediator) Call(method string, args []any) (*promise.Promise, error) {
	c := m.factory.Create(method, args)
	if err := c.Called(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls[c.ID] = c
	m.mu.Unlock()

	if err := m.transport.Put(c); err != nil {
		c.RejectTransport(fmt.Errorf("mediator %s: put call %d: %w", m.Alias, c.ID, err))
		return c.Promise, nil
	}

	m.mu.Lock()
	m.tryFork()
	m.mu.Unlock()

	return c.Promise, nil
}

// Cancel settles callID's promise with a cancellation error and marks it
// CANCELLED, notifying any child that hasn't picked it up yet so it drops
// the call instead of serving it. If the call is already RUNNING on a
// worker, that worker is killed outright — killing the owning pid is the
// only way to actually stop in-flight work, since a forked child has no
// other channel to interrupt a call already inside Subject.Invoke.
func (m *Mediator) Cancel(callID int64) error {
	m.mu.Lock()
	c, ok := m.calls[callID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mediator %s: call %d not found", m.Alias, callID)
	}
	pid := c.PID
	running := m.running[callID]
	m.mu.Unlock()

	if err := c.Cancelled(); err != nil {
		return err
	}
	if pid != 0 && !running.IsZero() {
		m.table.Kill(pid)
	}
	_ = m.transport.Put(c)

	m.mu.Lock()
	delete(m.calls, callID)
	delete(m.running, callID)
	m.pushRecent(c)
	m.mu.Unlock()

	m.emitAudit(audit.EventCancelled, c)
	return nil
}

// Inline invokes the subject directly on the current process, bypassing
// IPC entirely — for callers that deliberately want a blocking call on the
// daemon thread rather than a forked worker.
func (m *Mediator) Inline(method string, args []any) (any, error) {
	return m.subject.Invoke(method, args)
}

// PreExecute drains every available RUNNING header (marking the local
// call, recording when the child claimed it) then every available RETURN
// header (settling the promise and moving the call to recent history).
func (m *Mediator) PreExecute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		wire, found, err := m.transport.TryGet(call.HeaderRunning)
		if err != nil || !found {
			break
		}
		c, ok := m.calls[wire.ID]
		if !ok {
			continue // stale header for an id this process no longer tracks
		}
		_ = c.Running(wire.PID)
		m.running[wire.ID] = time.Now()
	}

	for {
		wire, found, err := m.transport.TryGet(call.HeaderReturn)
		if err != nil || !found {
			break
		}
		c, ok := m.calls[wire.ID]
		if !ok {
			continue
		}
		delete(m.running, wire.ID)
		if wire.Err != "" {
			_ = c.ReturnedWithError(errors.New(wire.Err))
			if m.Errors.Count(errclass.Clean) && m.OnFatal != nil {
				m.OnFatal(fmt.Errorf("mediator %s: worker error threshold exceeded", m.Alias))
			}
			m.emitAudit(audit.EventErrored, c)
		} else {
			_ = c.Returned(wire.Result)
			m.emitAudit(audit.EventReturned, c)
		}
		delete(m.calls, wire.ID)
		m.pushRecent(c)
	}
}

// emitAudit sends one audit.Event for c's current state to AuditSink. Best
// effort: an audit sink failure never affects call settlement, since the
// promise has already resolved by the time this runs.
func (m *Mediator) emitAudit(t audit.EventType, c *call.Call) {
	if m.AuditSink == nil {
		return
	}
	_ = m.AuditSink.Send(context.Background(), audit.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Record: audit.Record{
			Alias:    m.Alias,
			CallID:   c.ID,
			Method:   c.Method,
			PID:      c.PID,
			Attempts: c.Attempts,
			Errors:   c.Errors,
			Err:      c.Err,
		},
	})
}

// PostExecute reconciles the race between a child's final RETURN and its
// process exit: for every pid reaped since the last tick that still owns
// an unsettled call, the call is marked TIMEOUT with a "call died" error.
// It then considers another fork pass.
func (m *Mediator) PostExecute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	pids := m.reapedQueue
	m.reapedQueue = nil
	for _, pid := range pids {
		for id, c := range m.calls {
			if c.PID != pid || c.Promise.Settled() {
				continue
			}
			_ = c.TimedOut(fmt.Errorf("mediator %s: worker pid %d died mid-call", m.Alias, pid))
			if m.Errors.Count(errclass.Died) && m.OnFatal != nil {
				m.OnFatal(fmt.Errorf("mediator %s: premature-death threshold exceeded", m.Alias))
			}
			m.emitAudit(audit.EventTimedOut, c)
			delete(m.calls, id)
			delete(m.running, id)
			m.pushRecent(c)
		}
	}
	m.tryFork()
}

// Idle runs call GC at most once every 30 seconds: any call whose promise
// has already settled but which is still sitting in the active table (the
// transport-failure case Call leaves behind) is freed and removed.
func (m *Mediator) Idle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastGC) < idleGCInterval {
		return
	}
	m.lastGC = time.Now()
	for id, c := range m.calls {
		if !c.Promise.Settled() {
			continue
		}
		c.GC()
		delete(m.calls, id)
		delete(m.running, id)
		m.pushRecent(c)
	}
}

func (m *Mediator) pushRecent(c *call.Call) {
	m.recent = append(m.recent, RecentCall{ID: c.ID, Method: c.Method, Status: c.Status(), Err: c.Err})
	if len(m.recent) > recentCap {
		m.recent = m.recent[len(m.recent)-recentCap:]
	}
}

// Recent returns a copy of the bounded ring of finished-call summaries.
func (m *Mediator) Recent() []RecentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecentCall, len(m.recent))
	copy(out, m.recent)
	return out
}

// tryFork forks up to the strategy's recommendation, never exceeding
// MaxProcesses. Three fork failures in a row escalate to OnFatal. Callers
// must hold m.mu.
func (m *Mediator) tryFork() {
	active := len(m.calls)
	procs := m.table.Count(m.Alias)
	want := planForks(m.Config, active, procs)
	if want > 0 {
		m.bus.Publish(eventbus.ParentFork, &ParentForkEvent{Alias: m.Alias, Want: want})
	}

	for i := 0; i < want; i++ {
		if err := m.forkOne(); err != nil {
			m.consecutiveForkFailures++
			if m.consecutiveForkFailures >= 3 && m.OnFatal != nil {
				m.OnFatal(fmt.Errorf("mediator %s: fork failed 3 times in a row: %w", m.Alias, err))
			}
			return
		}
		m.consecutiveForkFailures = 0
	}
}

func (m *Mediator) forkOne() error {
	if m.NewChildCmd == nil {
		return fmt.Errorf("mediator %s: no child command builder configured", m.Alias)
	}
	cmd := m.NewChildCmd()
	cmd.ExtraFiles = append(cmd.ExtraFiles, m.transport.Files()...)
	if m.Env != nil {
		cmd.Env = m.Env.Merge(cmd.Env)
	}
	if stdout, stderr := m.Config.Log.Writers(m.Alias); stdout != nil || stderr != nil {
		cmd.Stdout, cmd.Stderr = stdout, stderr
	}
	p, ok := m.table.Fork(m.Alias, cmd, m.Config.ForkTimeout)
	if !ok {
		return fmt.Errorf("mediator %s: fork failed or child died immediately", m.Alias)
	}
	m.bus.Publish(eventbus.Fork, &ForkEvent{Alias: m.Alias, PID: p.PID})
	return nil
}

// jitteredLimits returns maxCalls/maxRuntime each perturbed by up to ±25%,
// so that sibling children recycle at staggered times instead of in lockstep.
func jitteredLimits(cfg Config) (maxCalls int, maxRuntime time.Duration) {
	jitter := func() float64 { return 1 + (rand.Float64()*0.5 - 0.25) }
	maxCalls = int(float64(cfg.MaxCalls) * jitter())
	maxRuntime = time.Duration(float64(cfg.MaxRuntime) * jitter())
	return maxCalls, maxRuntime
}
