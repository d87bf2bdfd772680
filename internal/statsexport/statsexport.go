// Package statsexport publishes mediator.StatsEvent snapshots as Prometheus
// metrics. Grounded on loykin-provisr's internal/metrics package: the same
// package-level collector variables registered once via Register, the same
// "no-op until Register succeeds" atomic guard, and a Handler() that hands
// back promhttp's handler for whatever server mounts it — generalized from
// per-managed-process counters (starts/restarts/stops) to per-worker-alias
// mediator gauges (active calls, running calls, live processes, pending
// messages, fork failures).
package statsexport

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/mediator"
)

var (
	regOK atomic.Bool

	activeCalls = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daemonkit",
		Subsystem: "mediator",
		Name:      "active_calls",
		Help:      "Calls currently outstanding in a mediator's active table.",
	}, []string{"alias"})

	runningCalls = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daemonkit",
		Subsystem: "mediator",
		Name:      "running_calls",
		Help:      "Calls a worker has acknowledged RUNNING but not yet RETURNED.",
	}, []string{"alias"})

	liveProcesses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daemonkit",
		Subsystem: "mediator",
		Name:      "live_processes",
		Help:      "Forked worker processes currently registered in the process table.",
	}, []string{"alias"})

	pendingMessages = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daemonkit",
		Subsystem: "mediator",
		Name:      "pending_messages",
		Help:      "Queue depth of the IPC transport's message queue.",
	}, []string{"alias"})

	forkFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daemonkit",
		Subsystem: "mediator",
		Name:      "consecutive_fork_failures",
		Help:      "Consecutive fork failures observed by a mediator.",
	}, []string{"alias"})

	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daemonkit",
		Subsystem: "scheduler",
		Name:      "events_dispatched_total",
		Help:      "Number of times each event bus name has been published.",
	}, []string{"event"})
)

// Register registers every collector with r. Safe to call more than once;
// calls after the first successful registration are no-ops, matching the
// teacher's own idempotent-Register contract for a process that may
// construct more than one Daemon in-test.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	collectors := []prometheus.Collector{activeCalls, runningCalls, liveProcesses, pendingMessages, forkFailures, dispatchTotal}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the default Prometheus gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Observe records one mediator.StatsEvent's snapshots into the registered
// gauges. No-ops until Register has succeeded.
func Observe(e *mediator.StatsEvent) {
	if !regOK.Load() || e == nil {
		return
	}
	for alias, snap := range e.Mediators {
		activeCalls.WithLabelValues(alias).Set(float64(snap.ActiveCalls))
		runningCalls.WithLabelValues(alias).Set(float64(snap.RunningCalls))
		liveProcesses.WithLabelValues(alias).Set(float64(snap.LiveProcesses))
		pendingMessages.WithLabelValues(alias).Set(float64(snap.PendingMessages))
		forkFailures.WithLabelValues(alias).Set(float64(snap.ForkFailures))
	}
}

// RecordDispatch increments the events_dispatched_total counter for name.
// No-ops until Register has succeeded.
func RecordDispatch(name eventbus.Name) {
	if !regOK.Load() {
		return
	}
	dispatchTotal.WithLabelValues(string(name)).Inc()
}
