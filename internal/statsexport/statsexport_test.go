package statsexport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/mediator"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveNoopsUntilRegistered(t *testing.T) {
	// A fresh process-global regOK may already be true from another test in
	// this package; Observe must not panic either way.
	require.NotPanics(t, func() {
		Observe(&mediator.StatsEvent{Mediators: map[string]mediator.StatsSnapshot{
			"calc": {Alias: "calc", ActiveCalls: 3},
		}})
	})
}

func TestObserveSetsGaugeValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	Observe(&mediator.StatsEvent{Mediators: map[string]mediator.StatsSnapshot{
		"calc": {Alias: "calc", ActiveCalls: 5, RunningCalls: 2, LiveProcesses: 1, PendingMessages: 4, ForkFailures: 0},
	}})

	metric := &dto.Metric{}
	require.NoError(t, activeCalls.WithLabelValues("calc").Write(metric))
	require.Equal(t, float64(5), metric.GetGauge().GetValue())
}

func TestRecordDispatchIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	before := &dto.Metric{}
	require.NoError(t, dispatchTotal.WithLabelValues(string(eventbus.Idle)).Write(before))

	RecordDispatch(eventbus.Idle)

	after := &dto.Metric{}
	require.NoError(t, dispatchTotal.WithLabelValues(string(eventbus.Idle)).Write(after))
	require.Equal(t, before.GetCounter().GetValue()+1, after.GetCounter().GetValue())
}
