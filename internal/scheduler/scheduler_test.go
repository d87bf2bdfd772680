package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/proctable"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(opts Options) *Daemon {
	return New(eventbus.New(), proctable.New(), opts)
}

func TestIsIdleZeroIntervalFollowsProbability(t *testing.T) {
	d := newTestDaemon(Options{LoopInterval: 0, IdleProbability: 0})
	require.False(t, d.isIdle(time.Now()))

	d = newTestDaemon(Options{LoopInterval: 0, IdleProbability: 1})
	require.True(t, d.isIdle(time.Now()))
}

func TestIsIdleNonZeroIntervalUsesSlack(t *testing.T) {
	d := newTestDaemon(Options{LoopInterval: time.Second})
	require.True(t, d.isIdle(time.Now()))

	d = newTestDaemon(Options{LoopInterval: 20 * time.Millisecond})
	require.False(t, d.isIdle(time.Now().Add(-19*time.Millisecond)))
}

func TestShutdownFlagIsOneWay(t *testing.T) {
	d := newTestDaemon(Options{})
	require.False(t, d.shutdown.Get())
	d.shutdown.Raise()
	require.True(t, d.shutdown.Get())
}

func TestShouldAutoRestartRequiresDaemonizeAndParent(t *testing.T) {
	d := newTestDaemon(Options{Daemonize: false, AutoRestartInterval: time.Millisecond})
	d.startedAt = time.Now().Add(-time.Hour)
	require.False(t, d.shouldAutoRestart(time.Now()))

	d.Opts.Daemonize = true
	require.True(t, d.shouldAutoRestart(time.Now()))

	d.parent = false
	require.False(t, d.shouldAutoRestart(time.Now()))
}

func TestRunRaisesRestartFlagOnAutoRestart(t *testing.T) {
	d := newTestDaemon(Options{
		LoopInterval:        time.Millisecond,
		AutoRestartInterval: 5 * time.Millisecond,
		Daemonize:           true,
	})
	d.startedAt = time.Now().Add(-time.Hour)
	d.parent = true

	// Stub out the actual re-exec: it would otherwise replace this test
	// binary's process image via unix.Exec. The point of this test is only
	// that the auto-restart path raises the restart flag before breaking
	// out of the loop, the same way the SIGHUP handler does — teardown
	// picking that flag up and re-execing is exercised by rebuildCommand
	// itself running (or not) here, not by a real exec.
	var restarted atomic.Bool
	d.rebuildCommand = func() error { restarted.Store(true); return nil }

	err := d.Run(context.Background())
	require.NoError(t, err)
	require.True(t, d.restart.Get())
	require.True(t, restarted.Load())
	require.Equal(t, Exited, d.State())
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	d := newTestDaemon(Options{LoopInterval: time.Millisecond})
	var ticks atomic.Int64
	d.Execute = func(context.Context) error {
		ticks.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	require.Equal(t, Exited, d.State())
	require.True(t, ticks.Load() > 0)
}

func TestRunStopsOnShutdownFlag(t *testing.T) {
	d := newTestDaemon(Options{LoopInterval: time.Millisecond})
	d.Execute = func(context.Context) error {
		d.shutdown.Raise()
		return nil
	}

	err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Exited, d.State())
}

func TestRunPropagatesFatalExecuteError(t *testing.T) {
	d := newTestDaemon(Options{LoopInterval: time.Millisecond})
	boom := require.New(t)
	d.Execute = func(context.Context) error { return context.DeadlineExceeded }

	err := d.Run(context.Background())
	boom.Error(err)
	boom.Equal(Exited, d.State())
}

func TestPreExecuteStoppingPropagationSkipsExecute(t *testing.T) {
	d := newTestDaemon(Options{LoopInterval: time.Millisecond})
	var executed atomic.Bool
	d.Execute = func(context.Context) error {
		executed.Store(true)
		return nil
	}
	d.Bus.Subscribe(eventbus.PreExecute, 10, func(any) bool {
		d.shutdown.Raise()
		return true
	})

	require.NoError(t, d.Run(context.Background()))
	require.False(t, executed.Load())
}
