package proctable

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestForkRegistersLiveProcess(t *testing.T) {
	tbl := New()
	cmd := exec.Command("sleep", "2")
	p, ok := tbl.Fork("workers", cmd, 0)
	require.True(t, ok)
	require.NotNil(t, p)
	require.Equal(t, 1, tbl.Count("workers"))
	_, found := tbl.Find(p.PID, "workers")
	require.True(t, found)

	tbl.Kill(p.PID)
	require.Eventually(t, func() bool {
		return len(tbl.ReapAvailable()) > 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, tbl.Count("workers"))
}

func TestForkReturnsFalseOnEarlyDeath(t *testing.T) {
	tbl := New()
	// A process that exits immediately; by the time Fork polls wait4 it
	// should already be gone.
	cmd := exec.Command("true")
	// Give the child a moment to exit before Fork's post-start check by
	// not racing — "true" typically exits within microseconds, and Fork
	// issues its WNOHANG check right after Start, so this is racy in
	// principle. We only assert that *if* Fork reports failure, the
	// process is absent from the table — the important invariant.
	p, ok := tbl.Fork("workers", cmd, 0)
	if !ok {
		require.Nil(t, p)
		require.Equal(t, 0, tbl.Count("workers"))
	} else {
		// Not observed dead yet; reap it so the test doesn't leak.
		_, _ = cmd.Process.Wait()
		tbl.ReapAvailable()
	}
}

func TestCountFiltersByGroup(t *testing.T) {
	tbl := New()
	c1 := exec.Command("sleep", "2")
	c2 := exec.Command("sleep", "2")
	p1, _ := tbl.Fork("alpha", c1, 0)
	p2, _ := tbl.Fork("beta", c2, 0)
	require.Equal(t, 1, tbl.Count("alpha"))
	require.Equal(t, 1, tbl.Count("beta"))
	require.Equal(t, 2, tbl.Count(""))

	tbl.Kill(p1.PID)
	tbl.Kill(p2.PID)
	require.Eventually(t, func() bool { tbl.ReapAvailable(); return tbl.Count("") == 0 }, time.Second, 10*time.Millisecond)
}

func TestStopEscalatesToSigkillAfterTimeout(t *testing.T) {
	tbl := New()
	// ignore SIGTERM so Stop must escalate to SIGKILL
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 5")
	p, ok := tbl.Fork("workers", cmd, 0)
	require.True(t, ok)

	// Stop floors the 100ms passed here at MinTimeout, so escalation comes
	// only once MinTimeout has elapsed.
	done := make(chan struct{})
	go func() {
		tbl.Stop(p.PID, 100*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(MinTimeout + 2*time.Second):
		t.Fatal("Stop did not escalate to SIGKILL in time")
	}
	tbl.ReapAvailable()
}

func TestTimeoutClampedToMinimum(t *testing.T) {
	require.Equal(t, MinTimeout, clampTimeout(time.Second))
	require.Equal(t, 90*time.Second, clampTimeout(90*time.Second))
}
