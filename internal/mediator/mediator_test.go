package mediator

import (
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/loykin/daemonkit/internal/call"
	"github.com/loykin/daemonkit/internal/env"
	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/ipc"
	"github.com/loykin/daemonkit/internal/proctable"
	"github.com/stretchr/testify/require"
)

func newTestMediator(t *testing.T, alias string) (*Mediator, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	table := proctable.New()
	m, err := NewParent(bus, table, t.Name(), alias, SubjectFunc(func([]any) (any, error) { return nil, nil }), Config{
		Strategy:     Lazy,
		MaxProcesses: 2,
		ForkTimeout:  time.Second,
	}, ipc.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { m.transport.Close(); m.Guid().Unlink() })
	return m, bus
}

// Guid exposes the mediator's transport guid so tests can clean up its
// sentinel file.
func (m *Mediator) Guid() ipc.Guid { return m.transport.Guid }

func TestCallWritesWireAndAwaitsPromise(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	m.NewChildCmd = func() *exec.Cmd { return exec.Command("true") }

	p, err := m.Call("add", []any{1, 2})
	require.NoError(t, err)
	require.False(t, p.Settled())

	wire, found, err := m.transport.TryGet(call.HeaderCall)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "add", wire.Method)

	// Simulate the child side: claim it, run it, return it.
	c := call.NewFromWire(wire)
	require.NoError(t, c.Running(4242))
	require.NoError(t, m.transport.Put(c))
	require.NoError(t, c.Returned(3))
	require.NoError(t, m.transport.Put(c))

	m.PreExecute()
	require.True(t, p.Settled())
	v, err := p.Result()
	require.NoError(t, err)
	require.Equal(t, float64(3), v) // round-tripped through JSON as float64
}

func TestCallRejectsPromiseOnWorkerError(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	m.NewChildCmd = func() *exec.Cmd { return exec.Command("true") }

	p, err := m.Call("boom", nil)
	require.NoError(t, err)

	wire, found, err := m.transport.TryGet(call.HeaderCall)
	require.NoError(t, err)
	require.True(t, found)

	c := call.NewFromWire(wire)
	require.NoError(t, c.ReturnedWithError(fmt.Errorf("worker exploded")))
	require.NoError(t, m.transport.Put(c))

	m.PreExecute()
	require.True(t, p.Settled())
	_, err = p.Result()
	require.EqualError(t, err, "worker exploded")
}

func TestPostExecuteTimesOutCallsOfReapedWorker(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	m.NewChildCmd = func() *exec.Cmd { return exec.Command("true") }

	p, err := m.Call("never", nil)
	require.NoError(t, err)

	wire, found, err := m.transport.TryGet(call.HeaderCall)
	require.NoError(t, err)
	require.True(t, found)

	c := call.NewFromWire(wire)
	require.NoError(t, c.Running(9999))
	require.NoError(t, m.transport.Put(c))
	m.PreExecute()
	require.False(t, p.Settled())

	m.onReaped(&ReapedEvent{PIDs: []int{9999}})
	m.PostExecute()

	require.True(t, p.Settled())
	_, err = p.Result()
	require.Error(t, err)
}

func TestIdleGCsTransportFailureWithoutDoubleFree(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	m.NewChildCmd = func() *exec.Cmd { return exec.Command("true") }
	m.lastGC = time.Now().Add(-time.Hour)

	c := m.factory.Create("x", nil)
	require.NoError(t, c.Called())
	m.calls[c.ID] = c
	c.RejectTransport(fmt.Errorf("boom"))

	m.Idle()
	require.Empty(t, m.calls)
}

func TestCancelSettlesPromiseAndQueuesCancelHeaderForQueuedCall(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	m.NewChildCmd = func() *exec.Cmd { return exec.Command("true") }

	p, err := m.Call("add", []any{1, 2})
	require.NoError(t, err)

	wire, found, err := m.transport.TryGet(call.HeaderCall)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, m.Cancel(wire.ID))
	require.True(t, p.Settled())
	_, resErr := p.Result()
	require.Error(t, resErr)

	// The queued call never reached RUNNING, so no worker should have been
	// killed; the child instead learns about the cancellation via a
	// HeaderCancel message it drains before serving the call.
	cancelWire, found, err := m.transport.TryGet(call.HeaderCancel)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, wire.ID, cancelWire.ID)
}

func TestCancelErrorsForUnknownCallID(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	require.Error(t, m.Cancel(999))
}

func TestOnStatsFillsAliasSnapshot(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	se := &StatsEvent{}
	m.onStats(se)
	require.Contains(t, se.Mediators, "calc")
	require.Equal(t, "lazy", se.Mediators["calc"].Strategy)
}

func TestPlanForksRespectsMaxProcesses(t *testing.T) {
	cfg := Config{Strategy: Aggressive, MaxProcesses: 3}
	require.Equal(t, 3, planForks(cfg, 0, 0))
	require.Equal(t, 1, planForks(cfg, 0, 2))
	require.Equal(t, 0, planForks(cfg, 0, 3))
}

func TestPlanForksLazyOnlyWhenDemandExceedsSupply(t *testing.T) {
	cfg := Config{Strategy: Lazy, MaxProcesses: 5}
	require.Equal(t, 0, planForks(cfg, 1, 1))
	require.Equal(t, 1, planForks(cfg, 2, 1))
}

func TestForkOneComposesEnvWhenSet(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	var built *exec.Cmd
	m.NewChildCmd = func() *exec.Cmd {
		built = exec.Command("true")
		return built
	}
	m.Env = env.New()
	m.Env.Set("WORKER_ALIAS", "calc")

	require.NoError(t, m.forkOne())
	require.Contains(t, built.Env, "WORKER_ALIAS=calc")
}

func TestForkOneLeavesEnvUntouchedWhenUnset(t *testing.T) {
	m, _ := newTestMediator(t, "calc")
	var built *exec.Cmd
	m.NewChildCmd = func() *exec.Cmd {
		built = exec.Command("true")
		return built
	}

	require.NoError(t, m.forkOne())
	require.Nil(t, built.Env)
}
