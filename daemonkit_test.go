package daemonkit

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/daemonkit/internal/config"
)

func TestRunDispatchesToRegisteredTaskChild(t *testing.T) {
	t.Setenv(taskNameEnv, "cleanup")
	t.Setenv(taskArgsEnv, `["--force"]`)

	d := New(&config.FileConfig{})
	var gotArgs []string
	d.RegisterTask("cleanup", func(args []string) error {
		gotArgs = args
		return nil
	})

	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, []string{"--force"}, gotArgs)
}

func TestRunTaskChildErrorsWhenUnregistered(t *testing.T) {
	t.Setenv(taskNameEnv, "missing")
	d := New(&config.FileConfig{})
	require.Error(t, d.Run(context.Background()))
}

func TestRunWorkerChildErrorsWhenUnregistered(t *testing.T) {
	t.Setenv(workerAliasEnv, "calc")
	d := New(&config.FileConfig{})
	require.Error(t, d.Run(context.Background()))
}

func TestCallErrorsWithoutRunningMediator(t *testing.T) {
	d := New(&config.FileConfig{})
	_, err := d.Call("calc", "add", []any{1, 2})
	require.Error(t, err)
}

func TestRunTaskErrorsForUnregisteredTask(t *testing.T) {
	d := New(&config.FileConfig{})
	err := d.RunTask("nope", nil)
	require.Error(t, err)
}

func TestMediatorConfigForFindsAliasByName(t *testing.T) {
	d := New(&config.FileConfig{
		Mediators: []config.MediatorConfig{{Alias: "calc", Command: "worker"}},
	})
	mc, err := d.mediatorConfigFor("calc")
	require.NoError(t, err)
	require.Equal(t, "worker", mc.Command)

	_, err = d.mediatorConfigFor("missing")
	require.Error(t, err)
}

func TestMain(m *testing.M) {
	// Ensure no stray env markers from other packages' test runs leak in.
	os.Unsetenv(workerAliasEnv)
	os.Unsetenv(taskNameEnv)
	os.Exit(m.Run())
}
