package task

import (
	"os/exec"
	"testing"
	"time"

	"github.com/loykin/daemonkit/internal/env"
	"github.com/loykin/daemonkit/internal/proctable"
	"github.com/stretchr/testify/require"
)

func TestRunForksIntoTaskGroup(t *testing.T) {
	tbl := proctable.New()
	cmd := exec.Command("sleep", "2")

	require.NoError(t, Run(tbl, cmd, nil, 0))
	require.Equal(t, 1, tbl.Count(proctable.TaskGroup))

	require.Eventually(t, func() bool {
		tbl.Kill(cmd.Process.Pid)
		return len(tbl.ReapAvailable()) > 0 || tbl.Count(proctable.TaskGroup) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRunComposesEnvWhenGiven(t *testing.T) {
	tbl := proctable.New()
	cmd := exec.Command("sleep", "2")
	e := env.New()
	e.Set("TASK_NAME", "cleanup")

	require.NoError(t, Run(tbl, cmd, e, 0))
	require.Contains(t, cmd.Env, "TASK_NAME=cleanup")
	tbl.Kill(cmd.Process.Pid)
}

func TestRunReportsForkFailure(t *testing.T) {
	tbl := proctable.New()
	cmd := exec.Command("true")
	err := Run(tbl, cmd, nil, 0)
	if err != nil {
		require.ErrorContains(t, err, "fork failed")
	}
}
