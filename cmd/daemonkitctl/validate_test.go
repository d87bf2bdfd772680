package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[daemon]
loop_interval_ms = 100

[[mediator]]
alias = "calc"
command = "worker"
max_processes = 2
`

func TestValidateCommandReportsMediators(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemonkit.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cmd := createValidateCommand()
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())
}

func TestValidateCommandErrorsOnMissingFile(t *testing.T) {
	cmd := createValidateCommand()
	cmd.SetArgs([]string{"--config", "/nonexistent/daemonkit.toml"})
	require.Error(t, cmd.Execute())
}
