package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyDSN(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestNewIntegration(t *testing.T) {
	t.Skip("requires a live PostgreSQL instance; exercised via testcontainers in CI")
}
