package factory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/daemonkit/internal/audit"
)

func TestNewSinkFromDSNEmptyReturnsNopSink(t *testing.T) {
	sink, err := NewSinkFromDSN("")
	require.NoError(t, err)
	require.IsType(t, audit.NopSink{}, sink)
}

func TestNewSinkFromDSNUnsupportedScheme(t *testing.T) {
	_, err := NewSinkFromDSN("opensearch://localhost:9200/logs")
	require.Error(t, err)
}

func TestNewSinkFromDSNSqliteBareAndScheme(t *testing.T) {
	for _, dsn := range []string{":memory:", "sqlite://:memory:"} {
		sink, err := NewSinkFromDSN(dsn)
		require.NoError(t, err, dsn)
		require.NotNil(t, sink)
		require.NoError(t, sink.Close())
	}
}
