package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/daemonkit/internal/audit"
)

func TestSinkInMemorySendsWithoutError(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()

	err = sink.Send(context.Background(), audit.Event{
		Type:       audit.EventReturned,
		OccurredAt: time.Now(),
		Record: audit.Record{
			Alias:  "calc",
			CallID: 7,
			Method: "add",
			PID:    1234,
		},
	})
	require.NoError(t, err)
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestNewStripsSqliteSchemePrefix(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()
}
