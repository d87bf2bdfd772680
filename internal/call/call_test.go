package call

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFactoryIDsAreMonotonicAndAboveReservedSlot(t *testing.T) {
	f := NewFactory()
	a := f.Create("echo", nil)
	b := f.Create("echo", nil)
	require.Greater(t, a.ID, int64(ReservedHeaderAddress))
	require.Greater(t, b.ID, a.ID)
}

func TestStatusMonotoneExceptRetry(t *testing.T) {
	f := NewFactory()
	c := f.Create("echo", []any{"hi"})
	require.NoError(t, c.Called())
	require.NoError(t, c.Running(123))
	require.Error(t, c.Called()) // CALLED after RUNNING would be a decrease
	require.NoError(t, c.Returned("hi"))

	c.Retry()
	require.Equal(t, Uncalled, c.Status())
}

func TestReturnedSettlesPromiseExactlyOnce(t *testing.T) {
	f := NewFactory()
	c := f.Create("echo", []any{"hi"})
	require.NoError(t, c.Called())
	require.NoError(t, c.Running(1))
	require.NoError(t, c.Returned("hi"))

	v, err := c.Promise.Result()
	require.NoError(t, err)
	require.Equal(t, "hi", v)

	// A second terminal transition must not re-settle anything further.
	require.Error(t, c.Cancelled())
}

func TestTimedOutRejectsPromise(t *testing.T) {
	f := NewFactory()
	c := f.Create("abort", nil)
	require.NoError(t, c.Called())
	require.NoError(t, c.Running(42))
	require.NoError(t, c.TimedOut(errors.New("call died")))

	_, err := c.Promise.Result()
	require.ErrorContains(t, err, "call died")
}

func TestWireRoundTrip(t *testing.T) {
	f := NewFactory()
	c := f.Create("echo", []any{"hi"})
	require.NoError(t, c.Called())
	require.NoError(t, c.Running(7))
	require.NoError(t, c.Returned("hi"))

	w := c.ToWire()
	b, err := w.Marshal()
	require.NoError(t, err)

	w2, err := UnmarshalWire(b)
	require.NoError(t, err)
	require.Equal(t, w.ID, w2.ID)
	require.Equal(t, w.PID, w2.PID)
	require.Equal(t, w.Status, w2.Status)
	require.Equal(t, w.Method, w2.Method)
	require.Equal(t, w.Result, w2.Result)
}

func TestGCFreesPayloadsOnTerminalOnly(t *testing.T) {
	f := NewFactory()
	c := f.Create("echo", []any{"hi"})
	c.GC() // not terminal yet: no-op
	require.False(t, c.Collected())

	require.NoError(t, c.Called())
	require.NoError(t, c.Running(1))
	require.NoError(t, c.Returned("hi"))
	c.GC()
	require.True(t, c.Collected())
	require.Nil(t, c.Args)
	require.Nil(t, c.Result)
}

func TestNewFromWireTransitionsWithoutAPromise(t *testing.T) {
	f := NewFactory()
	orig := f.Create("echo", []any{"hi"})
	require.NoError(t, orig.Called())

	// The child side reconstructs a Call from the wire form it received,
	// which never carries a promise across the process boundary.
	c := NewFromWire(orig.ToWire())
	require.NoError(t, c.Running(99))
	require.NotPanics(t, func() { require.NoError(t, c.Returned("hi")) })
	require.Equal(t, Returned, c.Status())

	c2 := NewFromWire(orig.ToWire())
	require.NotPanics(t, func() { require.NoError(t, c2.ReturnedWithError(errors.New("boom"))) })

	c3 := NewFromWire(orig.ToWire())
	require.NotPanics(t, func() { c3.RejectTransport(errors.New("transport down")) })

	c4 := NewFromWire(orig.ToWire())
	require.NotPanics(t, func() { require.NoError(t, c4.Cancelled()) })

	c5 := NewFromWire(orig.ToWire())
	require.NotPanics(t, func() { require.NoError(t, c5.TimedOut(errors.New("died"))) })
}

func TestSizeWarnsAboveTwoPercentThreshold(t *testing.T) {
	f := NewFactory()
	big := make([]any, 0)
	for i := 0; i < 10000; i++ {
		big = append(big, "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
	}
	c := f.Create("bulk", big)
	storeSize := 5 * 1024 * 1024
	require.Greater(t, c.Size, storeSize*2/100)
}
