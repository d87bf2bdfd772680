package errclass

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsUnwrapsWrappedError(t *testing.T) {
	cause := errors.New("boom")
	err := New(Transient, "put", cause)
	wrapped := errors.Join(err, errors.New("context"))

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, Transient, got.Class)
	require.ErrorIs(t, err, cause)
}

func TestClassOfDefaultsToClean(t *testing.T) {
	require.Equal(t, Clean, ClassOf(errors.New("plain")))
	require.Equal(t, Identity, ClassOf(New(Identity, "", errors.New("mismatch"))))
}

func TestRetryableOnlyTransientAndIdentity(t *testing.T) {
	require.True(t, Transient.Retryable())
	require.True(t, Identity.Retryable())
	require.False(t, Clean.Retryable())
	require.False(t, Validation.Retryable())
	require.False(t, Died.Retryable())
	require.False(t, Fatal.Retryable())
}

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	base := 20 * time.Millisecond
	require.Equal(t, time.Duration(0), Backoff(base, 0))
	require.Equal(t, base, Backoff(base, 1))
	require.Equal(t, 3*base, Backoff(base, 2))

	atCap := Backoff(base, 8)
	beyondCap := Backoff(base, 20)
	require.Equal(t, atCap, beyondCap)
}

func TestBackoffClampsNegativeAttempt(t *testing.T) {
	require.Equal(t, Backoff(ParentBackoffBase, 0), Backoff(ParentBackoffBase, -3))
}

func TestThresholdExceedsOnlyPastBound(t *testing.T) {
	th := NewThreshold(2)
	require.False(t, th.Count(Died))
	require.False(t, th.Count(Died))
	require.True(t, th.Count(Died))
	require.Equal(t, 3, th.CountOf(Died))
}

func TestThresholdTracksClassesIndependently(t *testing.T) {
	th := NewThreshold(1)
	require.False(t, th.Count(Died))
	require.False(t, th.Count(Clean))
	require.Equal(t, 1, th.CountOf(Died))
	require.Equal(t, 1, th.CountOf(Clean))
}

func TestThresholdResetClearsCounts(t *testing.T) {
	th := NewThreshold(1)
	th.Count(Died)
	th.Reset()
	require.Equal(t, 0, th.CountOf(Died))
}
