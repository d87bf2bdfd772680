package promise

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSettlesOnce(t *testing.T) {
	p, resolve, reject := New()
	resolve("first")
	resolve("second")
	reject(errors.New("nope"))

	v, err := p.Result()
	require.True(t, p.Settled())
	require.NoError(t, err)
	require.Equal(t, "first", v)
}

func TestRejectSettlesOnce(t *testing.T) {
	p, resolve, reject := New()
	reject(errors.New("boom"))
	resolve("late")

	v, err := p.Result()
	require.Error(t, err)
	require.Nil(t, v)
}

func TestThenChainsFulfilled(t *testing.T) {
	p, resolve, _ := New()
	next := p.Then(func(v any) (any, error) {
		return v.(string) + "!", nil
	}, nil)
	resolve("hi")

	v, err := next.Result()
	require.NoError(t, err)
	require.Equal(t, "hi!", v)
}

func TestThenChainsOnPromise(t *testing.T) {
	inner, innerResolve, _ := New()
	outer, outerResolve, _ := New()
	next := outer.Then(func(v any) (any, error) {
		return inner, nil
	}, nil)
	outerResolve(nil)
	innerResolve("chained")

	v, err := next.Result()
	require.NoError(t, err)
	require.Equal(t, "chained", v)
}

func TestThenAfterSettlementRunsImmediately(t *testing.T) {
	p, resolve, _ := New()
	resolve("done")
	called := false
	p.Then(func(v any) (any, error) { called = true; return v, nil }, nil)
	require.True(t, called)
}
