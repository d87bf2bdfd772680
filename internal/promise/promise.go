// Package promise implements the parent-side single-settlement primitive
// used to deliver a Call's eventual result to its caller. There is no
// corpus or ecosystem library for this narrow a contract (a promise that
// settles at most once, single-threaded, with chainable then()), so it is
// built directly on plain struct state and a callback queue, with no
// locking: no monad, no shared executor, single-threaded.
package promise

// state is the internal settlement state.
type state int

const (
	pending state = iota
	fulfilled
	rejected
)

// Promise is a settled-once result holder. The zero value is not usable;
// construct with New.
type Promise struct {
	st       state
	value    any
	err      error
	onSettle []func()
}

// New returns a pending Promise and the resolve/reject functions that
// settle it. Only the first call between resolve and reject has any effect;
// later calls are no-ops, satisfying "the promise is settled exactly once".
func New() (p *Promise, resolve func(any), reject func(error)) {
	p = &Promise{st: pending}
	resolve = func(v any) { p.settle(fulfilled, v, nil) }
	reject = func(err error) { p.settle(rejected, nil, err) }
	return p, resolve, reject
}

func (p *Promise) settle(st state, value any, err error) {
	if p.st != pending {
		return
	}
	p.st, p.value, p.err = st, value, err
	cbs := p.onSettle
	p.onSettle = nil
	for _, cb := range cbs {
		cb()
	}
}

// Settled reports whether resolve or reject has been called.
func (p *Promise) Settled() bool { return p.st != pending }

// Result returns the settled value/error. Calling it before settlement
// returns the zero value and a nil error; callers should use Then or poll
// Settled first.
func (p *Promise) Result() (any, error) {
	return p.value, p.err
}

// Then registers onFulfilled/onRejected to run when p settles (immediately,
// if it already has) and returns a new Promise that settles with whichever
// callback's return value/error. If a callback itself returns a *Promise,
// the returned Promise chains onto it instead of wrapping it.
func (p *Promise) Then(onFulfilled func(any) (any, error), onRejected func(error) (any, error)) *Promise {
	next, resolve, reject := New()
	settle := func() {
		var (
			v   any
			err error
		)
		switch {
		case p.st == fulfilled && onFulfilled != nil:
			v, err = onFulfilled(p.value)
		case p.st == rejected && onRejected != nil:
			v, err = onRejected(p.err)
		case p.st == fulfilled:
			v = p.value
		default:
			err = p.err
		}
		if err != nil {
			reject(err)
			return
		}
		if chained, ok := v.(*Promise); ok {
			chained.onSettleNow(func() {
				if chained.st == fulfilled {
					resolve(chained.value)
				} else {
					reject(chained.err)
				}
			})
			return
		}
		resolve(v)
	}
	p.onSettleNow(settle)
	return next
}

// onSettleNow runs cb immediately if already settled, else queues it.
func (p *Promise) onSettleNow(cb func()) {
	if p.st != pending {
		cb()
		return
	}
	p.onSettle = append(p.onSettle, cb)
}
