// Package call implements the Call record: the identity and mutable status
// of a single remote worker invocation, addressed by a monotonically
// increasing id into the IPC payload store.
package call

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/loykin/daemonkit/internal/promise"
)

// ReservedHeaderAddress is the payload-store slot the parent reserves for
// the protocol header; Call ids start one above it.
const ReservedHeaderAddress = 1

// firstCallID is the first id ever handed out, one above the reserved slot.
const firstCallID = 2

// Call is a single remote method invocation record. Args/Result are opaque
// to this package — worker subjects agree out of band on their shapes.
type Call struct {
	mu sync.Mutex

	ID     int64
	Method string
	Args   []any
	PID    int
	status Status
	Time   map[Status]time.Time
	Result any
	Err    string

	// Size is an approximate byte footprint of Args/Result, used by the IPC
	// transport's 2%-of-store warning.
	Size int

	Attempts int
	Errors   int

	collected bool

	// Promise is parent-side only and never serialized or transmitted.
	Promise *promise.Promise
	resolve func(any)
	reject  func(error)
}

// idGenerator hands out strictly monotonic ids, one sequence per Factory
// (each Factory starts its own at firstCallID — only the parent's ids ever
// address the shared payload store).
type idGenerator struct {
	mu   sync.Mutex
	next int64
}

func newIDGenerator() *idGenerator { return &idGenerator{next: firstCallID} }

func (g *idGenerator) next_() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	return id
}

// Factory assigns fresh ids for one process's Call lifetime; the parent
// mediator owns one Factory per worker alias. Ids are strictly monotonic
// and unique within one Factory only: two Factories hand out the same ids.
type Factory struct {
	gen *idGenerator
}

func NewFactory() *Factory { return &Factory{gen: newIDGenerator()} }

// Create assigns a fresh id and returns a Call in UNCALLED status with its
// promise attached.
func (f *Factory) Create(method string, args []any) *Call {
	c := &Call{
		ID:     f.gen.next_(),
		Method: method,
		Args:   args,
		Time:   make(map[Status]time.Time, 6),
		status: Uncalled,
		Size:   approxSize(method, args),
	}
	c.Promise, c.resolve, c.reject = promise.New()
	c.mark(Uncalled)
	return c
}

func approxSize(method string, args []any) int {
	b, err := json.Marshal(struct {
		Method string
		Args   []any
	}{method, args})
	if err != nil {
		return len(method)
	}
	return len(b)
}

func (c *Call) mark(s Status) {
	c.Time[s] = time.Now()
}

// setStatus rejects any strict decrease, and any move out of a terminal
// status, except a reset back to UNCALLED (used by Retry).
func (c *Call) setStatus(s Status) error {
	if s == Uncalled {
		c.status = Uncalled
		c.mark(Uncalled)
		return nil
	}
	if c.status.rank() == 3 {
		return errors.New("call: status already terminal")
	}
	if s.rank() < c.status.rank() {
		return errors.New("call: status cannot move backward except via retry")
	}
	c.status = s
	c.mark(s)
	return nil
}

func (c *Call) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Called transitions UNCALLED -> CALLED, recording the entry timestamp.
func (c *Call) Called() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Attempts++
	return c.setStatus(Called)
}

// Running transitions -> RUNNING, recording which pid claimed the call.
func (c *Call) Running(pid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PID = pid
	return c.setStatus(Running)
}

// Returned transitions -> RETURNED and settles the promise with result, if
// this Call has one. A Call reconstructed by NewFromWire has no promise —
// the child side only mutates status and reports back via ToWire.
func (c *Call) Returned(result any) error {
	c.mu.Lock()
	if err := c.setStatus(Returned); err != nil {
		c.mu.Unlock()
		return err
	}
	c.Result = result
	resolve := c.resolve
	c.mu.Unlock()
	if resolve != nil {
		resolve(result)
	}
	return nil
}

// ReturnedWithError transitions -> RETURNED, like Returned, but rejects the
// promise with err instead of resolving it, if this Call has one. Used when
// the worker method itself raised an exception: the RPC round trip
// completed, but the caller's promise should still see a failure.
func (c *Call) ReturnedWithError(err error) error {
	c.mu.Lock()
	if serr := c.setStatus(Returned); serr != nil {
		c.mu.Unlock()
		return serr
	}
	c.Err = err.Error()
	c.Errors++
	reject := c.reject
	c.mu.Unlock()
	if reject != nil {
		reject(err)
	}
	return nil
}

// RejectTransport rejects the promise, if present, without changing status,
// for a transport-level failure on Put — the call stays CALLED until the
// mediator's idle GC pass clears it out.
func (c *Call) RejectTransport(err error) {
	c.mu.Lock()
	c.Err = err.Error()
	reject := c.reject
	c.mu.Unlock()
	if reject != nil {
		reject(err)
	}
}

// Cancelled transitions -> CANCELLED and, if this Call has a promise,
// settles it with a cancellation error. A child-side Call (from
// NewFromWire) has no promise to settle; the transition still records the
// status so the child can skip serving it.
func (c *Call) Cancelled() error {
	c.mu.Lock()
	if err := c.setStatus(Cancelled); err != nil {
		c.mu.Unlock()
		return err
	}
	reject := c.reject
	c.mu.Unlock()
	if reject != nil {
		reject(errors.New("call: cancelled"))
	}
	return nil
}

// TimedOut transitions -> TIMEOUT (used for the premature-death path, when a
// worker dies mid-call) and, if present, rejects the promise with err.
func (c *Call) TimedOut(err error) error {
	c.mu.Lock()
	if serr := c.setStatus(Timeout); serr != nil {
		c.mu.Unlock()
		return serr
	}
	c.Err = err.Error()
	reject := c.reject
	c.mu.Unlock()
	if reject != nil {
		reject(err)
	}
	return nil
}

// Retry resets a terminal call back to UNCALLED, keeping the original id —
// the simplest choice that preserves a single audit trail per logical
// invocation across retries, rather than minting a fresh id each attempt.
func (c *Call) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Uncalled
	c.mark(Uncalled)
	c.Promise, c.resolve, c.reject = promise.New()
}

// GC frees Args/Result on a terminal call so the mediator can keep a small
// history without retaining payloads.
func (c *Call) GC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Returned && c.status != Cancelled && c.status != Timeout {
		return
	}
	c.Args = nil
	c.Result = nil
	c.collected = true
}

func (c *Call) Collected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collected
}

// Wire is the language-neutral serialized form transmitted through the IPC
// payload store: id, pid, status, method, args, time, result. Promise is
// intentionally absent.
type Wire struct {
	ID     int64            `json:"id"`
	PID    int              `json:"pid"`
	Status Status           `json:"status"`
	Method string           `json:"method"`
	Args   []any            `json:"args"`
	Time   map[string]int64 `json:"time"`
	Result any              `json:"result"`
	Err    string           `json:"err,omitempty"`
}

// ToWire serializes the fields that cross the process boundary.
func (c *Call) ToWire() Wire {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := make(map[string]int64, len(c.Time))
	for s, ts := range c.Time {
		t[s.String()] = ts.UnixNano()
	}
	return Wire{
		ID:     c.ID,
		PID:    c.PID,
		Status: c.status,
		Method: c.Method,
		Args:   c.Args,
		Time:   t,
		Result: c.Result,
		Err:    c.Err,
	}
}

// Marshal/Unmarshal round-trip a Call's wire form through the payload
// store. encoding/json is used rather than a binary codec: nothing in the
// available stack targets small structured IPC records specifically, and
// JSON keeps the payload self-describing for the statistics/HTTP plugin
// that also needs to read it.
func (w Wire) Marshal() ([]byte, error) { return json.Marshal(w) }

func UnmarshalWire(b []byte) (Wire, error) {
	var w Wire
	err := json.Unmarshal(b, &w)
	return w, err
}

// FromWire applies a received wire record onto a local Call (used by the
// parent when draining RUNNING/RETURN headers).
func (c *Call) FromWire(w Wire) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PID = w.PID
	c.Result = w.Result
	c.Err = w.Err
}

// NewFromWire reconstructs a Call on the child side of a CALL header: unlike
// Factory.Create, it keeps the id the parent already assigned rather than
// minting a fresh one, since the id is the shared key into the payload
// store both sides address. The returned Call has no usable Promise — a
// forked child never awaits its own result, it only mutates status and
// calls ToWire to report back.
func NewFromWire(w Wire) *Call {
	c := &Call{
		ID:     w.ID,
		Method: w.Method,
		Args:   w.Args,
		PID:    w.PID,
		status: w.Status,
		Time:   make(map[Status]time.Time, 6),
	}
	c.mark(w.Status)
	return c
}
