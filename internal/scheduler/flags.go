package scheduler

import "sync/atomic"

// boolFlag is a once-set latch: Set(true) is a one-way street, matching
// "shutdown, once true, cannot be cleared." Set(false) is still exposed for
// restart, which is allowed to reset between attempts.
type boolFlag struct{ v atomic.Bool }

func (f *boolFlag) Set(v bool) { f.v.Store(v) }
func (f *boolFlag) Get() bool  { return f.v.Load() }
func (f *boolFlag) Raise()     { f.v.Store(true) }

// counter is a plain atomic increment-and-read counter, used for the
// interrupt count and per-signal dispatch counts touched from the
// signal-reading goroutine.
type counter struct{ v atomic.Int64 }

func (c *counter) Inc() int64 { return c.v.Add(1) }
func (c *counter) Get() int64 { return c.v.Load() }
