package ipc

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/loykin/daemonkit/internal/call"
	"github.com/loykin/daemonkit/internal/errclass"
	"github.com/loykin/daemonkit/internal/ipc/mq"
	"github.com/loykin/daemonkit/internal/ipc/shm"
)

// ProtocolVersion is written into the payload store's reserved header slot.
const ProtocolVersion = "1.0"

// WarnRatio is the fraction of the store size a single call's payload must
// exceed to trigger the one-shot size warning.
const WarnRatio = 0.02

// WarnGrowthFactor recommends the store be grown to at least this multiple
// of the observed oversized payload.
const WarnGrowthFactor = 60

const maxRetries = errclass.MaxRetries

// Options configures a Transport's backing store/queue sizes.
type Options struct {
	StoreSize     int
	Slots         int
	QueueCapacity int
}

func (o Options) withDefaults() Options {
	if o.StoreSize <= 0 {
		o.StoreSize = shm.DefaultSize
	}
	if o.Slots <= 0 {
		o.Slots = shm.DefaultSlots
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = mq.DefaultCapacity
	}
	return o
}

// Transport is the lock + message queue + payload store triple a Mediator
// uses to talk to its forked workers.
type Transport struct {
	Guid Guid

	lock     *Lock
	store    *shm.Store
	queue    *mq.Queue
	storeSeg *shm.Segment
	queueSeg *shm.Segment

	isParent bool

	warnOnce sync.Once
	OnWarn   func(callID int64, size, storeSize int)
}

// NewParent derives a guid from (daemonPath, alias), creates a fresh lock,
// payload store, and message queue, and writes the protocol header. This is
// the parent mediator's half of setup().
func NewParent(daemonPath, alias string, opts Options) (*Transport, error) {
	opts = opts.withDefaults()
	guid, err := Derive(daemonPath, alias)
	if err != nil {
		return nil, err
	}
	lock, err := OpenLock(guid.LockPath())
	if err != nil {
		return nil, err
	}

	storeSeg, err := shm.Create(guid.String()+"-store", opts.StoreSize)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("ipc: create store segment: %w", err)
	}
	store, err := shm.NewStore(storeSeg, opts.Slots)
	if err != nil {
		storeSeg.Close()
		lock.Close()
		return nil, err
	}
	if err := store.WriteHeader(shm.Header{Version: ProtocolVersion, Size: opts.StoreSize}); err != nil {
		storeSeg.Close()
		lock.Close()
		return nil, err
	}

	queueSeg, err := shm.Create(guid.String()+"-mq", mq.RequiredSize(opts.QueueCapacity))
	if err != nil {
		storeSeg.Close()
		lock.Close()
		return nil, fmt.Errorf("ipc: create queue segment: %w", err)
	}
	queue, err := mq.NewQueue(queueSeg, opts.QueueCapacity)
	if err != nil {
		queueSeg.Close()
		storeSeg.Close()
		lock.Close()
		return nil, err
	}

	return &Transport{
		Guid: guid, lock: lock, store: store, queue: queue,
		storeSeg: storeSeg, queueSeg: queueSeg, isParent: true,
	}, nil
}

// NewChild re-derives the same guid from (daemonPath, alias) and attaches
// to the store/queue segments inherited as storeFD/queueFD — typically fds
// 3 and 4, passed via exec.Cmd.ExtraFiles when the parent forked this
// child. This is the child's half of setup().
func NewChild(daemonPath, alias string, storeFD, queueFD int, opts Options) (*Transport, error) {
	opts = opts.withDefaults()
	guid, err := Derive(daemonPath, alias)
	if err != nil {
		return nil, err
	}
	lock, err := OpenLock(guid.LockPath())
	if err != nil {
		return nil, err
	}

	storeSeg, err := shm.Attach(storeFD, opts.StoreSize)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("ipc: attach store segment: %w", err)
	}
	store, err := shm.NewStore(storeSeg, opts.Slots)
	if err != nil {
		storeSeg.Close()
		lock.Close()
		return nil, err
	}

	queueSeg, err := shm.Attach(queueFD, mq.RequiredSize(opts.QueueCapacity))
	if err != nil {
		storeSeg.Close()
		lock.Close()
		return nil, fmt.Errorf("ipc: attach queue segment: %w", err)
	}
	queue, err := mq.NewQueue(queueSeg, opts.QueueCapacity)
	if err != nil {
		queueSeg.Close()
		storeSeg.Close()
		lock.Close()
		return nil, err
	}

	return &Transport{
		Guid: guid, lock: lock, store: store, queue: queue,
		storeSeg: storeSeg, queueSeg: queueSeg, isParent: false,
	}, nil
}

// Files returns the store and queue file descriptors, in the order a caller
// should append them to exec.Cmd.ExtraFiles before forking a child (the
// child then sees them as fd 3 and fd 4).
func (t *Transport) Files() []*os.File {
	return []*os.File{t.storeSeg.File(), t.queueSeg.File()}
}

// Purge resets the queue's head/tail counters to zero, discarding any
// headers left queued by a previous incarnation under the same guid. It
// does not need to touch the store's slots: NewParent always maps a fresh,
// kernel-zeroed memfd, so every slot already reads as empty; a queue with
// stale head/tail counters pointing into that fresh store is the only
// residual state a reused guid can actually leave behind.
func (t *Transport) Purge() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	buf := t.queueSeg.Bytes()
	for i := range buf[:16] {
		buf[i] = 0
	}
	return nil
}

func headerTypeFor(s call.Status) (call.HeaderType, bool) {
	switch s {
	case call.Called:
		return call.HeaderCall, true
	case call.Running:
		return call.HeaderRunning, true
	case call.Returned:
		return call.HeaderReturn, true
	case call.Cancelled:
		return call.HeaderCancel, true
	default:
		return 0, false
	}
}

// Put writes c's current wire form into the payload store at c.ID and
// enqueues a header typed by c's status. Any failure is retried; Put makes
// at most 3 attempts, with exponential backoff (base 20ms) between them.
func (t *Transport) Put(c *call.Call) error {
	ht, ok := headerTypeFor(c.Status())
	if !ok {
		return fmt.Errorf("ipc: status %s has no wire header", c.Status())
	}
	wire := c.ToWire()
	body, err := wire.Marshal()
	if err != nil {
		return fmt.Errorf("ipc: marshal call %d: %w", c.ID, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(errclass.Backoff(errclass.ParentBackoffBase, attempt))
		}
		lastErr = t.putOnce(c.ID, ht, wire.PID, body)
		if lastErr == nil {
			if len(body) > int(float64(t.store.TotalSize())*WarnRatio) {
				t.warnOnce.Do(func() {
					if t.OnWarn != nil {
						t.OnWarn(c.ID, len(body), t.store.TotalSize())
					}
				})
			}
			return nil
		}
	}
	return fmt.Errorf("ipc: put call %d after %d attempts: %w", c.ID, maxRetries, lastErr)
}

func (t *Transport) putOnce(id int64, ht call.HeaderType, pid int, body []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.store.Put(id, body); err != nil {
		return err
	}
	return t.queue.Put(mq.Header{ID: id, Type: int32(ht), PID: int32(pid), Time: time.Now()})
}

// TryGet dequeues the next queued header of type want (or any type, if
// want is 0), reads its payload, and returns the resulting wire record. It
// returns found=false immediately if no matching header is queued.
func (t *Transport) TryGet(want call.HeaderType) (wire call.Wire, found bool, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	h, ok := t.queue.Take(int32(want))
	if !ok {
		return call.Wire{}, false, nil
	}
	body, err := t.store.Get(h.ID)
	if err != nil {
		return call.Wire{}, false, fmt.Errorf("ipc: read payload for call %d: %w", h.ID, err)
	}
	wire, err = call.UnmarshalWire(body)
	if err != nil {
		return call.Wire{}, false, fmt.Errorf("ipc: unmarshal call %d: %w", h.ID, err)
	}
	if call.HeaderType(h.Type) == call.HeaderReturn {
		t.store.Drop(h.ID)
	}
	return wire, true, nil
}

// BlockGet polls TryGet with a short sleep between attempts until a
// matching header arrives or ctx is done.
func (t *Transport) BlockGet(ctx context.Context, want call.HeaderType) (call.Wire, error) {
	const pollInterval = 10 * time.Millisecond
	for {
		wire, found, err := t.TryGet(want)
		if err != nil {
			return call.Wire{}, err
		}
		if found {
			return wire, nil
		}
		select {
		case <-ctx.Done():
			return call.Wire{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Drop frees the payload slot for id without reading it.
func (t *Transport) Drop(id int64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.store.Drop(id)
}

// PendingMessages reports how many headers of any type are currently
// queued, for the stats event.
func (t *Transport) PendingMessages() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.queue.Len()
}

// SelfTest writes and reads back a fixed probe string at a scratch address
// to verify the store round-trips correctly, per the IPC corruption
// recovery path: run twice, and only continue if both succeed.
func (t *Transport) SelfTest() error {
	// A negative id never collides with a real call id (which starts at
	// firstCallID and only increases) but still maps to a stable slot.
	const scratchID = -1
	probe := []byte("daemonkit-self-test")
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.store.Put(scratchID, probe); err != nil {
		return err
	}
	got, err := t.store.Get(scratchID)
	if err != nil {
		return err
	}
	if string(got) != string(probe) {
		return fmt.Errorf("ipc: self-test mismatch")
	}
	return nil
}

// Close unmaps and closes the store and queue segments and the lock file.
// It does not unlink the guid's sentinel — only the parent's final
// teardown should do that, via Guid.Unlink.
func (t *Transport) Close() error {
	errs := [...]error{t.storeSeg.Close(), t.queueSeg.Close(), t.lock.Close()}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
