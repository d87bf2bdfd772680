// Package mq implements the typed message queue half of the IPC transport:
// small fixed-width headers, typed by a status integer, carrying only
// {id, status, time, pid} — the payload itself lives in the sibling shm
// payload store. Built on the same anonymous-mapping primitive as the
// payload store (golang.org/x/sys/unix MemfdCreate + Mmap) rather than a
// POSIX message queue or a socketpair: a socketpair is a point-to-point
// pipe, but a mediator may have several workers competing to dequeue CALL
// headers, which calls for the multi-reader ring buffer built here instead.
package mq

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/loykin/daemonkit/internal/ipc/shm"
)

// entrySize is the on-wire header layout: id(8) + headerType(4) + pid(4) +
// timeUnixNano(8), rounded up for alignment.
const entrySize = 32

const ringMetaBytes = 16 // head(8) + tail(8), counters never wrap to negative

// DefaultCapacity is the default number of in-flight headers the queue can
// hold before Put reports the queue full.
const DefaultCapacity = 256

// Header is one message-queue record.
type Header struct {
	ID   int64
	Type int32 // call.HeaderType value: CALL=30, RUNNING=20, RETURN=10
	PID  int32
	Time time.Time
}

// Queue is a fixed-capacity multi-producer, multi-consumer ring of Headers
// backed by shared memory. All mutation must happen under the transport's
// lock — Queue itself does no locking.
type Queue struct {
	seg      *shm.Segment
	capacity int
}

// RequiredSize returns the segment size needed for a queue of the given
// capacity.
func RequiredSize(capacity int) int {
	return ringMetaBytes + capacity*entrySize
}

// NewQueue wraps seg (sized via RequiredSize) as a message queue.
func NewQueue(seg *shm.Segment, capacity int) (*Queue, error) {
	if seg.Size() < RequiredSize(capacity) {
		return nil, fmt.Errorf("mq: segment too small for capacity %d", capacity)
	}
	return &Queue{seg: seg, capacity: capacity}, nil
}

func (q *Queue) counters() (head, tail int64) {
	buf := q.seg.Bytes()
	return int64(binary.LittleEndian.Uint64(buf[0:8])), int64(binary.LittleEndian.Uint64(buf[8:16]))
}

func (q *Queue) setCounters(head, tail int64) {
	buf := q.seg.Bytes()
	binary.LittleEndian.PutUint64(buf[0:8], uint64(head))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(tail))
}

func (q *Queue) slot(pos int64) []byte {
	idx := int(pos % int64(q.capacity))
	off := ringMetaBytes + idx*entrySize
	return q.seg.Bytes()[off : off+entrySize]
}

func encode(buf []byte, h Header) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.PID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.Time.UnixNano()))
}

func decode(buf []byte) Header {
	return Header{
		ID:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		Type: int32(binary.LittleEndian.Uint32(buf[8:12])),
		PID:  int32(binary.LittleEndian.Uint32(buf[12:16])),
		Time: time.Unix(0, int64(binary.LittleEndian.Uint64(buf[16:24]))),
	}
}

// ErrFull is returned by Put when the ring has no free slot.
var ErrFull = fmt.Errorf("mq: queue full")

// Put enqueues h at the tail. Callers hold the transport lock.
func (q *Queue) Put(h Header) error {
	head, tail := q.counters()
	if tail-head >= int64(q.capacity) {
		return ErrFull
	}
	encode(q.slot(tail), h)
	q.setCounters(head, tail+1)
	return nil
}

// Take scans from head to tail for the first header matching want (any
// type, if want == 0), removes it by compacting the remaining entries, and
// returns it. found is false if no match exists. Callers hold the
// transport lock.
func (q *Queue) Take(want int32) (h Header, found bool) {
	head, tail := q.counters()
	for pos := head; pos < tail; pos++ {
		cur := decode(q.slot(pos))
		if want != 0 && cur.Type != want {
			continue
		}
		for shift := pos; shift < tail-1; shift++ {
			copy(q.slot(shift), q.slot(shift+1))
		}
		q.setCounters(head, tail-1)
		return cur, true
	}
	return Header{}, false
}

// Len reports the number of headers currently queued (pending messages of
// every type).
func (q *Queue) Len() int {
	head, tail := q.counters()
	return int(tail - head)
}
