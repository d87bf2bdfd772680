package shm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// ReservedAddress is the slot the parent reserves for the protocol header;
// Store addresses below it are never handed out as call ids.
const ReservedAddress = 1

// DefaultSize is the payload store's default total size. Callers may
// request a different size before first use.
const DefaultSize = 5 << 20 // 5 MiB

// DefaultSlots is the default number of addressable slots a store divides
// its usable space into, i.e. the number of calls that may be in flight at
// once without colliding. Each slot's capacity is DefaultSize/DefaultSlots
// minus its length prefix, comfortably above the 2%-of-store-size warning
// threshold so oversized-but-legal payloads can still round-trip.
const DefaultSlots = 32

const headerSlotBytes = 256

// Header is the protocol record the parent writes to ReservedAddress.
type Header struct {
	Version string `json:"version"`
	Size    int    `json:"size"`
}

// Store is an indexed payload store: call id -> byte slice, addressed by
// taking id modulo the number of slots available after the reserved header
// region. Ids are never reused within a process lifetime and the store is
// sized so that the number of calls ever concurrently in flight stays well
// under the slot count — the documented assumption behind addressing by
// id directly, rather than maintaining a separate free-list allocator.
type Store struct {
	seg      *Segment
	slots    int
	slotSize int
}

// NewStore wraps seg as a payload store divided into slots addressable
// slots, each slotSize = (seg.Size()-headerSlotBytes)/slots bytes.
func NewStore(seg *Segment, slots int) (*Store, error) {
	if slots <= 0 {
		slots = DefaultSlots
	}
	avail := seg.Size() - headerSlotBytes
	slotSize := avail / slots
	if slotSize < 64 {
		return nil, fmt.Errorf("shm: segment too small for %d slots (%d bytes)", slots, seg.Size())
	}
	return &Store{seg: seg, slots: slots, slotSize: slotSize}, nil
}

// WriteHeader writes the protocol header at ReservedAddress. Only the
// parent side of a transport calls this, during setup.
func (s *Store) WriteHeader(h Header) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if len(b) > headerSlotBytes-4 {
		return fmt.Errorf("shm: header too large")
	}
	buf := s.seg.Bytes()[:headerSlotBytes]
	binary.LittleEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	return nil
}

func (s *Store) ReadHeader() (Header, error) {
	buf := s.seg.Bytes()[:headerSlotBytes]
	n := binary.LittleEndian.Uint32(buf)
	if n == 0 || n > headerSlotBytes-4 {
		return Header{}, fmt.Errorf("shm: no header written")
	}
	var h Header
	if err := json.Unmarshal(buf[4:4+n], &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

func (s *Store) slotOffset(id int64) int {
	idx := int((id - ReservedAddress - 1) % int64(s.slots))
	if idx < 0 {
		idx += s.slots
	}
	return headerSlotBytes + idx*s.slotSize
}

// Put writes payload at the slot addressed by id.
func (s *Store) Put(id int64, payload []byte) error {
	if len(payload) > s.slotSize-4 {
		return fmt.Errorf("shm: payload for call %d (%d bytes) exceeds slot size %d", id, len(payload), s.slotSize)
	}
	off := s.slotOffset(id)
	buf := s.seg.Bytes()[off : off+s.slotSize]
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	return nil
}

// Get reads the payload at the slot addressed by id. It does not validate
// that the slot's content actually belongs to id — callers must not race a
// Get against a concurrent Put for a different id mapping to the same slot
// (the transport's lock prevents exactly that).
func (s *Store) Get(id int64) ([]byte, error) {
	off := s.slotOffset(id)
	buf := s.seg.Bytes()[off : off+s.slotSize]
	n := binary.LittleEndian.Uint32(buf)
	if n > uint32(s.slotSize-4) {
		return nil, fmt.Errorf("shm: corrupt slot for call %d", id)
	}
	out := make([]byte, n)
	copy(out, buf[4:4+n])
	return out, nil
}

// Drop zeroes the length prefix of id's slot, freeing it for reuse.
func (s *Store) Drop(id int64) {
	off := s.slotOffset(id)
	binary.LittleEndian.PutUint32(s.seg.Bytes()[off:off+4], 0)
}

// TotalSize is the store's declared capacity in bytes, used for the 2%
// warning threshold.
func (s *Store) TotalSize() int { return s.seg.Size() }

// SlotSize is the usable capacity of one slot (excluding its length
// prefix).
func (s *Store) SlotSize() int { return s.slotSize - 4 }

func (s *Store) Segment() *Segment { return s.seg }
