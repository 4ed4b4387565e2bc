// Package slab implements a fixed-capacity, index-addressed pool of
// per-connection records with O(1) allocate/free via an intrusive free
// list, so request handling never touches the heap once a worker has
// started up.
//
// No teacher file builds this kind of structure (tqdbproxy is
// goroutine-per-connection and lets the Go runtime manage stack/heap
// per connection); this package is a from-scratch translation of the
// slab algorithm into Go, kept in the small-single-purpose-package
// style the rest of the corpus uses for self-contained data structures.
package slab

import "time"

// State is the lifecycle stage of a connection record.
type State uint8

const (
	Free State = iota
	Accepted
	Reading
	Parsing
	Writing
	Closing
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Accepted:
		return "accepted"
	case Reading:
		return "reading"
	case Parsing:
		return "parsing"
	case Writing:
		return "writing"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Default buffer sizes, per spec.md §4.2/§4.3.
const (
	DefaultReadBufferSize  = 16 * 1024
	DefaultWriteBufferSize = 64 * 1024
)

// Conn is one connection record. When State is Free, FD doubles as the
// next-free index of the intrusive free list (or -1 at the list's
// tail). Allocate clears CorrelationID; the worker stamps a fresh one
// right after Allocate, and it is not regenerated until the record is
// freed and allocated again (spec.md §4.17).
type Conn struct {
	FD    int32
	State State

	ReadBuf    []byte
	ParsePos   int
	WriteBuf   []byte
	WriteTotal int
	WriteSent  int

	LastActive     int64
	RequestsServed uint64
	KeepAlive      bool
	CorrelationID  string
}

// reset clears the logical length of both buffers and every per-request
// cursor without touching buffer capacity, which is what keeps
// Allocate/Free allocation-free.
func (c *Conn) reset(fd int32, now int64) {
	c.FD = fd
	c.State = Accepted
	c.ParsePos = 0
	c.WriteTotal = 0
	c.WriteSent = 0
	c.LastActive = now
	c.RequestsServed = 0
	c.KeepAlive = true
	c.CorrelationID = ""
}

// Slab is a fixed-size pool of Conn records addressed by index.
// Capacity is fixed at construction; the backing slice never grows.
type Slab struct {
	entries     []Conn
	headFree    int32
	activeCount int
}

// New allocates a Slab of the given capacity. Every record's read/write
// buffers are pre-sized once and reused for the lifetime of the slab.
func New(capacity int, readBufSize, writeBufSize int) *Slab {
	if readBufSize <= 0 {
		readBufSize = DefaultReadBufferSize
	}
	if writeBufSize <= 0 {
		writeBufSize = DefaultWriteBufferSize
	}
	entries := make([]Conn, capacity)
	for i := range entries {
		entries[i].ReadBuf = make([]byte, readBufSize)
		entries[i].WriteBuf = make([]byte, writeBufSize)
		if i == capacity-1 {
			entries[i].FD = -1
		} else {
			entries[i].FD = int32(i + 1)
		}
	}
	head := int32(-1)
	if capacity > 0 {
		head = 0
	}
	return &Slab{entries: entries, headFree: head}
}

// Capacity returns the fixed number of records the slab was created
// with.
func (s *Slab) Capacity() int { return len(s.entries) }

// ActiveCount returns the number of records currently allocated.
func (s *Slab) ActiveCount() int { return s.activeCount }

// FreeCount returns Capacity() - ActiveCount(), the slab invariant
// active_count + free_list_length == capacity made explicit.
func (s *Slab) FreeCount() int { return len(s.entries) - s.activeCount }

// Allocate pops the head of the free list, initializes it for fd, and
// returns its stable index and a pointer to the record. It returns
// ok=false if the slab is exhausted — the caller's back-pressure policy
// (spec.md: close the new connection without adding it to the
// readiness set).
func (s *Slab) Allocate(fd int32, now time.Time) (idx int32, conn *Conn, ok bool) {
	if s.headFree < 0 {
		return -1, nil, false
	}
	idx = s.headFree
	conn = &s.entries[idx]
	s.headFree = conn.FD
	conn.reset(fd, now.Unix())
	s.activeCount++
	return idx, conn, true
}

// Free releases the record at idx back to the free list. It is
// idempotent: freeing an already-Free record is a no-op, matching
// spec.md's stated invariant.
func (s *Slab) Free(idx int32) {
	conn := &s.entries[idx]
	if conn.State == Free {
		return
	}
	conn.FD = s.headFree
	conn.State = Free
	s.headFree = idx
	s.activeCount--
}

// Get returns the record at idx. The caller is responsible for only
// dereferencing indices it knows are currently allocated; Get does not
// check State, matching the hot-path no-bounds-surprise contract the
// worker loop relies on (idx comes from the readiness API's token,
// which the worker itself assigned).
func (s *Slab) Get(idx int32) *Conn { return &s.entries[idx] }

// ForEachActive calls fn for every currently-allocated record, used by
// the idle-timeout sweep (spec.md §5). Order is index order, not
// allocation order.
func (s *Slab) ForEachActive(fn func(idx int32, c *Conn)) {
	for i := range s.entries {
		if s.entries[i].State != Free {
			fn(int32(i), &s.entries[i])
		}
	}
}
