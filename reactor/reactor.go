// Package reactor wraps the OS readiness-notification API (epoll on
// Linux, kqueue on macOS/BSD) behind one edge-triggered interface, so
// the worker loop in package worker never branches on GOOS.
//
// No file in the teacher speaks raw readiness APIs at all (tqdbproxy
// is built on net.Listener/net.Conn and lets the Go runtime's own
// netpoller do this job); this package is a from-scratch component per
// spec.md §4.1, using golang.org/x/sys/unix the way the pack's other
// low-level networking code does.
package reactor

// Interest is a bitmask of readiness conditions a caller wants to be
// notified about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one readiness notification: the token the caller originally
// registered (spec.md uses this as the connection slab index) and which
// interests fired.
type Event struct {
	Token    int64
	Readable bool
	Writable bool
	Error    bool
	HangUp   bool
}

// Reactor is the platform-independent readiness API contract from
// spec.md §4.1. Implementations must be edge-triggered: a caller must
// drain a ready fd until it sees EWOULDBLOCK/EAGAIN before waiting
// again, since no further event fires for data already pending.
type Reactor interface {
	// Add registers fd for the given interests, associated with token.
	Add(fd int, token int64, interests Interest) error
	// Modify changes the interests registered for fd.
	Modify(fd int, token int64, interests Interest) error
	// Delete unregisters fd. ENOENT (fd already gone, e.g. the peer
	// closed and the kernel dropped it) is not an error.
	Delete(fd int) error
	// Wait blocks for up to timeoutMillis (negative means forever) and
	// appends ready events to the reactor's internal buffer, returning
	// a slice of at most the maxEvents given to New. The returned slice aliases
	// the Reactor's own storage and is only valid until the next Wait.
	Wait(timeoutMillis int) ([]Event, error)
	// Close releases the underlying OS resource (epoll/kqueue fd).
	Close() error
}
