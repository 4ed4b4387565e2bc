//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// epollReactor implements Reactor over Linux epoll in edge-triggered
// mode (EPOLLET). unix.EpollEvent.Fd carries the fd itself, and Wait
// maps it back to the caller's token through our own fd→token map,
// since EpollEvent only carries 32 bits of user data reliably across
// all archs.
type epollReactor struct {
	epfd   int
	tokens map[int]int64
	buf    []unix.EpollEvent
	events []Event
}

// New creates a Reactor backed by epoll_create1.
func New(maxEvents int) (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &epollReactor{
		epfd:   epfd,
		tokens: make(map[int]int64),
		buf:    make([]unix.EpollEvent, maxEvents),
		events: make([]Event, 0, maxEvents),
	}, nil
}

func toEpollEvents(interests Interest) uint32 {
	var ev uint32 = unix.EPOLLET
	if interests&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interests&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *epollReactor) Add(fd int, token int64, interests Interest) error {
	r.tokens[fd] = token
	ev := unix.EpollEvent{Events: toEpollEvents(interests), Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (r *epollReactor) Modify(fd int, token int64, interests Interest) error {
	r.tokens[fd] = token
	ev := unix.EpollEvent{Events: toEpollEvents(interests), Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (r *epollReactor) Delete(fd int) error {
	delete(r.tokens, fd)
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (r *epollReactor) Wait(timeoutMillis int) ([]Event, error) {
	n, err := unix.EpollWait(r.epfd, r.buf, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	r.events = r.events[:0]
	for i := 0; i < n; i++ {
		raw := r.buf[i]
		token, ok := r.tokens[int(raw.Fd)]
		if !ok {
			continue
		}
		r.events = append(r.events, Event{
			Token:    token,
			Readable: raw.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Error:    raw.Events&unix.EPOLLERR != 0,
			HangUp:   raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return r.events, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
