//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"golang.org/x/sys/unix"
)

// kqueueReactor implements Reactor over kqueue, synthesizing epoll's
// single combined read/write event set out of kqueue's separate
// EVFILT_READ/EVFILT_WRITE filters, per spec.md §4.1 ("the kqueue
// implementation synthesises EPOLLIN/EPOLLOUT by adding/removing
// separate read/write filters").
type kqueueReactor struct {
	kq     int
	tokens map[int]int64
	buf    []unix.Kevent_t
	events []Event
}

// New creates a Reactor backed by kqueue(2).
func New(maxEvents int) (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &kqueueReactor{
		kq:     kq,
		tokens: make(map[int]int64),
		buf:    make([]unix.Kevent_t, maxEvents),
		events: make([]Event, 0, maxEvents),
	}, nil
}

func (r *kqueueReactor) changeFilters(fd int, interests Interest, flags uint16) error {
	var changes []unix.Kevent_t
	read := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags | unix.EV_CLEAR}
	write := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags | unix.EV_CLEAR}

	if flags == unix.EV_DELETE {
		changes = append(changes, read, write)
	} else {
		if interests&Readable != 0 {
			changes = append(changes, read)
		} else {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
		}
		if interests&Writable != 0 {
			changes = append(changes, write)
		} else {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
		}
	}

	_, err := unix.Kevent(r.kq, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (r *kqueueReactor) Add(fd int, token int64, interests Interest) error {
	r.tokens[fd] = token
	return r.changeFilters(fd, interests, unix.EV_ADD|unix.EV_ENABLE)
}

func (r *kqueueReactor) Modify(fd int, token int64, interests Interest) error {
	r.tokens[fd] = token
	return r.changeFilters(fd, interests, unix.EV_ADD|unix.EV_ENABLE)
}

func (r *kqueueReactor) Delete(fd int) error {
	delete(r.tokens, fd)
	return r.changeFilters(fd, 0, unix.EV_DELETE)
}

func (r *kqueueReactor) Wait(timeoutMillis int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMillis >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMillis) * int64(1e6))
		ts = &t
	}
	n, err := unix.Kevent(r.kq, nil, r.buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	r.events = r.events[:0]
	merged := make(map[int64]*Event, n)
	for i := 0; i < n; i++ {
		raw := r.buf[i]
		fd := int(raw.Ident)
		token, ok := r.tokens[fd]
		if !ok {
			continue
		}
		ev, exists := merged[token]
		if !exists {
			r.events = append(r.events, Event{Token: token})
			ev = &r.events[len(r.events)-1]
			merged[token] = ev
		}
		switch raw.Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if raw.Flags&unix.EV_EOF != 0 {
			ev.HangUp = true
		}
		if raw.Flags&unix.EV_ERROR != 0 {
			ev.Error = true
		}
	}
	return r.events, nil
}

func (r *kqueueReactor) Close() error {
	return unix.Close(r.kq)
}
