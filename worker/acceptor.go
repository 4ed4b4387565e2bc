package worker

import (
	"log"
	"sync/atomic"

	"github.com/mevdschee/chopin/netutil"
	"github.com/mevdschee/chopin/reactor"
)

// acceptorToken is the only token the acceptor's reactor ever sees
// (it registers a single fd: the listen socket).
const acceptorToken int64 = 0

// Acceptor owns the listen socket and one write end of a pipe per
// worker. It round-robins every accepted connection to the next
// worker in turn (spec.md §4.8).
type Acceptor struct {
	listenFD int
	pipes    []*netutil.FDPipe
	reactor  reactor.Reactor
	next     uint64
}

// NewAcceptor creates an Acceptor bound to listenFD, dispatching to
// pipes (one write end per worker, in worker-id order).
func NewAcceptor(listenFD int, pipes []*netutil.FDPipe) (*Acceptor, error) {
	r, err := reactor.New(1)
	if err != nil {
		return nil, err
	}
	if err := r.Add(listenFD, acceptorToken, reactor.Readable); err != nil {
		r.Close()
		return nil, err
	}
	return &Acceptor{listenFD: listenFD, pipes: pipes, reactor: r}, nil
}

// Run drains the accept queue on every wakeup, round-robining fds
// across pipes, until shutdown is observed, then closes the listen
// socket and every pipe write end so workers see intake EOF
// (spec.md §4.8).
func (a *Acceptor) Run(shutdown *atomic.Bool) {
	for {
		timeoutMillis := 1000
		if shutdown.Load() {
			timeoutMillis = 50
		}
		events, err := a.reactor.Wait(timeoutMillis)
		if err != nil {
			log.Printf("[acceptor] reactor wait: %v", err)
		} else if len(events) > 0 {
			a.drainAccept()
		}
		if shutdown.Load() {
			break
		}
	}
	a.shutdown()
}

// drainAccept accepts in a tight loop until the queue reports
// WouldBlock, per spec.md §4.8.
func (a *Acceptor) drainAccept() {
	for {
		fd, ok, err := netutil.Accept(a.listenFD)
		if err != nil {
			log.Printf("[acceptor] accept: %v", err)
			return
		}
		if !ok {
			return
		}
		a.dispatch(fd)
	}
}

func (a *Acceptor) dispatch(fd int) {
	target := a.next % uint64(len(a.pipes))
	a.next++
	if err := a.pipes[target].WriteFDValue(fd); err != nil {
		log.Printf("[acceptor] write fd to worker %d pipe: %v", target, err)
		netutil.Close(fd)
	}
}

func (a *Acceptor) shutdown() {
	if err := netutil.Close(a.listenFD); err != nil {
		log.Printf("[acceptor] close listen socket: %v", err)
	}
	for _, p := range a.pipes {
		if err := p.CloseWriteEnd(); err != nil {
			log.Printf("[acceptor] close pipe write end: %v", err)
		}
	}
	if err := a.reactor.Close(); err != nil {
		log.Printf("[acceptor] close reactor: %v", err)
	}
}
