// Package worker implements the reactor-driven HTTP core: the
// per-connection state machine described in spec.md §4.7 (Reading →
// Parsing → Writing → Closing), wired to the acceptor in acceptor.go
// (spec.md §4.8) over an anonymous pipe.
//
// No file in tqdbproxy drives connections this way (it hands each one
// to a goroutine and lets net.Conn/the runtime netpoller do the rest);
// this package is the from-scratch centerpiece of the module, built
// directly on reactor/slab/netutil/httpwire/router, logging with the
// teacher's bracketed-tag convention.
package worker

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/mevdschee/chopin/httpwire"
	"github.com/mevdschee/chopin/metrics"
	"github.com/mevdschee/chopin/netutil"
	"github.com/mevdschee/chopin/pgconn"
	"github.com/mevdschee/chopin/reactor"
	"github.com/mevdschee/chopin/router"
	"github.com/mevdschee/chopin/slab"
	"github.com/mevdschee/chopin/writebatch"
)

// Handler is the signature routes are registered with. pg is the
// worker's own PG connection (spec.md §5: one blocking connection per
// worker, no pool); it may be nil if the worker failed to connect and
// handlers must check for that themselves. wb batches writes over that
// same connection and is nil exactly when pg is nil.
type Handler func(req *httpwire.Request, params []router.Param, pg *pgconn.Conn, wb *writebatch.Manager) *httpwire.Response

// pipeToken is the reactor token reserved for the worker's intake
// pipe. Slab indices are always >= 0, so a negative token can never
// collide with one.
const pipeToken int64 = -1

// Config configures one worker.
type Config struct {
	ID                       int
	Intake                   *netutil.FDPipe // read end owned by this worker
	Router                   *router.Router
	PG                       pgconn.Config
	IdleTimeout              time.Duration
	MaxRequestsPerConnection uint64
	SlabCapacity             int
	ReadBufferSize           int
	WriteBufferSize          int
	WriteBatch               writebatch.Config
}

// Worker is one per-core event loop: readiness notifications
// (reactor), connection records (slab), request parsing and response
// formatting (httpwire), and route dispatch (router). Run executes on
// the calling goroutine; it does not lock an OS thread or set CPU
// affinity.
type Worker struct {
	id                 int
	intake             *netutil.FDPipe
	reactor            reactor.Reactor
	slab               *slab.Slab
	router             *router.Router
	pgCfg              pgconn.Config
	pg                 *pgconn.Conn
	wb                 *writebatch.Manager
	wbCfg              writebatch.Config
	idleTimeout        time.Duration
	maxRequests        uint64
	logTag             string
	lastSweepSecond int64
	intakeScratch   [4096]byte
	intakeClosed    bool
}

// New creates a Worker and registers its intake pipe with a fresh
// reactor instance.
func New(cfg Config) (*Worker, error) {
	r, err := reactor.New(cfg.SlabCapacity + 1)
	if err != nil {
		return nil, err
	}
	if err := r.Add(cfg.Intake.ReadFD, pipeToken, reactor.Readable); err != nil {
		r.Close()
		return nil, err
	}
	w := &Worker{
		id:              cfg.ID,
		intake:          cfg.Intake,
		reactor:         r,
		slab:            slab.New(cfg.SlabCapacity, cfg.ReadBufferSize, cfg.WriteBufferSize),
		router:          cfg.Router,
		pgCfg:           cfg.PG,
		wbCfg:           cfg.WriteBatch,
		idleTimeout:     cfg.IdleTimeout,
		maxRequests:     cfg.MaxRequestsPerConnection,
		logTag:          logTagFor(cfg.ID),
		lastSweepSecond: time.Now().Unix(),
	}
	return w, nil
}

func logTagFor(id int) string {
	return "[worker " + strconv.Itoa(id) + "]"
}

// Run drives the event loop until shutdown is observed and every
// in-flight connection has drained, per spec.md §4.7's shutdown
// sequence.
func (w *Worker) Run(shutdown *atomic.Bool) error {
	w.connectPG()
	defer func() {
		if w.wb != nil {
			w.wb.Close()
		}
		if w.pg != nil {
			w.pg.Close()
		}
	}()

	for {
		timeoutMillis := 1000
		if shutdown.Load() {
			timeoutMillis = 50
		}
		events, err := w.reactor.Wait(timeoutMillis)
		if err != nil {
			log.Printf("%s reactor wait: %v", w.logTag, err)
			continue
		}

		now := time.Now()
		w.sweepIdle(now)

		acceptingIntake := !w.intakeClosed && !shutdown.Load()
		for _, ev := range events {
			if ev.Token == pipeToken {
				w.drainIntake(now, acceptingIntake)
				continue
			}
			w.handleConnEvent(ev, now)
		}

		metrics.ConnectionsActive.WithLabelValues(strconv.Itoa(w.id)).Set(float64(w.slab.ActiveCount()))

		if (shutdown.Load() || w.intakeClosed) && w.slab.ActiveCount() == 0 {
			break
		}
	}

	w.shutdownSweep()
	if err := w.intake.CloseReadEnd(); err != nil {
		log.Printf("%s close intake: %v", w.logTag, err)
	}
	return w.reactor.Close()
}

func (w *Worker) connectPG() {
	conn, err := pgconn.Connect(context.Background(), w.pgCfg)
	if err != nil {
		var authErr *pgconn.AuthError
		if errors.As(err, &authErr) {
			metrics.SCRAMAuthFailures.WithLabelValues(strconv.Itoa(w.id)).Inc()
		}
		log.Printf("%s pg connect failed, handlers will see a nil connection: %v", w.logTag, err)
		return
	}
	w.pg = conn
	w.wb = writebatch.New(conn, w.wbCfg)
}

// drainIntake reads every pending fd from the intake pipe. When the
// worker is no longer accepting new connections (shutting down), fds
// are accepted off the pipe but closed immediately rather than
// registered, so the acceptor doesn't block writing to a full pipe.
func (w *Worker) drainIntake(now time.Time, accepting bool) {
	fds, err := w.intake.ReadFDValues(w.intakeScratch[:])
	for _, fd := range fds {
		if !accepting {
			netutil.Close(fd)
			continue
		}
		w.acceptFD(fd, now)
	}
	if err != nil {
		if netutil.ErrPipeClosed(err) {
			w.intakeClosed = true
			if derr := w.reactor.Delete(w.intake.ReadFD); derr != nil {
				log.Printf("%s deregister intake: %v", w.logTag, derr)
			}
			return
		}
		log.Printf("%s read intake: %v", w.logTag, err)
	}
}

func (w *Worker) acceptFD(fd int, now time.Time) {
	idx, conn, ok := w.slab.Allocate(int32(fd), now)
	if !ok {
		netutil.Close(fd)
		metrics.SlabAllocationFailures.WithLabelValues(strconv.Itoa(w.id)).Inc()
		return
	}
	conn.State = slab.Reading
	conn.CorrelationID = uuid.NewString()
	if err := w.reactor.Add(fd, int64(idx), reactor.Readable); err != nil {
		log.Printf("%s register conn fd: %v", w.logTag, err)
		w.slab.Free(idx)
		netutil.Close(fd)
		return
	}
	metrics.ConnectionsAccepted.WithLabelValues(strconv.Itoa(w.id)).Inc()
}

func (w *Worker) handleConnEvent(ev reactor.Event, now time.Time) {
	idx := int32(ev.Token)
	c := w.slab.Get(idx)
	if ev.Error || ev.HangUp {
		w.closeConn(idx, c)
		return
	}
	switch c.State {
	case slab.Reading:
		if ev.Readable {
			w.stateReading(idx, c, now)
		}
	case slab.Writing:
		if ev.Writable {
			w.stateWriting(idx, c)
		}
	}
}

// stateReading reads into read_buf[parse_pos..] and, as soon as a
// complete request is buffered, runs it through stateParsing
// (spec.md §4.7). It loops on its own rather than waiting for another
// readiness event when a read yields an incomplete request, since
// edge-triggered mode won't fire again for data the kernel already
// delivered this wakeup.
func (w *Worker) stateReading(idx int32, c *slab.Conn, now time.Time) {
	for {
		if c.ParsePos >= len(c.ReadBuf) {
			// Fixed-size read buffer exhausted without a complete
			// request: fail closed rather than growing unboundedly.
			metrics.HTTPParseErrors.WithLabelValues("too_large").Inc()
			w.closeConn(idx, c)
			return
		}
		n, err := unix.Read(int(c.FD), c.ReadBuf[c.ParsePos:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			w.closeConn(idx, c)
			return
		}
		if n == 0 {
			w.closeConn(idx, c)
			return
		}
		c.ParsePos += n
		c.LastActive = now.Unix()
		c.State = slab.Parsing

		var req httpwire.Request
		_, err = httpwire.Parse(c.ReadBuf[:c.ParsePos], &req)
		if err == httpwire.ErrIncomplete {
			c.State = slab.Reading
			continue
		}
		if err != nil {
			kind := "invalid_format"
			if err == httpwire.ErrTooLarge {
				kind = "too_large"
			}
			metrics.HTTPParseErrors.WithLabelValues(kind).Inc()
			w.closeConn(idx, c)
			return
		}

		w.respond(idx, c, &req)
		return
	}
}

// respond decides keep-alive, dispatches the request to its route
// handler, formats the response into write_buf, and transitions the
// connection to Writing (spec.md §4.7). HTTP pipelining is not
// supported (spec.md §5): any bytes past the one parsed request are
// discarded by resetting parse_pos to 0.
func (w *Worker) respond(idx int32, c *slab.Conn, req *httpwire.Request) {
	c.RequestsServed++
	c.KeepAlive = !req.WantsClose()
	if c.RequestsServed >= w.maxRequests {
		c.KeepAlive = false
	}

	resp := w.dispatch(req, c)
	resp.Keepalive = c.KeepAlive

	buf, n, werr := httpwire.WriteResponse(c.WriteBuf[:0], resp)
	if werr != nil {
		log.Printf("%s conn %s: format response: %v", w.logTag, c.CorrelationID, werr)
		w.closeConn(idx, c)
		return
	}
	c.WriteBuf = buf
	c.WriteTotal = n
	c.WriteSent = 0
	c.ParsePos = 0

	metrics.RequestsServed.WithLabelValues(strconv.Itoa(w.id)).Inc()

	c.State = slab.Writing
	if err := w.reactor.Modify(int(c.FD), int64(idx), reactor.Writable); err != nil {
		log.Printf("%s conn %s: register writable: %v", w.logTag, c.CorrelationID, err)
		w.closeConn(idx, c)
		return
	}
	w.stateWriting(idx, c)
}

// dispatch matches the route and invokes its handler behind a panic
// recovery boundary (spec.md §4.7's panic policy: a handler panic
// produces a 500 on this connection and does not terminate the
// worker).
func (w *Worker) dispatch(req *httpwire.Request, c *slab.Conn) (resp *httpwire.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s conn %s: handler panic: %v", w.logTag, c.CorrelationID, r)
			resp = &httpwire.Response{Status: 500, Kind: httpwire.BodyEmpty}
		}
	}()

	h, params, ok := w.router.Match(string(req.Method), string(req.Path))
	if !ok {
		return &httpwire.Response{Status: 404, Kind: httpwire.BodyEmpty}
	}
	fn, ok := h.(Handler)
	if !ok {
		log.Printf("%s conn %s: route handler has the wrong type %T", w.logTag, c.CorrelationID, h)
		return &httpwire.Response{Status: 500, Kind: httpwire.BodyEmpty}
	}
	resp = fn(req, params, w.pg, w.wb)
	if resp == nil {
		log.Printf("%s conn %s: route handler returned a nil response", w.logTag, c.CorrelationID)
		return &httpwire.Response{Status: 500, Kind: httpwire.BodyEmpty}
	}
	return resp
}

func (w *Worker) stateWriting(idx int32, c *slab.Conn) {
	for c.WriteSent < c.WriteTotal {
		n, err := netutil.Writev(int(c.FD), [][]byte{c.WriteBuf[c.WriteSent:c.WriteTotal]})
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			w.closeConn(idx, c)
			return
		}
		if n == 0 {
			return
		}
		c.WriteSent += n
	}

	if c.KeepAlive {
		c.State = slab.Reading
		c.WriteTotal = 0
		c.WriteSent = 0
		if err := w.reactor.Modify(int(c.FD), int64(idx), reactor.Readable); err != nil {
			log.Printf("%s conn %s: register readable: %v", w.logTag, c.CorrelationID, err)
			w.closeConn(idx, c)
		}
		return
	}
	w.closeConn(idx, c)
}

func (w *Worker) closeConn(idx int32, c *slab.Conn) {
	c.State = slab.Closing
	if err := w.reactor.Delete(int(c.FD)); err != nil {
		log.Printf("%s conn %s: deregister: %v", w.logTag, c.CorrelationID, err)
	}
	netutil.Close(int(c.FD))
	w.slab.Free(idx)
}

// sweepIdle closes every connection whose last activity predates
// IdleTimeout, run at most once per wall-clock second (spec.md §4.7).
func (w *Worker) sweepIdle(now time.Time) {
	second := now.Unix()
	if second == w.lastSweepSecond {
		return
	}
	w.lastSweepSecond = second
	cutoff := now.Add(-w.idleTimeout).Unix()
	var stale []int32
	w.slab.ForEachActive(func(idx int32, c *slab.Conn) {
		if c.LastActive < cutoff {
			stale = append(stale, idx)
		}
	})
	for _, idx := range stale {
		w.closeConn(idx, w.slab.Get(idx))
	}
}

// shutdownSweep closes every remaining connection once shutdown has
// drained the request queue (called after Run's loop exits, as a
// final safety net — Run doesn't actually exit until ActiveCount hits
// zero, so this is normally a no-op).
func (w *Worker) shutdownSweep() {
	var remaining []int32
	w.slab.ForEachActive(func(idx int32, c *slab.Conn) {
		remaining = append(remaining, idx)
	})
	for _, idx := range remaining {
		w.closeConn(idx, w.slab.Get(idx))
	}
}
