package worker

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mevdschee/chopin/httpwire"
	"github.com/mevdschee/chopin/netutil"
	"github.com/mevdschee/chopin/pgconn"
	"github.com/mevdschee/chopin/router"
	"github.com/mevdschee/chopin/slab"
	"github.com/mevdschee/chopin/writebatch"
)

// socketpair returns two connected, non-blocking AF_UNIX stream fds,
// standing in for an accepted TCP connection's two ends without
// needing a real network listener.
func socketpair(t *testing.T) (serverFD, clientFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestWorker(t *testing.T, r *router.Router, slabCapacity int) *Worker {
	t.Helper()
	pipe, err := netutil.NewFDPipe()
	if err != nil {
		t.Fatalf("NewFDPipe: %v", err)
	}
	t.Cleanup(func() {
		pipe.CloseReadEnd()
	})
	w, err := New(Config{
		ID:                       0,
		Intake:                   pipe,
		Router:                   r,
		IdleTimeout:              time.Minute,
		MaxRequestsPerConnection: 10000,
		SlabCapacity:             slabCapacity,
		ReadBufferSize:           4096,
		WriteBufferSize:          4096,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		w.reactor.Close()
	})
	return w
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	time.Sleep(10 * time.Millisecond)
	buf := make([]byte, 4096)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(buf[:n])
}

// textHandler adapts a request-only function to the Handler type, for
// tests that don't exercise params or the PG connection.
func textHandler(fn func(req *httpwire.Request) *httpwire.Response) Handler {
	return func(req *httpwire.Request, params []router.Param, pg *pgconn.Conn, wb *writebatch.Manager) *httpwire.Response {
		return fn(req)
	}
}

func TestWorkerServesSimpleRequestThenCloses(t *testing.T) {
	r := router.New()
	r.Add("GET", "/hello", textHandler(func(req *httpwire.Request) *httpwire.Response {
		return &httpwire.Response{
			Status:      200,
			ContentType: "text/plain",
			Kind:        httpwire.BodyBytes,
			Bytes:       []byte("hi"),
		}
	}))

	w := newTestWorker(t, r, 4)
	serverFD, clientFD := socketpair(t)

	now := time.Now()
	w.acceptFD(serverFD, now)
	if w.slab.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", w.slab.ActiveCount())
	}

	req := "GET /hello HTTP/1.1\r\nConnection: close\r\n\r\n"
	if _, err := unix.Write(clientFD, []byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn := w.slab.Get(0)
	w.stateReading(0, conn, now)

	got := readAll(t, clientFD)
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("response = %q", got)
	}
	if !strings.Contains(got, "Connection: close\r\n") {
		t.Fatalf("expected Connection: close, got %q", got)
	}
	if !strings.HasSuffix(got, "hi") {
		t.Fatalf("expected body %q suffix, got %q", "hi", got)
	}
	if w.slab.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0 after close", w.slab.ActiveCount())
	}
}

func TestWorkerKeepAliveServesSecondRequestOnSameConn(t *testing.T) {
	calls := 0
	r := router.New()
	r.Add("GET", "/ping", textHandler(func(req *httpwire.Request) *httpwire.Response {
		calls++
		return &httpwire.Response{Status: 200, Kind: httpwire.BodyBytes, Bytes: []byte("pong")}
	}))

	w := newTestWorker(t, r, 4)
	serverFD, clientFD := socketpair(t)
	now := time.Now()
	w.acceptFD(serverFD, now)
	conn := w.slab.Get(0)

	req := "GET /ping HTTP/1.1\r\n\r\n"
	unix.Write(clientFD, []byte(req))
	w.stateReading(0, conn, now)

	first := readAll(t, clientFD)
	if !strings.Contains(first, "Connection: keep-alive\r\n") {
		t.Fatalf("expected keep-alive on first response, got %q", first)
	}
	if conn.State != slab.Reading {
		t.Fatalf("expected conn back in Reading state after keep-alive response, got %v", conn.State)
	}
	if w.slab.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1 (connection stays open)", w.slab.ActiveCount())
	}

	unix.Write(clientFD, []byte(req))
	w.stateReading(0, conn, now)
	second := readAll(t, clientFD)
	if !strings.Contains(second, "pong") {
		t.Fatalf("second response = %q", second)
	}
	if calls != 2 {
		t.Fatalf("handler called %d times, want 2", calls)
	}
}

func TestWorkerKeepAliveCapForcesClose(t *testing.T) {
	r := router.New()
	r.Add("GET", "/x", textHandler(func(req *httpwire.Request) *httpwire.Response {
		return &httpwire.Response{Status: 200, Kind: httpwire.BodyEmpty}
	}))

	w := newTestWorker(t, r, 4)
	w.maxRequests = 1
	serverFD, clientFD := socketpair(t)
	now := time.Now()
	w.acceptFD(serverFD, now)
	conn := w.slab.Get(0)

	unix.Write(clientFD, []byte("GET /x HTTP/1.1\r\n\r\n"))
	w.stateReading(0, conn, now)

	got := readAll(t, clientFD)
	if !strings.Contains(got, "Connection: close\r\n") {
		t.Fatalf("expected forced close at the keep-alive cap, got %q", got)
	}
	if w.slab.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", w.slab.ActiveCount())
	}
}

func TestWorkerHandlerPanicProduces500(t *testing.T) {
	r := router.New()
	r.Add("GET", "/boom", textHandler(func(req *httpwire.Request) *httpwire.Response {
		panic("kaboom")
	}))

	w := newTestWorker(t, r, 4)
	serverFD, clientFD := socketpair(t)
	now := time.Now()
	w.acceptFD(serverFD, now)
	conn := w.slab.Get(0)

	unix.Write(clientFD, []byte("GET /boom HTTP/1.1\r\nConnection: close\r\n\r\n"))
	w.stateReading(0, conn, now)

	got := readAll(t, clientFD)
	if !strings.HasPrefix(got, "HTTP/1.1 500 Internal Server Error\r\n") {
		t.Fatalf("response = %q", got)
	}
}

func TestWorkerUnmatchedRouteReturns404(t *testing.T) {
	w := newTestWorker(t, router.New(), 4)
	serverFD, clientFD := socketpair(t)
	now := time.Now()
	w.acceptFD(serverFD, now)
	conn := w.slab.Get(0)

	unix.Write(clientFD, []byte("GET /nope HTTP/1.1\r\nConnection: close\r\n\r\n"))
	w.stateReading(0, conn, now)

	got := readAll(t, clientFD)
	if !strings.HasPrefix(got, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("response = %q", got)
	}
}

func TestWorkerSlabExhaustionClosesNewConnection(t *testing.T) {
	w := newTestWorker(t, router.New(), 1)
	now := time.Now()

	serverFD1, _ := socketpair(t)
	w.acceptFD(serverFD1, now)
	if w.slab.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", w.slab.ActiveCount())
	}

	serverFD2, clientFD2 := socketpair(t)
	w.acceptFD(serverFD2, now)
	if w.slab.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1 (second connection refused)", w.slab.ActiveCount())
	}

	// The refused fd was closed; the peer should observe EOF.
	buf := make([]byte, 16)
	n, err := unix.Read(clientFD2, buf)
	if n != 0 || err != nil {
		t.Fatalf("expected EOF on refused connection's peer, got n=%d err=%v", n, err)
	}
}

func TestWorkerIdleSweepClosesStaleConnections(t *testing.T) {
	w := newTestWorker(t, router.New(), 4)
	w.idleTimeout = 30 * time.Second
	serverFD, _ := socketpair(t)

	past := time.Now().Add(-time.Hour)
	w.acceptFD(serverFD, past)

	w.lastSweepSecond = past.Unix() // force the next sweepIdle call to run
	w.sweepIdle(time.Now())

	if w.slab.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0 after idle sweep", w.slab.ActiveCount())
	}
}
