package worker

import (
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mevdschee/chopin/netutil"
)

// localAddrOf resolves the "host:port" a listening socket's kernel-
// assigned ephemeral port bound to, via getsockname(2).
func localAddrOf(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", err
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", fmt.Errorf("unexpected sockaddr type %T", sa)
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d", in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3], in4.Port), nil
}

func TestAcceptorRoundRobinsAcrossPipes(t *testing.T) {
	listenFD, err := netutil.ListenTCP([4]byte{127, 0, 0, 1}, 0)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	addr, err := localAddrOf(listenFD)
	if err != nil {
		t.Fatalf("resolve bound address: %v", err)
	}

	pipeA, err := netutil.NewFDPipe()
	if err != nil {
		t.Fatalf("NewFDPipe: %v", err)
	}
	pipeB, err := netutil.NewFDPipe()
	if err != nil {
		t.Fatalf("NewFDPipe: %v", err)
	}
	t.Cleanup(func() {
		pipeA.CloseReadEnd()
		pipeB.CloseReadEnd()
	})

	a, err := NewAcceptor(listenFD, []*netutil.FDPipe{pipeA, pipeB})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}

	var shutdown atomic.Bool
	done := make(chan struct{})
	go func() {
		a.Run(&shutdown)
		close(done)
	}()

	const n = 4
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	t.Cleanup(func() {
		for _, c := range conns {
			c.Close()
		}
	})

	scratch := make([]byte, 64)
	var gotA, gotB int
	deadline := time.Now().Add(2 * time.Second)
	for gotA+gotB < n && time.Now().Before(deadline) {
		if fds, _ := pipeA.ReadFDValues(scratch); len(fds) > 0 {
			gotA += len(fds)
		}
		if fds, _ := pipeB.ReadFDValues(scratch); len(fds) > 0 {
			gotB += len(fds)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if gotA != n/2 || gotB != n/2 {
		t.Fatalf("got %d to pipeA, %d to pipeB, want %d/%d (round robin)", gotA, gotB, n/2, n/2)
	}

	shutdown.Store(true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor did not shut down")
	}
}
