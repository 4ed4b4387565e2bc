package netutil

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// FDPipe is an anonymous pipe used by the acceptor to hand accepted
// file descriptors to a single worker, encoding each as a raw 4-byte
// native-endian int (spec.md §4.2 — valid only within one process,
// which is exactly the acceptor/worker relationship here).
type FDPipe struct {
	ReadFD  int
	WriteFD int
}

// NewFDPipe creates a pipe whose read end is non-blocking, ready to be
// registered with a worker's reactor.
func NewFDPipe() (*FDPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], 0); err != nil {
		return nil, fmt.Errorf("netutil: pipe2: %w", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("netutil: set read end nonblocking: %w", err)
	}
	return &FDPipe{ReadFD: fds[0], WriteFD: fds[1]}, nil
}

// WriteFDValue writes fd's 4-byte native-endian encoding to the pipe's
// write end. Called by the acceptor; may block briefly if the pipe
// buffer is full, which backpressures the acceptor rather than losing
// the descriptor.
func (p *FDPipe) WriteFDValue(fd int) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], uint32(fd))
	n, err := unix.Write(p.WriteFD, buf[:])
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("netutil: short write of fd payload (%d of 4 bytes)", n)
	}
	return nil
}

// ReadFDValues drains every complete 4-byte fd payload currently
// available on the pipe's non-blocking read end. On EWOULDBLOCK it
// returns the fds collected so far with a nil error (nothing more to
// read right now); a zero-length read (peer closed) returns them with
// an error that ErrPipeClosed recognizes, so the worker can react to
// acceptor shutdown.
func (p *FDPipe) ReadFDValues(scratch []byte) (fds []int, err error) {
	if len(scratch) < 4 {
		scratch = make([]byte, 4096)
	}
	for {
		n, rerr := unix.Read(p.ReadFD, scratch)
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
				return fds, nil
			}
			return fds, rerr
		}
		if n == 0 {
			return fds, errPipeClosed
		}
		for off := 0; off+4 <= n; off += 4 {
			fds = append(fds, int(binary.NativeEndian.Uint32(scratch[off:off+4])))
		}
	}
}

// CloseReadEnd closes the pipe's read end (worker side).
func (p *FDPipe) CloseReadEnd() error { return unix.Close(p.ReadFD) }

// CloseWriteEnd closes the pipe's write end (acceptor side); workers
// observe subsequent reads as EOF.
func (p *FDPipe) CloseWriteEnd() error { return unix.Close(p.WriteFD) }

var errPipeClosed = fmt.Errorf("netutil: fd pipe closed by peer")

// ErrPipeClosed reports whether err is the sentinel ReadFDValues
// returns when the acceptor has closed its write end.
func ErrPipeClosed(err error) bool { return err == errPipeClosed }
