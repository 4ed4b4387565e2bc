package netutil

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MaxIovecs bounds the number of buffers a single Writev call gathers,
// per spec.md §4.2 ("a small fixed number of iovecs, e.g. 8").
const MaxIovecs = 8

// Writev gathers up to MaxIovecs non-empty buffers from bufs into one
// writev(2) syscall and returns the total bytes written. A short write
// (e.g. the socket's send buffer is full) returns n < total requested
// with a nil error; the caller is expected to retry the remainder on
// the next writable event, matching the connection's Writing state in
// the worker loop.
func Writev(fd int, bufs [][]byte) (int, error) {
	var nonEmpty [][]byte
	for _, b := range bufs {
		if len(b) > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	if len(nonEmpty) == 0 {
		return 0, nil
	}
	if len(nonEmpty) > MaxIovecs {
		nonEmpty = nonEmpty[:MaxIovecs]
	}

	iovs := make([]unix.Iovec, len(nonEmpty))
	for i, b := range nonEmpty {
		iovs[i].Base = &b[0]
		iovs[i].SetLen(len(b))
	}
	n, _, errno := unix.Syscall(unix.SYS_WRITEV, uintptr(fd), uintptr(unsafe.Pointer(&iovs[0])), uintptr(len(iovs)))
	if errno != 0 {
		return int(n), errno
	}
	return int(n), nil
}
