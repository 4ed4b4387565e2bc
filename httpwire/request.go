// Package httpwire implements a zero-copy HTTP/1.1 request parser and
// an allocation-free response formatter that write directly into a
// connection's fixed-size read/write buffers.
//
// Grounded on the byte-scanning technique in
// original_source/chopin-core/src/fast_http.rs (parse_request_path,
// has_complete_request, wants_close, pre-serialized response
// assembly), translated into Go slices over a caller-owned buffer
// instead of Rust's borrow-checked views.
package httpwire

import "errors"

// ErrIncomplete means the buffer does not yet hold a full request; the
// caller must read more bytes and retry.
var ErrIncomplete = errors.New("httpwire: incomplete request")

// ErrInvalidFormat means the buffer's bytes are not parseable.
var ErrInvalidFormat = errors.New("httpwire: invalid request format")

// ErrTooLarge means a fixed-capacity limit (header count, header
// count-or-size) would be exceeded.
var ErrTooLarge = errors.New("httpwire: request exceeds parser limits")

// MaxHeaders is the fixed header-array capacity (spec.md §4.4).
const MaxHeaders = 16

// Header is one (name, value) pair, aliasing the request's read
// buffer.
type Header struct {
	Name  []byte
	Value []byte
}

// Request is a zero-copy view into the connection's read buffer.
// Every []byte field aliases that buffer and is only valid until the
// buffer is reused (i.e. until the connection's next Reading state).
type Request struct {
	Method  []byte
	Path    []byte
	Query   []byte
	Version []byte

	Headers     [MaxHeaders]Header
	HeaderCount int

	Body []byte
}

// Header looks up a header by case-insensitive name, returning ok=false
// if absent.
func (r *Request) Header(name string) ([]byte, bool) {
	for i := 0; i < r.HeaderCount; i++ {
		if equalFoldASCII(r.Headers[i].Name, name) {
			return r.Headers[i].Value, true
		}
	}
	return nil, false
}

func equalFoldASCII(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		bc, sc := b[i], s[i]
		if 'A' <= bc && bc <= 'Z' {
			bc += 'a' - 'A'
		}
		if 'A' <= sc && sc <= 'Z' {
			sc += 'a' - 'A'
		}
		if bc != sc {
			return false
		}
	}
	return true
}

// WantsClose reports whether the request asked for the connection to
// close after this response: HTTP/1.0 defaults to close unless
// "Connection: keep-alive" is present; HTTP/1.1 defaults to keep-alive
// unless "Connection: close" is present (spec.md §4.4 edge cases).
func (r *Request) WantsClose() bool {
	conn, ok := r.Header("Connection")
	if ok {
		return equalFoldASCII(conn, "close")
	}
	return string(r.Version) == "HTTP/1.0"
}
