package httpwire

import (
	"errors"
	"strconv"
)

// MaxResponseBuffer is the hard cap a Bytes or Stream response body may
// grow the write buffer to before WriteResponse gives up and returns
// ErrResponseTooLarge, resolving spec.md §9's open question on
// streaming bodies larger than the write buffer: grow on demand, up to
// this cap, then fail closed.
const MaxResponseBuffer = 1 << 20

// ErrResponseTooLarge is returned when a Bytes or Stream body would
// exceed MaxResponseBuffer.
var ErrResponseTooLarge = errors.New("httpwire: response body exceeds MaxResponseBuffer")

// BodyKind selects how Response.Body is interpreted.
type BodyKind uint8

const (
	BodyEmpty BodyKind = iota
	BodyBytes
	BodyStream
)

// Chunk is one yielded piece of a streamed body.
type Chunk = []byte

// Response is the handler-facing result: a status code, content type,
// custom headers, and a body variant.
type Response struct {
	Status      int
	ContentType string
	Headers     []Header
	Keepalive   bool

	Kind   BodyKind
	Bytes  []byte
	Stream func(yield func(Chunk) bool)
}

var statusLines = map[int]string{
	200: "200 OK",
	201: "201 Created",
	204: "204 No Content",
	301: "301 Moved Permanently",
	302: "302 Found",
	304: "304 Not Modified",
	400: "400 Bad Request",
	401: "401 Unauthorized",
	403: "403 Forbidden",
	404: "404 Not Found",
	405: "405 Method Not Allowed",
	408: "408 Request Timeout",
	409: "409 Conflict",
	413: "413 Payload Too Large",
	429: "429 Too Many Requests",
	500: "500 Internal Server Error",
	501: "501 Not Implemented",
	502: "502 Bad Gateway",
	503: "503 Service Unavailable",
}

func statusLine(code int) string {
	if s, ok := statusLines[code]; ok {
		return s
	}
	return "200 OK"
}

// WriteResponse formats resp into dst starting at offset 0, growing
// dst whenever the output does not fit it. Appending a Bytes body or
// Stream chunks fails with ErrResponseTooLarge once the buffer would
// exceed MaxResponseBuffer; the head is appended without that check.
// It returns the final buffer (which may be dst itself, grown, or
// unchanged) and the number of bytes written.
func WriteResponse(dst []byte, resp *Response) ([]byte, int, error) {
	buf := dst[:0]
	buf = append(buf, "HTTP/1.1 "...)
	buf = append(buf, statusLine(resp.Status)...)
	buf = append(buf, "\r\n"...)
	buf = append(buf, "Server: chopin\r\n"...)

	ct := resp.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	buf = append(buf, "Content-Type: "...)
	buf = append(buf, ct...)
	buf = append(buf, "\r\n"...)

	switch resp.Kind {
	case BodyEmpty:
		buf = append(buf, "Content-Length: 0\r\n"...)
	case BodyBytes:
		buf = append(buf, "Content-Length: "...)
		buf = strconv.AppendInt(buf, int64(len(resp.Bytes)), 10)
		buf = append(buf, "\r\n"...)
	case BodyStream:
		buf = append(buf, "Transfer-Encoding: chunked\r\n"...)
	}

	if resp.Keepalive {
		buf = append(buf, "Connection: keep-alive\r\n"...)
	} else {
		buf = append(buf, "Connection: close\r\n"...)
	}

	for _, h := range resp.Headers {
		buf = append(buf, h.Name...)
		buf = append(buf, ": "...)
		buf = append(buf, h.Value...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "\r\n"...)

	switch resp.Kind {
	case BodyBytes:
		var err error
		buf, err = appendGrowing(buf, resp.Bytes)
		if err != nil {
			return dst, 0, err
		}
	case BodyStream:
		var streamErr error
		resp.Stream(func(chunk Chunk) bool {
			var sizeBuf [2 + 16 + 2]byte
			n := copy(sizeBuf[:], strconv.AppendUint(sizeBuf[:0], uint64(len(chunk)), 16))
			sizeBuf[n] = '\r'
			sizeBuf[n+1] = '\n'
			var err error
			buf, err = appendGrowing(buf, sizeBuf[:n+2])
			if err != nil {
				streamErr = err
				return false
			}
			buf, err = appendGrowing(buf, chunk)
			if err != nil {
				streamErr = err
				return false
			}
			buf, err = appendGrowing(buf, crlf)
			if err != nil {
				streamErr = err
				return false
			}
			return true
		})
		if streamErr != nil {
			return dst, 0, streamErr
		}
		var err error
		buf, err = appendGrowing(buf, []byte("0\r\n\r\n"))
		if err != nil {
			return dst, 0, err
		}
	}

	return buf, len(buf), nil
}

// appendGrowing is append(dst, src...) but refuses to grow dst past
// MaxResponseBuffer.
func appendGrowing(dst, src []byte) ([]byte, error) {
	if len(dst)+len(src) > MaxResponseBuffer {
		return dst, ErrResponseTooLarge
	}
	return append(dst, src...), nil
}
