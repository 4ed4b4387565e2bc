package httpwire

import (
	"bytes"
	"strconv"
)

// Parse scans buf for one complete HTTP/1.1 request starting at offset
// 0. On success it populates req (whose slices alias buf) and returns
// the number of bytes consumed. It returns ErrIncomplete if buf does
// not yet hold a full request, ErrInvalidFormat for malformed input,
// and ErrTooLarge if the header cap is exceeded.
func Parse(buf []byte, req *Request) (consumed int, err error) {
	lineEnd := bytes.Index(buf, crlf)
	if lineEnd < 0 {
		return 0, ErrIncomplete
	}
	requestLine := buf[:lineEnd]

	sp1 := bytes.IndexByte(requestLine, ' ')
	if sp1 < 0 {
		return 0, ErrInvalidFormat
	}
	rest := requestLine[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 < 0 {
		return 0, ErrInvalidFormat
	}
	req.Method = requestLine[:sp1]
	target := rest[:sp2]
	req.Version = rest[sp2+1:]

	if q := bytes.IndexByte(target, '?'); q >= 0 {
		req.Path = target[:q]
		req.Query = target[q+1:]
	} else {
		req.Path = target
		req.Query = nil
	}

	pos := lineEnd + 2
	req.HeaderCount = 0
	for {
		idx := bytes.Index(buf[pos:], crlf)
		if idx < 0 {
			return 0, ErrIncomplete
		}
		if idx == 0 {
			pos += 2
			break
		}
		line := buf[pos : pos+idx]
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return 0, ErrInvalidFormat
		}
		if req.HeaderCount >= MaxHeaders {
			return 0, ErrTooLarge
		}
		name := line[:colon]
		value := trimLeadingSpace(line[colon+1:])
		req.Headers[req.HeaderCount] = Header{Name: name, Value: value}
		req.HeaderCount++
		pos += idx + 2
	}

	contentLength, hasContentLength, clErr := findContentLength(req)
	if clErr != nil {
		return 0, clErr
	}
	isChunked := hasChunkedEncoding(req)

	switch {
	case isChunked:
		bodyEnd, bodyLen, derr := decodeChunkedInPlace(buf, pos)
		if derr != nil {
			return 0, derr
		}
		if bodyEnd < 0 {
			return 0, ErrIncomplete
		}
		req.Body = buf[pos : pos+bodyLen]
		return bodyEnd, nil
	case hasContentLength:
		if len(buf) < pos+contentLength {
			return 0, ErrIncomplete
		}
		req.Body = buf[pos : pos+contentLength]
		return pos + contentLength, nil
	default:
		req.Body = nil
		return pos, nil
	}
}

var crlf = []byte("\r\n")

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	return b[i:]
}

func findContentLength(req *Request) (int, bool, error) {
	v, ok := req.Header("Content-Length")
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(string(v))
	if err != nil || n < 0 {
		return 0, false, ErrInvalidFormat
	}
	return n, true, nil
}

func hasChunkedEncoding(req *Request) bool {
	v, ok := req.Header("Transfer-Encoding")
	if !ok {
		return false
	}
	return equalFoldASCII(v, "chunked")
}

// decodeChunkedInPlace decodes a chunked body starting at bodyStart,
// compacting chunk payloads over the chunk-size lines they followed so
// the result is a contiguous body slice within the same buffer — no
// allocation, per spec.md §4.4. It returns bodyEnd (total bytes
// consumed including the final CRLF) and bodyLen (the decoded body's
// length), or bodyEnd=-1 if the buffer does not yet hold the full
// chunked body.
func decodeChunkedInPlace(buf []byte, bodyStart int) (bodyEnd int, bodyLen int, err error) {
	read := bodyStart
	write := bodyStart

	for {
		lineEnd := bytes.Index(buf[read:], crlf)
		if lineEnd < 0 {
			return -1, 0, nil
		}
		sizeLine := buf[read : read+lineEnd]
		if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, err := parseHexSize(sizeLine)
		if err != nil {
			return 0, 0, ErrInvalidFormat
		}
		read += lineEnd + 2

		if size == 0 {
			// Trailing CRLF after the zero-length chunk.
			if len(buf) < read+2 {
				return -1, 0, nil
			}
			if !bytes.Equal(buf[read:read+2], crlf) {
				return 0, 0, ErrInvalidFormat
			}
			read += 2
			return read, write - bodyStart, nil
		}

		if len(buf) < read+size+2 {
			return -1, 0, nil
		}
		if write != read {
			copy(buf[write:write+size], buf[read:read+size])
		}
		write += size
		read += size
		if !bytes.Equal(buf[read:read+2], crlf) {
			return 0, 0, ErrInvalidFormat
		}
		read += 2
	}
}

func parseHexSize(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, ErrInvalidFormat
	}
	n := 0
	for _, c := range b {
		var digit int
		switch {
		case c >= '0' && c <= '9':
			digit = int(c - '0')
		case c >= 'a' && c <= 'f':
			digit = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			digit = int(c-'A') + 10
		default:
			return 0, ErrInvalidFormat
		}
		n = n*16 + digit
	}
	return n, nil
}
