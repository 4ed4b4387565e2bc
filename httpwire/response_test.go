package httpwire

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteResponseBytesBody(t *testing.T) {
	resp := &Response{
		Status:      200,
		ContentType: "text/plain",
		Keepalive:   true,
		Kind:        BodyBytes,
		Bytes:       []byte("hello"),
	}
	buf := make([]byte, 0, 256)
	out, n, err := WriteResponse(buf, resp)
	if err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got := string(out[:n])
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("missing status line: %q", got)
	}
	if !strings.Contains(got, "Content-Length: 5\r\n") {
		t.Fatalf("missing Content-Length: %q", got)
	}
	if !strings.Contains(got, "Connection: keep-alive\r\n") {
		t.Fatalf("missing keep-alive: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\nhello") {
		t.Fatalf("missing body: %q", got)
	}
}

func TestWriteResponseUnknownStatusFallsBackTo200(t *testing.T) {
	resp := &Response{Status: 999, Kind: BodyEmpty}
	out, n, err := WriteResponse(make([]byte, 0, 128), resp)
	if err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if !strings.HasPrefix(string(out[:n]), "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("got %q", out[:n])
	}
}

func TestWriteResponseStreamChunked(t *testing.T) {
	chunks := [][]byte{[]byte("Wiki"), []byte("pedia")}
	resp := &Response{
		Status: 200,
		Kind:   BodyStream,
		Stream: func(yield func(Chunk) bool) {
			for _, c := range chunks {
				if !yield(c) {
					return
				}
			}
		},
	}
	out, n, err := WriteResponse(make([]byte, 0, 256), resp)
	if err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got := string(out[:n])
	if !strings.Contains(got, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("missing chunked header: %q", got)
	}
	if !strings.Contains(got, "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n") {
		t.Fatalf("missing chunk framing: %q", got)
	}
}

func TestWriteResponseCustomHeaders(t *testing.T) {
	resp := &Response{
		Status: 201,
		Kind:   BodyEmpty,
		Headers: []Header{
			{Name: []byte("X-Request-Id"), Value: []byte("abc-123")},
		},
	}
	out, n, err := WriteResponse(make([]byte, 0, 256), resp)
	if err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if !bytes.Contains(out[:n], []byte("X-Request-Id: abc-123\r\n")) {
		t.Fatalf("got %q", out[:n])
	}
}

func TestWriteResponseRespectsMaxResponseBuffer(t *testing.T) {
	resp := &Response{
		Status: 200,
		Kind:   BodyStream,
		Stream: func(yield func(Chunk) bool) {
			big := make([]byte, MaxResponseBuffer)
			yield(big)
		},
	}
	_, _, err := WriteResponse(make([]byte, 0, 1024), resp)
	if err != ErrResponseTooLarge {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
}
