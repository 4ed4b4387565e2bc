package netutil

import (
	"os"
	"testing"
)

func TestWritevGathersBuffers(t *testing.T) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	bufs := [][]byte{[]byte("HTTP/1.1 200 OK\r\n"), []byte("Content-Length: 2\r\n\r\n"), []byte("ok")}
	n, err := Writev(int(writeEnd.Fd()), bufs)
	if err != nil {
		t.Fatalf("Writev: %v", err)
	}
	want := len(bufs[0]) + len(bufs[1]) + len(bufs[2])
	if n != want {
		t.Fatalf("Writev wrote %d bytes, want %d", n, want)
	}

	got := make([]byte, want)
	if _, err := readEnd.Read(got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok" {
		t.Fatalf("got %q", got)
	}
}

func TestWritevSkipsEmptyBuffers(t *testing.T) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	n, err := Writev(int(writeEnd.Fd()), [][]byte{nil, []byte("a"), {}, []byte("b")})
	if err != nil {
		t.Fatalf("Writev: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestWritevAllEmptyIsNoop(t *testing.T) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	n, err := Writev(int(writeEnd.Fd()), [][]byte{nil, {}})
	if err != nil {
		t.Fatalf("Writev: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}
