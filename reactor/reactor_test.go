package reactor

import (
	"os"
	"testing"
	"time"
)

func TestAddWaitReadable(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	rfd := int(readEnd.Fd())
	if err := r.Add(rfd, 42, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := writeEnd.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	events, err := r.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Token != 42 || !events[0].Readable {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestWaitTimeoutReturnsNoEvents(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	if err := r.Add(int(readEnd.Fd()), 7, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	start := time.Now()
	events, err := r.Wait(50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Wait took too long: %v", time.Since(start))
	}
}

func TestDeleteThenWaitSeesNothing(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	rfd := int(readEnd.Fd())
	if err := r.Add(rfd, 1, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Delete(rfd); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deleting an already-gone fd must not error (ENOENT is non-fatal
	// per spec.md §4.1).
	if err := r.Delete(rfd); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	if _, err := writeEnd.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	events, err := r.Wait(50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events after Delete, want 0", len(events))
	}
}
