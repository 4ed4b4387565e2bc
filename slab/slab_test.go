package slab

import (
	"testing"
	"time"
)

func TestAllocateFreeInvariant(t *testing.T) {
	s := New(4, 0, 0)
	if s.Capacity() != 4 {
		t.Fatalf("Capacity = %d, want 4", s.Capacity())
	}

	var idxs []int32
	for i := 0; i < 4; i++ {
		idx, conn, ok := s.Allocate(int32(100+i), time.Now())
		if !ok {
			t.Fatalf("Allocate %d failed", i)
		}
		if conn.State != Accepted {
			t.Fatalf("new record state = %v, want Accepted", conn.State)
		}
		idxs = append(idxs, idx)
		if s.ActiveCount()+s.FreeCount() != s.Capacity() {
			t.Fatalf("invariant broken: active=%d free=%d cap=%d", s.ActiveCount(), s.FreeCount(), s.Capacity())
		}
	}

	if _, _, ok := s.Allocate(999, time.Now()); ok {
		t.Fatal("expected Allocate to fail once capacity is exhausted")
	}

	s.Free(idxs[0])
	if s.ActiveCount()+s.FreeCount() != s.Capacity() {
		t.Fatal("invariant broken after Free")
	}
	if s.FreeCount() != 1 {
		t.Fatalf("FreeCount = %d, want 1", s.FreeCount())
	}

	idx, conn, ok := s.Allocate(500, time.Now())
	if !ok || idx != idxs[0] {
		t.Fatalf("expected reallocation to reuse freed index %d, got %d (ok=%v)", idxs[0], idx, ok)
	}
	if conn.FD != 500 {
		t.Fatalf("FD = %d, want 500", conn.FD)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	s := New(2, 0, 0)
	idx, _, _ := s.Allocate(1, time.Now())
	s.Free(idx)
	before := s.FreeCount()
	s.Free(idx)
	if s.FreeCount() != before {
		t.Fatalf("double free changed FreeCount: %d -> %d", before, s.FreeCount())
	}
}

func TestAllocateResetsCursorsNotBufferCapacity(t *testing.T) {
	s := New(1, 128, 256)
	idx, conn, ok := s.Allocate(1, time.Now())
	if !ok {
		t.Fatal("Allocate failed")
	}
	conn.ParsePos = 50
	conn.WriteTotal = 10
	conn.WriteSent = 5
	conn.RequestsServed = 3
	s.Free(idx)

	_, conn2, ok := s.Allocate(2, time.Now())
	if !ok {
		t.Fatal("Allocate (reuse) failed")
	}
	if conn2.ParsePos != 0 || conn2.WriteTotal != 0 || conn2.WriteSent != 0 || conn2.RequestsServed != 0 {
		t.Fatalf("cursors not reset: %+v", conn2)
	}
	if len(conn2.ReadBuf) != 128 || len(conn2.WriteBuf) != 256 {
		t.Fatalf("buffer capacity changed across reuse: read=%d write=%d", len(conn2.ReadBuf), len(conn2.WriteBuf))
	}
}

func TestForEachActiveSkipsFree(t *testing.T) {
	s := New(3, 0, 0)
	idxA, _, _ := s.Allocate(1, time.Now())
	_, _, _ = s.Allocate(2, time.Now())
	s.Free(idxA)

	var seen int
	s.ForEachActive(func(idx int32, c *Conn) {
		seen++
		if c.State == Free {
			t.Fatalf("ForEachActive visited a free record at %d", idx)
		}
	})
	if seen != 1 {
		t.Fatalf("ForEachActive visited %d records, want 1", seen)
	}
}
