package pgwire

import "testing"

func TestMessageCompleteNeedsMoreBytes(t *testing.T) {
	// Declares a 6-byte body (length 10) but only 3 bytes are present.
	buf := []byte{TagQuery, 0, 0, 0, 10, 'a', 'b', 'c'}
	_, ok, err := MessageComplete(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a truncated message")
	}
}

func TestMessageCompleteExact(t *testing.T) {
	buf := Query(nil, "select 1")
	total, ok, err := MessageComplete(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || total != len(buf) {
		t.Fatalf("MessageComplete = %d, %v, want %d, true", total, ok, len(buf))
	}
}

func TestMessageCompleteRejectsOversize(t *testing.T) {
	buf := make([]byte, 5)
	buf[0] = TagQuery
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF
	buf[4] = 0xFF
	_, _, err := MessageComplete(buf)
	if err == nil {
		t.Fatal("expected error for an oversized declared length")
	}
}

func TestMessageCompleteRejectsShortLength(t *testing.T) {
	buf := []byte{TagQuery, 0, 0, 0, 2}
	_, _, err := MessageComplete(buf)
	if err == nil {
		t.Fatal("expected error for a length field below 4")
	}
}

func TestTrailingDataAfterOneMessage(t *testing.T) {
	first := Query(nil, "select 1")
	second := Sync(nil)
	buf := append(append([]byte{}, first...), second...)

	total, ok, err := MessageComplete(buf)
	if err != nil || !ok {
		t.Fatalf("MessageComplete(first): ok=%v err=%v", ok, err)
	}
	if total != len(first) {
		t.Fatalf("total = %d, want %d (should not consume the trailing Sync)", total, len(first))
	}

	rest := buf[total:]
	total2, ok, err := MessageComplete(rest)
	if err != nil || !ok {
		t.Fatalf("MessageComplete(second): ok=%v err=%v", ok, err)
	}
	if total2 != len(second) {
		t.Fatalf("total2 = %d, want %d", total2, len(second))
	}
}
