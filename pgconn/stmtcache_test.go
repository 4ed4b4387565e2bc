package pgconn

import "testing"

func TestStmtCacheMissThenHit(t *testing.T) {
	c := newStmtCache()

	if _, ok := c.lookup("select 1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	name := c.reserveName()
	if name != "s0" {
		t.Fatalf("reserveName = %q, want s0", name)
	}
	c.store("select 1", statement{name: name})

	st, ok := c.lookup("select 1")
	if !ok || st.name != "s0" {
		t.Fatalf("lookup after store: st=%+v ok=%v", st, ok)
	}

	name2 := c.reserveName()
	if name2 != "s1" {
		t.Fatalf("reserveName (second) = %q, want s1", name2)
	}
}

func TestStmtCacheClear(t *testing.T) {
	c := newStmtCache()
	c.store("select 1", statement{name: c.reserveName()})
	c.clear()
	if _, ok := c.lookup("select 1"); ok {
		t.Fatal("expected miss after clear")
	}
}

func TestStmtCacheDistinctTextDistinctEntries(t *testing.T) {
	c := newStmtCache()
	c.store("select 1", statement{name: "s0"})
	c.store("select 2", statement{name: "s1"})

	st1, ok := c.lookup("select 1")
	if !ok || st1.name != "s0" {
		t.Fatalf("lookup select 1: %+v, %v", st1, ok)
	}
	st2, ok := c.lookup("select 2")
	if !ok || st2.name != "s1" {
		t.Fatalf("lookup select 2: %+v, %v", st2, ok)
	}
}
