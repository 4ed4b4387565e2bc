package pgconn

import (
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/mevdschee/chopin/pgwire"
)

// statement is one entry in a connection's implicit prepared-statement
// cache: the server-side statement name, the SQL text it was parsed
// from, and the parameter type OIDs the backend reported when it was
// first parsed.
type statement struct {
	name      string
	sql       string
	paramOIDs []uint32
	columns   []pgwire.ColumnDescriptor
}

// stmtCache maps SQL text to an already-Parse'd server-side statement,
// keyed by an FNV-1a hash of the query text. Each entry also keeps the
// text it was parsed from; a lookup whose text differs from the entry's
// (a hash collision) is a miss, so the query re-Parses under a fresh
// name, which is safe (just wasteful).
//
// There is no eviction: per-connection statement counts are bounded by
// the application's own query variety, and unbounded growth is an
// accepted tradeoff for avoiding the extra round-trip of de-allocating
// statements. ClearStatementCache gives a collaborator a manual reset.
type stmtCache struct {
	mu      sync.Mutex
	entries map[uint64]statement
	next    int
}

func newStmtCache() *stmtCache {
	return &stmtCache{entries: make(map[uint64]statement)}
}

func hashSQL(sql string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(sql))
	return h.Sum64()
}

// lookup returns the cached statement for sql, if any.
func (c *stmtCache) lookup(sql string) (statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entries[hashSQL(sql)]
	if ok && st.sql != sql {
		return statement{}, false
	}
	return st, ok
}

// reserveName allocates the next "s<N>" server statement name without
// yet recording it as cached (the caller records it once Parse
// succeeds, via store).
func (c *stmtCache) reserveName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return "s" + strconv.Itoa(n)
}

func (c *stmtCache) store(sql string, st statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.sql = sql
	c.entries[hashSQL(sql)] = st
}

// clear drops every cached statement name. It does not issue Close
// messages to the server; callers that need the server-side statements
// deallocated too should reconnect instead.
func (c *stmtCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]statement)
}
