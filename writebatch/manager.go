package writebatch

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mevdschee/chopin/pgconn"
)

// Execer is the slice of *pgconn.Conn that the batch executor needs: a
// parameterized write and transaction control. pgconn.Conn is
// synchronous and has no context-aware variant, so batched writes run
// to completion once dispatched; ctx only bounds how long a caller
// waits for its result.
type Execer interface {
	Exec(sql string, params ...pgconn.BindParamValue) (string, error)
	Begin() error
	Commit() error
	Rollback() error
}

// Manager handles batching of write operations over one PG connection.
// A Manager is not safe to share across connections: it owns exactly
// the one Execer passed to New, matching the one-connection-per-worker
// model the rest of this module uses.
type Manager struct {
	groups     sync.Map // map[string]*BatchGroup
	config     Config
	conn       Execer
	closed     atomic.Bool
	batchCount atomic.Int64

	opsPerSecond atomic.Uint64
	currentDelay atomic.Int64 // microseconds
	windowOps    atomic.Uint64
}

// BatchCount returns the total number of batches executed since the manager was created.
func (m *Manager) BatchCount() int64 {
	return m.batchCount.Load()
}

// New creates a new write batch manager over conn.
func New(conn Execer, config Config) *Manager {
	m := &Manager{
		conn:   conn,
		config: config,
	}
	m.currentDelay.Store(config.InitialDelayMs * 1000)
	return m
}

// Enqueue adds a write operation to the batch queue and waits for its result.
// batchMs is the maximum wait time in milliseconds (0 = execute immediately).
func (m *Manager) Enqueue(ctx context.Context, batchKey, query string, params []pgconn.BindParamValue, batchMs int, onBatchComplete func(int)) WriteResult {
	hasReturning := hasReturningClause(query)
	log.Printf("[writebatch] enqueue: query=%q, numParams=%d, batchMs=%d, hasReturning=%v", query, len(params), batchMs, hasReturning)

	if m.closed.Load() {
		return WriteResult{Error: ErrManagerClosed}
	}

	// If no wait time specified, execute immediately (no batching)
	if batchMs == 0 {
		result := m.executeImmediate(query, params)
		if onBatchComplete != nil {
			onBatchComplete(result.BatchSize)
		}
		return result
	}

	req := &WriteRequest{
		Query:           query,
		Params:          params,
		ResultChan:      make(chan WriteResult, 1),
		EnqueuedAt:      time.Now(),
		OnBatchComplete: onBatchComplete,
		HasReturning:    hasReturning,
	}

	// Get or create batch group
	groupInterface, loaded := m.groups.Load(batchKey)
	if !loaded {
		newGroup := &BatchGroup{
			BatchKey:  batchKey,
			Requests:  make([]*WriteRequest, 0, m.config.MaxBatchSize),
			FirstSeen: time.Now(),
		}
		groupInterface, loaded = m.groups.LoadOrStore(batchKey, newGroup)
	}
	group := groupInterface.(*BatchGroup)

	group.mu.Lock()
	isFirst := len(group.Requests) == 0
	if group.Requests == nil {
		// Group has already been drained by executeBatch; retry with a
		// fresh lookup so this request lands in the next group.
		group.mu.Unlock()
		return m.Enqueue(ctx, batchKey, query, params, batchMs, onBatchComplete)
	}
	group.Requests = append(group.Requests, req)
	currentSize := len(group.Requests)

	if isFirst {
		delay := time.Duration(batchMs) * time.Millisecond
		group.timer = time.AfterFunc(delay, func() {
			m.executeBatch(batchKey, group)
		})
		group.mu.Unlock()
	} else if currentSize >= m.config.MaxBatchSize {
		timer := group.timer
		m.groups.Delete(batchKey)
		group.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		go m.executeBatch(batchKey, group)
	} else {
		group.mu.Unlock()
	}

	select {
	case result := <-req.ResultChan:
		return result
	case <-ctx.Done():
		return WriteResult{Error: ctx.Err()}
	case <-time.After(30 * time.Second):
		return WriteResult{Error: ErrTimeout}
	}
}

// executeImmediate executes a query immediately without batching.
func (m *Manager) executeImmediate(query string, params []pgconn.BindParamValue) WriteResult {
	result := m.executeWrite(query, params)
	m.updateThroughput(1)
	return result
}

// Close marks the manager closed, then sleeps a fixed 200ms so batches
// already executing can finish; it does not track or wait on them.
func (m *Manager) Close() error {
	m.closed.Store(true)
	time.Sleep(200 * time.Millisecond)
	return nil
}

// hasReturningClause checks if a query contains a RETURNING clause.
func hasReturningClause(query string) bool {
	q := strings.ToUpper(query)
	return strings.Contains(q, " RETURNING ")
}

// parseAffectedRows extracts the row count from a PG command tag, e.g.
// "INSERT 0 5" -> 5, "UPDATE 3" -> 3, "SELECT 10" -> 10.
func parseAffectedRows(tag string) int64 {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return 0
	}
	last := fields[len(fields)-1]
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
