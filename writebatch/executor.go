package writebatch

import (
	"github.com/mevdschee/chopin/pgconn"
)

// executeBatch executes a batch of write requests
func (m *Manager) executeBatch(batchKey string, group *BatchGroup) {
	// Check if manager is closed
	if m.closed.Load() {
		group.mu.Lock()
		requests := group.Requests
		group.mu.Unlock()
		for _, req := range requests {
			req.ResultChan <- WriteResult{Error: ErrManagerClosed}
		}
		return
	}

	group.mu.Lock()
	requests := group.Requests
	batchSize := len(requests)
	group.Requests = nil
	group.mu.Unlock()

	// Try to delete this group from the map (it might already be deleted if batch was full)
	m.groups.CompareAndDelete(batchKey, group)

	if batchSize == 0 {
		return
	}

	if batchSize == 1 {
		m.executeSingle(requests[0])
	} else {
		m.executeBatchedWrites(requests)
	}

	m.batchCount.Add(1)
	m.updateThroughput(batchSize)
	for _, req := range requests {
		if req.OnBatchComplete != nil {
			req.OnBatchComplete(batchSize)
		}
	}
}

// executeSingle executes a single write request
func (m *Manager) executeSingle(req *WriteRequest) {
	result := m.executeWrite(req.Query, req.Params)
	result.BatchSize = 1
	req.ResultChan <- result
}

// executeBatchedWrites executes multiple write requests
func (m *Manager) executeBatchedWrites(requests []*WriteRequest) {
	// Check if all queries are identical
	allSame := true
	firstQuery := requests[0].Query
	for _, req := range requests[1:] {
		if req.Query != firstQuery {
			allSame = false
			break
		}
	}

	if allSame {
		m.executeRepeatedBatch(requests)
	} else {
		m.executeTransactionBatch(requests)
	}
}

// executeRepeatedBatch runs identical queries back to back. It does not
// prepare its own statement the way the teacher's sql.DB-backed version
// did: conn.Exec already parses and caches the statement under its SQL
// text on first use (pgconn's per-connection statement cache, C12), so
// the second and later calls here skip re-Parse the same way an
// explicit Prepare would have.
func (m *Manager) executeRepeatedBatch(requests []*WriteRequest) {
	batchSize := len(requests)
	for _, req := range requests {
		result := m.executeWrite(req.Query, req.Params)
		result.BatchSize = batchSize
		req.ResultChan <- result
	}
}

// executeTransactionBatch executes mixed queries in a transaction
func (m *Manager) executeTransactionBatch(requests []*WriteRequest) {
	batchSize := len(requests)

	if err := m.conn.Begin(); err != nil {
		for _, req := range requests {
			req.ResultChan <- WriteResult{Error: err}
		}
		return
	}

	results := make([]WriteResult, len(requests))

	for i, req := range requests {
		tag, err := m.conn.Exec(req.Query, req.Params...)
		if err != nil {
			m.conn.Rollback()
			// Send error to all requests
			for j := range requests {
				requests[j].ResultChan <- WriteResult{Error: err}
			}
			return
		}
		results[i] = WriteResult{AffectedRows: parseAffectedRows(tag), BatchSize: batchSize}
	}

	if err := m.conn.Commit(); err != nil {
		for _, req := range requests {
			req.ResultChan <- WriteResult{Error: err}
		}
		return
	}

	// Send results to all requests
	for i, req := range requests {
		req.ResultChan <- results[i]
	}
}

// executeWrite executes a single write operation
func (m *Manager) executeWrite(query string, params []pgconn.BindParamValue) WriteResult {
	tag, err := m.conn.Exec(query, params...)
	if err != nil {
		return WriteResult{Error: err}
	}
	return WriteResult{AffectedRows: parseAffectedRows(tag)}
}
