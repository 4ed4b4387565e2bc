// Package writebatch implements automatic batching of write operations
// (INSERT, UPDATE, DELETE) issued against a PG connection, to improve
// write throughput under load.
//
// Callers pick a batch key and a window in milliseconds:
//
//	m.Enqueue(ctx, "orders:insert", "INSERT INTO orders (...) VALUES (...)", params, 10, nil)
//
// How it works:
//  1. A write is added to a batch group keyed by its batch key.
//  2. The first write into an empty group starts a timer for the
//     requested window.
//  3. Additional writes join the group until the timer fires or
//     MaxBatchSize is reached.
//  4. The group executes together (mixed statements inside one
//     transaction, or identical statements back to back reusing the
//     connection's own statement cache), one Exec per write, and each
//     caller receives its individual result.
//
// A window of 0 executes immediately, bypassing batching entirely.
package writebatch

import (
	"sync"
	"time"

	"github.com/mevdschee/chopin/pgconn"
)

// WriteRequest represents a single write operation to be batched.
type WriteRequest struct {
	Query           string
	Params          []pgconn.BindParamValue
	ResultChan      chan WriteResult
	EnqueuedAt      time.Time
	OnBatchComplete func(batchSize int) // Called when the batch executes, to update connection state
	HasReturning    bool                // True if the query has a RETURNING clause
}

// WriteResult contains the result of a write operation.
type WriteResult struct {
	AffectedRows    int64
	BatchSize       int      // Number of operations in the batch that executed this request
	ReturningValues []string // Reserved for a future RETURNING-aware executor; unpopulated today
	Error           error
}

// BatchGroup holds a group of write requests sharing a batch key.
type BatchGroup struct {
	BatchKey  string
	Requests  []*WriteRequest
	FirstSeen time.Time
	mu        sync.Mutex
	timer     *time.Timer
}

// Config holds configuration for the write batch manager and its
// adaptive delay controller.
type Config struct {
	MaxBatchSize int // Maximum number of operations per batch (1000 default)

	// WriteThreshold is the ops/sec above which the adaptive controller
	// widens the batching window, and half of which it narrows below.
	WriteThreshold uint64
	// AdaptiveStep multiplies (or divides) the current delay on each
	// adjustment tick.
	AdaptiveStep float64
	// MinDelayMs/MaxDelayMs bound the adaptive delay.
	MinDelayMs int64
	MaxDelayMs int64
	// InitialDelayMs seeds the delay a Manager starts with, before the
	// first adjustment tick.
	InitialDelayMs int64
	// MetricsInterval is how often, in seconds, the adaptive controller
	// samples throughput and adjusts the delay.
	MetricsInterval int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:    DefaultMaxBatchSize,
		WriteThreshold:  1000,
		AdaptiveStep:    1.5,
		MinDelayMs:      1,
		MaxDelayMs:      50,
		InitialDelayMs:  1,
		MetricsInterval: 5,
	}
}

// DefaultMaxBatchSize is the default maximum batch size.
const DefaultMaxBatchSize = 1000
