package writebatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mevdschee/chopin/pgconn"
)

// TestValidation_ConcurrentBatches exercises several independent batch
// keys running at once, the way a worker with several hot routes would
// drive the same Manager concurrently.
func TestValidation_ConcurrentBatches(t *testing.T) {
	conn := &fakeExecer{}
	cfg := DefaultConfig()
	cfg.InitialDelayMs = 20
	manager := New(conn, cfg)
	defer manager.Close()

	ctx := context.Background()
	var wg sync.WaitGroup

	for batchType := 0; batchType < 3; batchType++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(bt, idx int) {
				defer wg.Done()
				query := fmt.Sprintf("INSERT INTO widgets (name, kind) VALUES ($1, 'kind%d')", bt)
				batchKey := fmt.Sprintf("insert_kind_%d", bt)
				result := manager.Enqueue(ctx, batchKey, query,
					[]pgconn.BindParamValue{pgconn.Text(fmt.Sprintf("val%d", idx))}, 15, nil)
				if result.Error != nil {
					t.Errorf("Insert failed: %v", result.Error)
				}
			}(batchType, i)
		}
	}

	wg.Wait()

	if got := conn.execs(); got != 30 {
		t.Errorf("Expected 30 execs, got %d", got)
	}
}

// TestValidation_HighConcurrency stress tests with many concurrent operations.
func TestValidation_HighConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping high concurrency test in short mode")
	}

	conn := &fakeExecer{}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 500
	manager := New(conn, cfg)
	defer manager.Close()

	ctx := context.Background()
	numOps := 1000
	var wg sync.WaitGroup
	var successCount atomic.Int64
	var errorCount atomic.Int64

	start := time.Now()
	for i := 0; i < numOps; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result := manager.Enqueue(ctx, "insert", "INSERT INTO widgets (name) VALUES ($1)",
				[]pgconn.BindParamValue{pgconn.Text(fmt.Sprintf("val%d", idx))}, 5, nil)
			if result.Error != nil {
				errorCount.Add(1)
			} else {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	t.Logf("Completed %d operations in %v (%.0f ops/sec)", numOps, duration, float64(numOps)/duration.Seconds())

	if errorCount.Load() > 0 {
		t.Errorf("Expected 0 errors, got %d", errorCount.Load())
	}
	if got := conn.execs(); got != numOps {
		t.Errorf("Expected %d execs, got %d", numOps, got)
	}
}

// TestValidation_BatchSizeLimit ensures more ops than MaxBatchSize still
// all complete, across however many groups they get split into.
func TestValidation_BatchSizeLimit(t *testing.T) {
	conn := &fakeExecer{}
	cfg := DefaultConfig()
	cfg.InitialDelayMs = 50
	cfg.MaxBatchSize = 10
	manager := New(conn, cfg)
	defer manager.Close()

	ctx := context.Background()
	numOps := 25
	var wg sync.WaitGroup

	for i := 0; i < numOps; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result := manager.Enqueue(ctx, "insert", "INSERT INTO widgets (name) VALUES ($1)",
				[]pgconn.BindParamValue{pgconn.Text(fmt.Sprintf("val%d", idx))}, 100, nil)
			if result.Error != nil {
				t.Errorf("Insert failed: %v", result.Error)
			}
		}(i)
	}
	wg.Wait()

	if got := conn.execs(); got != numOps {
		t.Errorf("Expected %d execs, got %d", numOps, got)
	}
}

// TestValidation_AdaptiveDelayBounds ensures the adaptive controller
// keeps the delay within [MinDelayMs, MaxDelayMs] under sustained slow
// load, driven through the real StartAdaptiveAdjustment ticker rather
// than calling adjustDelay directly.
func TestValidation_AdaptiveDelayBounds(t *testing.T) {
	conn := &fakeExecer{}
	cfg := Config{
		InitialDelayMs:  50,
		MaxDelayMs:      100,
		MinDelayMs:      10,
		MaxBatchSize:    1000,
		WriteThreshold:  100,
		AdaptiveStep:    2.0,
		MetricsInterval: 1,
	}
	manager := New(conn, cfg)
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.StartAdaptiveAdjustment(ctx)

	for i := 0; i < 20; i++ {
		manager.Enqueue(context.Background(), "insert", "INSERT INTO widgets (name) VALUES ($1)",
			[]pgconn.BindParamValue{pgconn.Text(fmt.Sprintf("val%d", i))}, 0, nil)
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(1200 * time.Millisecond)

	delay := manager.GetCurrentDelay()
	if delay < float64(cfg.MinDelayMs) || delay > float64(cfg.MaxDelayMs) {
		t.Errorf("Delay %fms outside bounds [%d, %d]", delay, cfg.MinDelayMs, cfg.MaxDelayMs)
	}
}

// TestValidation_MetricsAccuracy validates throughput tracking against a
// known send rate.
func TestValidation_MetricsAccuracy(t *testing.T) {
	conn := &fakeExecer{}
	cfg := DefaultConfig()
	cfg.MetricsInterval = 1
	manager := New(conn, cfg)
	defer manager.Close()

	ctx := context.Background()
	numOps := 100
	interval := 10 * time.Millisecond
	start := time.Now()

	for i := 0; i < numOps; i++ {
		manager.Enqueue(ctx, "insert", "INSERT INTO widgets (name) VALUES ($1)",
			[]pgconn.BindParamValue{pgconn.Text(fmt.Sprintf("val%d", i))}, 0, nil)
		time.Sleep(interval)
	}
	duration := time.Since(start)

	manager.forceThroughputUpdate()

	actualOpsPerSec := manager.GetOpsPerSecond()
	expectedOpsPerSec := float64(numOps) / duration.Seconds()

	t.Logf("Expected: %.0f ops/sec, Actual: %d ops/sec", expectedOpsPerSec, actualOpsPerSec)

	if float64(actualOpsPerSec) < expectedOpsPerSec*0.5 || float64(actualOpsPerSec) > expectedOpsPerSec*1.5 {
		t.Errorf("Throughput tracking inaccurate: expected ~%.0f, got %d", expectedOpsPerSec, actualOpsPerSec)
	}
}
