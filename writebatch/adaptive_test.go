package writebatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mevdschee/chopin/pgconn"
)

func TestAdaptiveDelay_IncreasesUnderLoad(t *testing.T) {
	conn := &fakeExecer{}
	config := DefaultConfig()
	config.WriteThreshold = 50
	config.MetricsInterval = 1
	config.InitialDelayMs = 1

	m := New(conn, config)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.StartAdaptiveAdjustment(ctx)

	initialDelay := m.GetCurrentDelay()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.Enqueue(context.Background(), "test:adaptive",
				"INSERT INTO widgets (name) VALUES ($1)",
				[]pgconn.BindParamValue{pgconn.Text("n")}, 0, nil)
		}(i)
	}
	wg.Wait()

	m.forceThroughputUpdate()
	m.adjustDelay()

	finalDelay := m.GetCurrentDelay()
	if finalDelay <= initialDelay {
		t.Errorf("Expected delay to increase under load: initial=%.2fms, final=%.2fms", initialDelay, finalDelay)
	}
}

func TestAdaptiveDelay_DecreasesUnderLowLoad(t *testing.T) {
	conn := &fakeExecer{}
	config := DefaultConfig()
	config.WriteThreshold = 1000
	config.MetricsInterval = 1

	m := New(conn, config)
	defer m.Close()

	m.currentDelay.Store(50000) // 50ms in microseconds
	m.opsPerSecond.Store(5)

	initialDelay := m.GetCurrentDelay()
	m.adjustDelay()
	finalDelay := m.GetCurrentDelay()

	if finalDelay >= initialDelay {
		t.Errorf("Expected delay to decrease under low load: initial=%.2fms, final=%.2fms", initialDelay, finalDelay)
	}
}

func TestAdaptiveDelay_RespectsBounds(t *testing.T) {
	conn := &fakeExecer{}
	config := DefaultConfig()
	config.MaxDelayMs = 10
	config.MinDelayMs = 1
	config.WriteThreshold = 100

	m := New(conn, config)
	defer m.Close()

	m.opsPerSecond.Store(200)
	m.currentDelay.Store(9000) // 9ms, should increase but cap at 10ms
	m.adjustDelay()

	if delay := m.GetCurrentDelay(); delay > float64(config.MaxDelayMs) {
		t.Errorf("Delay exceeded max: %.2fms > %dms", delay, config.MaxDelayMs)
	}

	m.opsPerSecond.Store(10)
	m.currentDelay.Store(1500) // 1.5ms, should decrease but cap at 1ms
	m.adjustDelay()

	if delay := m.GetCurrentDelay(); delay < float64(config.MinDelayMs) {
		t.Errorf("Delay below min: %.2fms < %dms", delay, config.MinDelayMs)
	}
}

func TestAdaptiveDelay_StableInMiddleRange(t *testing.T) {
	conn := &fakeExecer{}
	config := DefaultConfig()
	config.WriteThreshold = 100

	m := New(conn, config)
	defer m.Close()

	initialDelay := int64(5000) // 5ms
	m.currentDelay.Store(initialDelay)
	m.opsPerSecond.Store(75) // between 50 and 100

	m.adjustDelay()

	if finalDelay := m.currentDelay.Load(); finalDelay != initialDelay {
		t.Errorf("Expected delay to remain stable in middle range: initial=%d, final=%d", initialDelay, finalDelay)
	}
}

func TestAdaptiveDelay_ThroughputTracking(t *testing.T) {
	conn := &fakeExecer{}
	config := DefaultConfig()
	config.MetricsInterval = 1

	m := New(conn, config)
	defer m.Close()

	for i := 0; i < 50; i++ {
		m.Enqueue(context.Background(), "test:throughput",
			"INSERT INTO widgets (name) VALUES ($1)",
			[]pgconn.BindParamValue{pgconn.Text("t")}, 0, nil)
	}

	m.forceThroughputUpdate()

	if ops := m.GetOpsPerSecond(); ops == 0 {
		t.Error("Expected non-zero throughput")
	}
}

func TestAdaptiveDelay_ContextCancellation(t *testing.T) {
	conn := &fakeExecer{}
	m := New(conn, DefaultConfig())
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		m.StartAdaptiveAdjustment(ctx)
		done <- true
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Adaptive adjustment did not stop after context cancellation")
	}
}

func TestAdaptiveDelay_AdaptiveStepMultiplier(t *testing.T) {
	conn := &fakeExecer{}
	config := DefaultConfig()
	config.WriteThreshold = 100
	config.AdaptiveStep = 2.0

	m := New(conn, config)
	defer m.Close()

	initialDelay := int64(4000) // 4ms
	m.currentDelay.Store(initialDelay)

	m.opsPerSecond.Store(200)
	m.adjustDelay()

	expectedIncrease := int64(float64(initialDelay) * 2.0)
	if m.currentDelay.Load() != expectedIncrease {
		t.Errorf("Expected delay to double: got %d, want %d", m.currentDelay.Load(), expectedIncrease)
	}

	m.opsPerSecond.Store(10)
	m.adjustDelay()

	expectedDecrease := int64(float64(expectedIncrease) / 2.0)
	if m.currentDelay.Load() != expectedDecrease {
		t.Errorf("Expected delay to halve: got %d, want %d", m.currentDelay.Load(), expectedDecrease)
	}
}
