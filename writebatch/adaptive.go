package writebatch

import (
	"context"
	"time"

	"github.com/mevdschee/chopin/metrics"
)

// StartAdaptiveAdjustment runs the adaptive delay adjustment loop: every
// MetricsInterval seconds it folds the batches completed during that
// window into an ops/sec figure, then adjusts the delay against
// WriteThreshold.
func (m *Manager) StartAdaptiveAdjustment(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.config.MetricsInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.forceThroughputUpdate()
			m.adjustDelay()
		}
	}
}

// updateThroughput folds a completed batch's size into the current
// sampling window; forceThroughputUpdate drains the window into
// opsPerSecond.
func (m *Manager) updateThroughput(batchSize int) {
	m.windowOps.Add(uint64(batchSize))
}

// forceThroughputUpdate drains the current sampling window into
// opsPerSecond immediately, instead of waiting for the next tick.
// Tests in this package call it directly; production code only needs
// StartAdaptiveAdjustment's ticker.
func (m *Manager) forceThroughputUpdate() {
	interval := m.config.MetricsInterval
	if interval <= 0 {
		interval = 1
	}
	ops := m.windowOps.Swap(0) / uint64(interval)
	m.opsPerSecond.Store(ops)
}

// adjustDelay adjusts the batch delay based on current throughput
func (m *Manager) adjustDelay() {
	currentOps := m.opsPerSecond.Load()
	currentDelay := m.currentDelay.Load()

	// Update gauge metrics
	metrics.WriteOpsPerSecond.Set(float64(currentOps))
	metrics.WriteCurrentDelay.Set(float64(currentDelay) / 1000.0)

	threshold := m.config.WriteThreshold

	if currentOps > threshold {
		// High write rate - increase delay to batch more
		newDelay := int64(float64(currentDelay) * m.config.AdaptiveStep)
		maxDelay := m.config.MaxDelayMs * 1000 // to microseconds
		if newDelay > maxDelay {
			newDelay = maxDelay
		}
		if newDelay != currentDelay {
			m.currentDelay.Store(newDelay)
			metrics.WriteDelayAdjustments.WithLabelValues("increase").Inc()
		}
	} else if currentOps < threshold/2 && currentOps > 0 {
		// Low write rate - decrease delay for lower latency
		newDelay := int64(float64(currentDelay) / m.config.AdaptiveStep)
		minDelay := m.config.MinDelayMs * 1000 // to microseconds
		if newDelay < minDelay {
			newDelay = minDelay
		}
		if newDelay != currentDelay {
			m.currentDelay.Store(newDelay)
			metrics.WriteDelayAdjustments.WithLabelValues("decrease").Inc()
		}
	}
	// If ops is between threshold/2 and threshold, keep current delay
}

// GetCurrentDelay returns the current delay in milliseconds
func (m *Manager) GetCurrentDelay() float64 {
	return float64(m.currentDelay.Load()) / 1000.0
}

// GetOpsPerSecond returns the current throughput
func (m *Manager) GetOpsPerSecond() uint64 {
	return m.opsPerSecond.Load()
}
