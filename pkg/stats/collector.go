package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpRead            OperationType = "read"
	OpWrite           OperationType = "write"
	OpAppend          OperationType = "append"
	OpInsert          OperationType = "insert"
	OpSearch          OperationType = "search"
	OpSync            OperationType = "sync"
	OpAlloc           OperationType = "alloc"
	OpFree            OperationType = "free"
	OpGrow            OperationType = "grow"
	OpSnapshotWrite   OperationType = "snapshot_write"
	OpSnapshotRestore OperationType = "snapshot_restore"
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex // Only used for timestamp updates

	// Usage metrics
	poolChunks        atomic.Uint64
	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	// Error tracking
	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex // Only used when creating new error entries

	// Performance metrics
	growCount  atomic.Uint64
	shiftCount atomic.Uint64

	// Snapshot restore statistics
	restoreStats RestoreStats

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex // Only used when creating new latency trackers
}

// RestoreStats tracks statistics related to snapshot restore
type RestoreStats struct {
	RecordsRestored   atomic.Uint64
	BytesRestored     atomic.Uint64
	CorruptedPayloads atomic.Uint64
	RestoreDuration   atomic.Int64 // nanoseconds
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds (zero means unset)
}

// NewCollector creates a new statistics collector
func NewCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	counter := c.getOrCreateCounter(op)
	counter.Add(1)

	// Update last operation time (less critical, can use mutex)
	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	// Track operation count
	counter := c.getOrCreateCounter(op)
	counter.Add(1)

	// Update last operation time
	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()

	// Update latency statistics
	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	// Update max (using compare-and-swap pattern)
	for {
		current := tracker.max.Load()
		if latencyNs <= current {
			break // No need to update
		}
		if tracker.max.CompareAndSwap(current, latencyNs) {
			break // Successfully updated
		}
		// If we get here, someone else updated it between our load and CAS, so we retry
	}

	// Update min (using compare-and-swap pattern)
	for {
		current := tracker.min.Load()
		if current == 0 {
			// First value
			if tracker.min.CompareAndSwap(0, latencyNs) {
				break
			}
			continue // Race condition, try again
		}
		if latencyNs >= current {
			break // No need to update
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break // Successfully updated
		}
		// If we get here, someone else updated it between our load and CAS, so we retry
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackPoolSize records the current number of chunks handed out by a pool
func (c *AtomicCollector) TrackPoolSize(chunks uint64) {
	c.poolChunks.Store(chunks)
}

// TrackGrow increments the pool growth counter
func (c *AtomicCollector) TrackGrow() {
	c.growCount.Add(1)
}

// TrackShift increments the insert shift counter
func (c *AtomicCollector) TrackShift() {
	c.shiftCount.Add(1)
}

// StartRestore initializes snapshot restore statistics
func (c *AtomicCollector) StartRestore() time.Time {
	// Reset restore stats
	c.restoreStats.RecordsRestored.Store(0)
	c.restoreStats.BytesRestored.Store(0)
	c.restoreStats.CorruptedPayloads.Store(0)
	c.restoreStats.RestoreDuration.Store(0)

	return time.Now()
}

// FinishRestore completes snapshot restore statistics
func (c *AtomicCollector) FinishRestore(startTime time.Time, recordsRestored, bytesRestored, corruptedPayloads uint64) {
	c.restoreStats.RecordsRestored.Store(recordsRestored)
	c.restoreStats.BytesRestored.Store(bytesRestored)
	c.restoreStats.CorruptedPayloads.Store(corruptedPayloads)
	c.restoreStats.RestoreDuration.Store(time.Since(startTime).Nanoseconds())
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	// Add operation counters
	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	// Add timing information
	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	// Add usage metrics
	stats["pool_chunks_in_use"] = c.poolChunks.Load()
	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()
	stats["grow_count"] = c.growCount.Load()
	stats["shift_count"] = c.shiftCount.Load()

	// Add error statistics
	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	// Add snapshot restore statistics
	restoreStats := map[string]interface{}{
		"records_restored":   c.restoreStats.RecordsRestored.Load(),
		"bytes_restored":     c.restoreStats.BytesRestored.Load(),
		"corrupted_payloads": c.restoreStats.CorruptedPayloads.Load(),
	}

	restoreDuration := c.restoreStats.RestoreDuration.Load()
	if restoreDuration > 0 {
		restoreStats["restore_duration_ms"] = restoreDuration / int64(time.Millisecond)
	}
	stats["restore"] = restoreStats

	// Add latency statistics
	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}

		// Only include min/max if we have values
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	allStats := c.GetStats()
	filtered := make(map[string]interface{})

	for key, value := range allStats {
		// Add entries that start with the prefix
		if len(prefix) == 0 || startsWith(key, prefix) {
			filtered[key] = value
		}
	}

	return filtered
}

// getOrCreateCounter gets or creates an atomic counter for the operation
func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	// Try read lock first (fast path)
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		// Slow path with write lock
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

// getOrCreateLatencyTracker gets or creates a latency tracker for the operation
func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	// Try read lock first (fast path)
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		// Slow path with write lock
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}

// startsWith checks if a string starts with a prefix
func startsWith(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return s[:len(prefix)] == prefix
}
