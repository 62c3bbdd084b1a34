// ABOUTME: ChunkPool telemetry metrics interface and implementation for tracking slab allocator operations
// ABOUTME: Provides instrumentation for alloc/free latencies, block growth, and chunk utilization

package chunkpool

import (
	"context"
	"time"

	"github.com/ethanwerner/sfl/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ChunkPoolMetrics defines the interface for chunk pool telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type ChunkPoolMetrics interface {
	telemetry.ComponentMetrics

	// RecordAlloc records metrics for a chunk allocation. grew reports
	// whether the allocation forced the pool to add a block.
	RecordAlloc(ctx context.Context, duration time.Duration, grew bool)

	// RecordFree records metrics for returning a chunk to the pool.
	RecordFree(ctx context.Context, duration time.Duration)

	// RecordGrowth records the pool's size after adding a block.
	RecordGrowth(ctx context.Context, totalBlocks int64, totalChunks int64)
}

// chunkPoolMetrics implements ChunkPoolMetrics using the telemetry interface.
type chunkPoolMetrics struct {
	tel telemetry.Telemetry
}

// NewChunkPoolMetrics creates a new chunk pool metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewChunkPoolMetrics(tel telemetry.Telemetry) ChunkPoolMetrics {
	if tel == nil {
		return &noopChunkPoolMetrics{}
	}
	return &chunkPoolMetrics{tel: tel}
}

// NewNoopChunkPoolMetrics creates a no-op chunk pool metrics implementation for testing.
func NewNoopChunkPoolMetrics() ChunkPoolMetrics {
	return &noopChunkPoolMetrics{}
}

// RecordAlloc records allocation metrics.
func (m *chunkPoolMetrics) RecordAlloc(ctx context.Context, duration time.Duration, grew bool) {
	// Distinguish allocations served from the free list from those that
	// had to add a block
	status := "pooled"
	if grew {
		status = "grew"
	}

	m.tel.RecordHistogram(ctx, "sfl.chunkpool.alloc.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChunkPool),
		attribute.String(telemetry.AttrStatus, status),
	)

	m.tel.RecordCounter(ctx, "sfl.chunkpool.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChunkPool),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeAlloc),
		attribute.String(telemetry.AttrStatus, status),
	)
}

// RecordFree records deallocation metrics.
func (m *chunkPoolMetrics) RecordFree(ctx context.Context, duration time.Duration) {
	m.tel.RecordHistogram(ctx, "sfl.chunkpool.free.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChunkPool),
	)

	m.tel.RecordCounter(ctx, "sfl.chunkpool.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChunkPool),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeFree),
	)
}

// RecordGrowth records pool growth metrics.
func (m *chunkPoolMetrics) RecordGrowth(ctx context.Context, totalBlocks int64, totalChunks int64) {
	m.tel.RecordCounter(ctx, "sfl.chunkpool.growth.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChunkPool),
	)

	m.tel.RecordHistogram(ctx, "sfl.chunkpool.blocks", float64(totalBlocks),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChunkPool),
	)

	m.tel.RecordHistogram(ctx, "sfl.chunkpool.capacity.chunks", float64(totalChunks),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChunkPool),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *chunkPoolMetrics) Close() error {
	// No resources to clean up for this implementation
	return nil
}

// noopChunkPoolMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopChunkPoolMetrics struct{}

// RecordAlloc is a no-op.
func (n *noopChunkPoolMetrics) RecordAlloc(ctx context.Context, duration time.Duration, grew bool) {
	// No-op
}

// RecordFree is a no-op.
func (n *noopChunkPoolMetrics) RecordFree(ctx context.Context, duration time.Duration) {
	// No-op
}

// RecordGrowth is a no-op.
func (n *noopChunkPoolMetrics) RecordGrowth(ctx context.Context, totalBlocks int64, totalChunks int64) {
	// No-op
}

// Close is a no-op.
func (n *noopChunkPoolMetrics) Close() error {
	return nil
}
