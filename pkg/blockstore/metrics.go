// ABOUTME: BlockStore telemetry metrics interface and implementation for tracking record file operations
// ABOUTME: Provides instrumentation for operation latencies, search probe counts, and insert shift volume

package blockstore

import (
	"context"
	"time"

	"github.com/ethanwerner/sfl/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// BlockStoreMetrics defines the interface for block store telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type BlockStoreMetrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records metrics for individual store operations (Read/Write/Append/Insert).
	RecordOperation(ctx context.Context, opType string, duration time.Duration)

	// RecordSearch records metrics for a binary search: duration, disk probes, and outcome.
	RecordSearch(ctx context.Context, duration time.Duration, probes int64, found bool)

	// RecordShift records the volume of records displaced by an insert.
	RecordShift(ctx context.Context, recordsMoved int64, bytesMoved int64)

	// RecordLengthChange records changes in store length for monitoring growth.
	RecordLengthChange(ctx context.Context, newLength int64, delta int64)
}

// blockStoreMetrics implements BlockStoreMetrics using the telemetry interface.
type blockStoreMetrics struct {
	tel telemetry.Telemetry
}

// NewBlockStoreMetrics creates a new block store metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewBlockStoreMetrics(tel telemetry.Telemetry) BlockStoreMetrics {
	if tel == nil {
		return &noopBlockStoreMetrics{}
	}
	return &blockStoreMetrics{tel: tel}
}

// NewNoopBlockStoreMetrics creates a no-op block store metrics implementation for testing.
func NewNoopBlockStoreMetrics() BlockStoreMetrics {
	return &noopBlockStoreMetrics{}
}

// RecordOperation records store operation metrics.
func (m *blockStoreMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration) {
	// Record operation duration
	m.tel.RecordHistogram(ctx, "sfl.blockstore.operation.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
		attribute.String(telemetry.AttrOperationType, opType),
	)

	// Record operation count
	m.tel.RecordCounter(ctx, "sfl.blockstore.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

// RecordSearch records binary search metrics.
func (m *blockStoreMetrics) RecordSearch(ctx context.Context, duration time.Duration, probes int64, found bool) {
	status := "miss"
	if found {
		status = "hit"
	}

	m.tel.RecordHistogram(ctx, "sfl.blockstore.search.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
		attribute.String(telemetry.AttrStatus, status),
	)

	// Record how many records were probed to resolve the search
	m.tel.RecordHistogram(ctx, "sfl.blockstore.search.probes", float64(probes),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
	)

	m.tel.RecordCounter(ctx, "sfl.blockstore.search.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
		attribute.String(telemetry.AttrStatus, status),
	)
}

// RecordShift records insert displacement metrics.
func (m *blockStoreMetrics) RecordShift(ctx context.Context, recordsMoved int64, bytesMoved int64) {
	m.tel.RecordHistogram(ctx, "sfl.blockstore.shift.records", float64(recordsMoved),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
	)

	m.tel.RecordCounter(ctx, "sfl.blockstore.shift.bytes", bytesMoved,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
	)
}

// RecordLengthChange records store length changes.
func (m *blockStoreMetrics) RecordLengthChange(ctx context.Context, newLength int64, delta int64) {
	m.tel.RecordHistogram(ctx, "sfl.blockstore.length.records", float64(newLength),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
	)

	// Record length delta (positive for growth; length never shrinks today)
	m.tel.RecordHistogram(ctx, "sfl.blockstore.length.delta", float64(delta),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlockStore),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *blockStoreMetrics) Close() error {
	// No resources to clean up for this implementation
	return nil
}

// noopBlockStoreMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopBlockStoreMetrics struct{}

// RecordOperation is a no-op.
func (n *noopBlockStoreMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration) {
	// No-op
}

// RecordSearch is a no-op.
func (n *noopBlockStoreMetrics) RecordSearch(ctx context.Context, duration time.Duration, probes int64, found bool) {
	// No-op
}

// RecordShift is a no-op.
func (n *noopBlockStoreMetrics) RecordShift(ctx context.Context, recordsMoved int64, bytesMoved int64) {
	// No-op
}

// RecordLengthChange is a no-op.
func (n *noopBlockStoreMetrics) RecordLengthChange(ctx context.Context, newLength int64, delta int64) {
	// No-op
}

// Close is a no-op.
func (n *noopBlockStoreMetrics) Close() error {
	return nil
}
