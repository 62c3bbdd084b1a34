// ABOUTME: Snapshot telemetry metrics interface and implementation for tracking serialization operations
// ABOUTME: Provides instrumentation for snapshot write/restore latencies, payload sizes, and compression ratios

package snapshot

import (
	"context"
	"time"

	"github.com/ethanwerner/sfl/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// SnapshotMetrics defines the interface for snapshot telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type SnapshotMetrics interface {
	telemetry.ComponentMetrics

	// RecordWrite records metrics for serializing a store into a snapshot.
	RecordWrite(ctx context.Context, duration time.Duration, rawBytes, compressedBytes int64, codec string)

	// RecordRestore records metrics for materializing a snapshot into a store.
	RecordRestore(ctx context.Context, duration time.Duration, records int64, status string)
}

// snapshotMetrics implements SnapshotMetrics using the telemetry interface.
type snapshotMetrics struct {
	tel telemetry.Telemetry
}

// NewSnapshotMetrics creates a new snapshot metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewSnapshotMetrics(tel telemetry.Telemetry) SnapshotMetrics {
	if tel == nil {
		return &noopSnapshotMetrics{}
	}
	return &snapshotMetrics{tel: tel}
}

// NewNoopSnapshotMetrics creates a no-op snapshot metrics implementation for testing.
func NewNoopSnapshotMetrics() SnapshotMetrics {
	return &noopSnapshotMetrics{}
}

// RecordWrite records snapshot serialization metrics.
func (m *snapshotMetrics) RecordWrite(ctx context.Context, duration time.Duration, rawBytes, compressedBytes int64, codec string) {
	m.tel.RecordHistogram(ctx, "sfl.snapshot.write.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		attribute.String(telemetry.AttrCodec, codec),
	)

	m.tel.RecordCounter(ctx, "sfl.snapshot.write.bytes", compressedBytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		attribute.String(telemetry.AttrCodec, codec),
	)

	// Ratio of raw to compressed size; 1.0 means no reduction
	if compressedBytes > 0 {
		m.tel.RecordHistogram(ctx, "sfl.snapshot.compression.ratio", float64(rawBytes)/float64(compressedBytes),
			attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
			attribute.String(telemetry.AttrCodec, codec),
		)
	}
}

// RecordRestore records snapshot restore metrics.
func (m *snapshotMetrics) RecordRestore(ctx context.Context, duration time.Duration, records int64, status string) {
	m.tel.RecordHistogram(ctx, "sfl.snapshot.restore.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		attribute.String(telemetry.AttrStatus, status),
	)

	m.tel.RecordCounter(ctx, "sfl.snapshot.restore.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		attribute.String(telemetry.AttrStatus, status),
	)

	if records > 0 {
		m.tel.RecordHistogram(ctx, "sfl.snapshot.restore.records", float64(records),
			attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		)
	}
}

// Close releases any resources held by the metrics implementation.
func (m *snapshotMetrics) Close() error {
	// No resources to clean up for this implementation
	return nil
}

// noopSnapshotMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopSnapshotMetrics struct{}

// RecordWrite is a no-op.
func (n *noopSnapshotMetrics) RecordWrite(ctx context.Context, duration time.Duration, rawBytes, compressedBytes int64, codec string) {
	// No-op
}

// RecordRestore is a no-op.
func (n *noopSnapshotMetrics) RecordRestore(ctx context.Context, duration time.Duration, records int64, status string) {
	// No-op
}

// Close is a no-op.
func (n *noopSnapshotMetrics) Close() error {
	return nil
}
