// Package snapshot serializes a block store into a single compressed,
// checksummed stream and restores one atomically into a new store file.
package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ethanwerner/sfl/pkg/blockstore"
	"github.com/ethanwerner/sfl/pkg/common/log"
	"github.com/ethanwerner/sfl/pkg/stats"
)

const (
	// HeaderSize is the fixed size of the snapshot header in bytes
	HeaderSize = 32
	// Magic is a magic number identifying a snapshot stream ("sfl-snap")
	Magic = uint64(0x73666C2D736E6170)
	// CurrentVersion is the current snapshot format version
	CurrentVersion = uint32(1)
)

var (
	ErrInvalidSnapshot  = errors.New("invalid snapshot data")
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

type options struct {
	codec     Codec
	logger    log.Logger
	metrics   SnapshotMetrics
	stats     stats.Collector
	storeOpts []blockstore.Option
}

// Option configures snapshot writes and restores
type Option func(*options)

// WithCodec selects the payload compression. The default is Snappy.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithLogger sets the logger used during the operation
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the telemetry metrics implementation
func WithMetrics(metrics SnapshotMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithStats sets the statistics collector
func WithStats(collector stats.Collector) Option {
	return func(o *options) {
		o.stats = collector
	}
}

// WithStoreOptions passes options through to the store Restore opens
func WithStoreOptions(opts ...blockstore.Option) Option {
	return func(o *options) {
		o.storeOpts = opts
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		codec: CodecSnappy,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = log.GetDefaultLogger().WithField("component", "snapshot")
	}
	if o.metrics == nil {
		o.metrics = NewNoopSnapshotMetrics()
	}
	if o.stats == nil {
		o.stats = stats.NewCollector()
	}
	return o
}

// Write serializes the store's entire contents into w as one snapshot
// stream. The store must be quiescent for the duration of the call; a
// snapshot taken while the store is being mutated sees torn state.
func Write(st *blockstore.Store, w io.Writer, opts ...Option) error {
	o := newOptions(opts)
	start := time.Now()

	payload, err := storePayload(st)
	if err != nil {
		return err
	}

	compressor, err := NewCompressor()
	if err != nil {
		return err
	}
	defer compressor.Close()

	compressed, err := compressor.Compress(payload, o.codec)
	if err != nil {
		return err
	}

	head := encodeHeader(o.codec, uint64(len(compressed)), xxhash.Sum64(payload))
	if _, err := w.Write(head); err != nil {
		o.stats.TrackError("io_error")
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		o.stats.TrackError("io_error")
		return fmt.Errorf("failed to write snapshot payload: %w", err)
	}

	duration := time.Since(start)
	o.stats.TrackOperationWithLatency(stats.OpSnapshotWrite, uint64(duration.Nanoseconds()))
	o.stats.TrackBytes(true, uint64(len(head)+len(compressed)))
	o.metrics.RecordWrite(context.Background(), duration, int64(len(payload)), int64(len(compressed)), o.codec.String())
	o.logger.Info("wrote snapshot: %d records, %d bytes compressed to %d (%s)",
		st.Len(), len(payload), len(compressed), o.codec)
	return nil
}

// Restore reads one snapshot stream from r, verifies it, and materializes
// it at path through a temporary file and atomic rename. On success the
// restored store is returned open.
func Restore(r io.Reader, path string, opts ...Option) (*blockstore.Store, error) {
	o := newOptions(opts)
	start := o.stats.StartRestore()

	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrInvalidSnapshot, err)
	}
	codec, payloadLen, payloadSum, err := decodeHeader(head)
	if err != nil {
		return nil, err
	}

	compressed := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrInvalidSnapshot, err)
	}

	compressor, err := NewCompressor()
	if err != nil {
		return nil, err
	}
	defer compressor.Close()

	payload, err := compressor.Decompress(compressed, codec)
	if err != nil {
		o.stats.TrackError("decompress_error")
		o.stats.FinishRestore(start, 0, 0, 1)
		o.metrics.RecordRestore(context.Background(), time.Since(start), 0, "corrupt")
		return nil, err
	}

	if sum := xxhash.Sum64(payload); sum != payloadSum {
		o.stats.TrackError("checksum_mismatch")
		o.stats.FinishRestore(start, 0, 0, 1)
		o.metrics.RecordRestore(context.Background(), time.Since(start), 0, "corrupt")
		return nil, fmt.Errorf("%w: payload has %d, calculated %d", ErrChecksumMismatch, payloadSum, sum)
	}

	storeHeader, err := verifyPayload(payload)
	if err != nil {
		o.stats.FinishRestore(start, 0, 0, 1)
		o.metrics.RecordRestore(context.Background(), time.Since(start), 0, "corrupt")
		return nil, err
	}

	if err := writeFileAtomic(path, payload); err != nil {
		o.stats.TrackError("io_error")
		return nil, err
	}

	store, err := blockstore.Open(path, o.storeOpts...)
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	o.stats.TrackOperation(stats.OpSnapshotRestore)
	o.stats.FinishRestore(start, storeHeader.Length, uint64(len(payload)), 0)
	o.metrics.RecordRestore(context.Background(), duration, int64(storeHeader.Length), "success")
	o.logger.Info("restored snapshot to %s: %d records (%s)", path, storeHeader.Length, codec)
	return store, nil
}

// storePayload flattens the store into the exact bytes of its file, a
// fresh header followed by every record
func storePayload(st *blockstore.Store) ([]byte, error) {
	header := blockstore.NewHeader(st.BlockSize())
	header.Length = st.Len()

	payload := make([]byte, st.Size())
	copy(payload, header.Encode())
	if st.Len() > 0 {
		if err := st.Read(0, payload[blockstore.HeaderSize:]); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// verifyPayload validates the embedded store header and that the payload
// holds exactly the records the header promises
func verifyPayload(payload []byte) (*blockstore.Header, error) {
	if len(payload) < blockstore.HeaderSize {
		return nil, fmt.Errorf("%w: payload shorter than a store header", ErrInvalidSnapshot)
	}

	storeHeader, err := blockstore.Decode(payload[:blockstore.HeaderSize])
	if err != nil {
		return nil, fmt.Errorf("%w: embedded store header: %v", ErrInvalidSnapshot, err)
	}

	expected := uint64(blockstore.HeaderSize) + storeHeader.Length*storeHeader.BlockSize
	if uint64(len(payload)) != expected {
		return nil, fmt.Errorf("%w: payload is %d bytes, header implies %d", ErrInvalidSnapshot, len(payload), expected)
	}
	return storeHeader, nil
}

// writeFileAtomic writes data to a temporary file beside path, syncs it,
// and renames it into place so a failed restore never leaves a partial
// store file at path
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write restored store: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync restored store: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close restored store: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize restored store: %w", err)
	}
	return nil
}

// encodeHeader serializes the snapshot header
func encodeHeader(codec Codec, payloadLen, payloadSum uint64) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], Magic)
	binary.LittleEndian.PutUint32(buf[8:12], CurrentVersion)
	buf[12] = byte(codec)
	// Bytes 13-15 are zero padding
	binary.LittleEndian.PutUint64(buf[16:24], payloadLen)
	binary.LittleEndian.PutUint64(buf[24:32], payloadSum)
	return buf
}

// decodeHeader parses and validates the snapshot header
func decodeHeader(buf []byte) (Codec, uint64, uint64, error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, fmt.Errorf("%w: header is %d bytes, expected %d", ErrInvalidSnapshot, len(buf), HeaderSize)
	}

	if magic := binary.LittleEndian.Uint64(buf[0:8]); magic != Magic {
		return 0, 0, 0, fmt.Errorf("%w: magic %x, expected %x", ErrInvalidSnapshot, magic, Magic)
	}
	if version := binary.LittleEndian.Uint32(buf[8:12]); version != CurrentVersion {
		return 0, 0, 0, fmt.Errorf("%w: version %d, expected %d", ErrInvalidSnapshot, version, CurrentVersion)
	}

	codec := Codec(buf[12])
	if !codec.valid() {
		return 0, 0, 0, fmt.Errorf("%w: %d", ErrUnknownCodec, buf[12])
	}

	payloadLen := binary.LittleEndian.Uint64(buf[16:24])
	payloadSum := binary.LittleEndian.Uint64(buf[24:32])
	return codec, payloadLen, payloadSum, nil
}
