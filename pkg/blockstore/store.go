// Package blockstore implements a flat-file store of densely packed
// fixed-size records with ordered-key binary search.
package blockstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethanwerner/sfl/pkg/common/log"
	"github.com/ethanwerner/sfl/pkg/stats"
	"github.com/ethanwerner/sfl/pkg/telemetry"
)

const (
	// Maximum scratch buffer used when shifting records during an insert
	shiftScratchSize = 64 * 1024 // 64KB
)

var (
	ErrClosed           = errors.New("block store is closed")
	ErrOutOfRange       = errors.New("record range out of bounds")
	ErrMisalignedBuffer = errors.New("buffer is not a whole number of records")
	ErrZeroBlockSize    = errors.New("block size must be positive")
)

// Store is a flat file holding a header followed by densely packed
// fixed-size records, addressed by index. Record i lives at byte offset
// HeaderSize + i*BlockSize.
//
// A Store is not safe for concurrent use; callers that share one must
// synchronize externally.
type Store struct {
	file    File
	path    string
	header  *Header
	closed  bool
	logger  log.Logger
	metrics BlockStoreMetrics
	stats   stats.Collector
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used by the store
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the telemetry metrics implementation used by the store
func WithMetrics(metrics BlockStoreMetrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// WithStats sets the statistics collector used by the store, allowing
// several components to share one collector
func WithStats(collector stats.Collector) Option {
	return func(s *Store) {
		s.stats = collector
	}
}

// Create creates or truncates the file at path and initializes an empty
// store over it with the given record size.
func Create(path string, blockSize uint64, opts ...Option) (*Store, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create store file: %w", err)
	}

	s, err := Init(file, blockSize, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	s.path = path

	return s, nil
}

// Open opens an existing store file at path and validates its header.
func Open(path string, opts ...Option) (*Store, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}

	s, err := Load(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	s.path = path

	return s, nil
}

// Init writes a fresh empty-store header to f and returns a store over it.
// Any record data previously in f is not removed, only orphaned.
func Init(f File, blockSize uint64, opts ...Option) (*Store, error) {
	if blockSize == 0 {
		return nil, ErrZeroBlockSize
	}

	s := newStore(f, NewHeader(blockSize), opts)
	if err := s.writeHeader(); err != nil {
		return nil, err
	}

	s.logger.Debug("initialized block store with block size %d", blockSize)
	return s, nil
}

// Load reads and validates the header already present in f and returns a
// store over it.
func Load(f File, opts ...Option) (*Store, error) {
	header, err := readHeader(f)
	if err != nil {
		return nil, err
	}

	s := newStore(f, header, opts)
	s.logger.Debug("opened block store with %d records of %d bytes", header.Length, header.BlockSize)
	return s, nil
}

func newStore(file File, header *Header, opts []Option) *Store {
	s := &Store{
		file:   file,
		header: header,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = log.GetDefaultLogger().WithField("component", "blockstore")
	}
	if s.metrics == nil {
		s.metrics = NewNoopBlockStoreMetrics()
	}
	if s.stats == nil {
		s.stats = stats.NewCollector()
	}

	return s
}

// Len returns the number of records in the store
func (s *Store) Len() uint64 {
	return s.header.Length
}

// BlockSize returns the size of each record in bytes
func (s *Store) BlockSize() uint64 {
	return s.header.BlockSize
}

// Path returns the file path the store was created or opened with, or an
// empty string for a store constructed over a bare File
func (s *Store) Path() string {
	return s.path
}

// Size returns the store's logical file size in bytes
func (s *Store) Size() int64 {
	return int64(HeaderSize + s.header.Length*s.header.BlockSize)
}

// Stats returns a snapshot of the store's operation statistics
func (s *Store) Stats() map[string]interface{} {
	return s.stats.GetStats()
}

// Read fills buf with len(buf)/BlockSize consecutive records starting at
// index i. The whole range must already exist and buf must be a whole
// multiple of the record size. An empty buf is a no-op.
func (s *Store) Read(i uint64, buf []byte) error {
	if s.closed {
		return ErrClosed
	}

	n, err := s.recordCount(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	if i+n > s.header.Length {
		return fmt.Errorf("%w: records [%d, %d) with length %d", ErrOutOfRange, i, i+n, s.header.Length)
	}

	start := time.Now()
	if _, err := s.file.ReadAt(buf, s.offset(i)); err != nil {
		s.stats.TrackError("io_error")
		return fmt.Errorf("failed to read records: %w", err)
	}

	duration := time.Since(start)
	s.stats.TrackOperationWithLatency(stats.OpRead, uint64(duration.Nanoseconds()))
	s.stats.TrackBytes(false, uint64(len(buf)))
	s.metrics.RecordOperation(context.Background(), telemetry.OpTypeRead, duration)
	return nil
}

// Write stores len(buf)/BlockSize records starting at index i, which must
// not exceed the current length. Writing past the last record extends the
// store. An empty buf is a no-op.
func (s *Store) Write(i uint64, buf []byte) error {
	return s.write(i, buf, stats.OpWrite, telemetry.OpTypeWrite)
}

// Append stores the records in buf after the last record. An empty buf is
// a no-op.
func (s *Store) Append(buf []byte) error {
	return s.write(s.header.Length, buf, stats.OpAppend, telemetry.OpTypeAppend)
}

func (s *Store) write(i uint64, buf []byte, op stats.OperationType, opType string) error {
	if s.closed {
		return ErrClosed
	}

	n, err := s.recordCount(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	if i > s.header.Length {
		return fmt.Errorf("%w: write at %d with length %d", ErrOutOfRange, i, s.header.Length)
	}

	start := time.Now()
	if err := s.writeRaw(i, buf); err != nil {
		s.stats.TrackError("io_error")
		return err
	}

	if i+n > s.header.Length {
		if err := s.setLength(i + n); err != nil {
			return err
		}
	}

	duration := time.Since(start)
	s.stats.TrackOperationWithLatency(op, uint64(duration.Nanoseconds()))
	s.stats.TrackBytes(true, uint64(len(buf)))
	s.metrics.RecordOperation(context.Background(), opType, duration)
	return nil
}

// Insert stores the records in buf at index i after shifting the records
// in [i, length) right to make room. i must not exceed the current length;
// an empty buf is a no-op. The shift runs in place through a bounded
// scratch buffer, so a failure mid-insert leaves the file contents
// indeterminate.
func (s *Store) Insert(i uint64, buf []byte) error {
	if s.closed {
		return ErrClosed
	}

	n, err := s.recordCount(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	if i > s.header.Length {
		return fmt.Errorf("%w: insert at %d with length %d", ErrOutOfRange, i, s.header.Length)
	}

	start := time.Now()
	tail := s.header.Length - i
	if tail > 0 {
		if err := s.shiftRight(i, tail, n); err != nil {
			s.stats.TrackError("io_error")
			return err
		}
		s.stats.TrackShift()
		s.metrics.RecordShift(context.Background(), int64(tail), int64(tail*s.header.BlockSize))
	}

	if err := s.writeRaw(i, buf); err != nil {
		s.stats.TrackError("io_error")
		return err
	}

	if err := s.setLength(s.header.Length + n); err != nil {
		return err
	}

	duration := time.Since(start)
	s.stats.TrackOperationWithLatency(stats.OpInsert, uint64(duration.Nanoseconds()))
	s.stats.TrackBytes(true, uint64(len(buf)))
	s.metrics.RecordOperation(context.Background(), telemetry.OpTypeInsert, duration)
	return nil
}

// shiftRight moves the tail records in [i, i+tail) right by n slots,
// processing chunks back to front so no read ever sees already-moved data.
func (s *Store) shiftRight(i, tail, n uint64) error {
	chunkRecords := uint64(shiftScratchSize) / s.header.BlockSize
	if chunkRecords == 0 {
		chunkRecords = 1
	}
	if chunkRecords > tail {
		chunkRecords = tail
	}
	scratch := make([]byte, chunkRecords*s.header.BlockSize)

	remaining := tail
	for remaining > 0 {
		chunk := chunkRecords
		if chunk > remaining {
			chunk = remaining
		}

		src := i + remaining - chunk
		size := chunk * s.header.BlockSize
		if _, err := s.file.ReadAt(scratch[:size], s.offset(src)); err != nil {
			return fmt.Errorf("failed to read shifted records: %w", err)
		}
		if err := s.writeRaw(src+n, scratch[:size]); err != nil {
			return err
		}

		remaining -= chunk
	}

	return nil
}

// Sync flushes the store file to stable storage. The store never syncs
// implicitly.
func (s *Store) Sync() error {
	if s.closed {
		return ErrClosed
	}

	if err := s.file.Sync(); err != nil {
		s.stats.TrackError("io_error")
		return fmt.Errorf("failed to sync store file: %w", err)
	}

	s.stats.TrackOperation(stats.OpSync)
	return nil
}

// Close closes the underlying file. Further operations return ErrClosed.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close store file: %w", err)
	}
	return nil
}

// offset returns the byte offset of record i
func (s *Store) offset(i uint64) int64 {
	return int64(HeaderSize + i*s.header.BlockSize)
}

// writeRaw writes buf at record index i with no length bookkeeping
func (s *Store) writeRaw(i uint64, buf []byte) error {
	n, err := s.file.WriteAt(buf, s.offset(i))
	if err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("partial record write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// recordCount validates buf's alignment and returns the record count it holds
func (s *Store) recordCount(buf []byte) (uint64, error) {
	if uint64(len(buf))%s.header.BlockSize != 0 {
		return 0, fmt.Errorf("%w: %d bytes with block size %d", ErrMisalignedBuffer, len(buf), s.header.BlockSize)
	}
	return uint64(len(buf)) / s.header.BlockSize, nil
}

// setLength updates the record count and rewrites the header. The
// in-memory length is rolled back if the header write fails, keeping it
// consistent with the length on disk.
func (s *Store) setLength(length uint64) error {
	old := s.header.Length
	s.header.Length = length
	if err := s.writeHeader(); err != nil {
		s.header.Length = old
		return err
	}

	s.metrics.RecordLengthChange(context.Background(), int64(length), int64(length)-int64(old))
	return nil
}

func (s *Store) writeHeader() error {
	data := s.header.Encode()
	n, err := s.file.WriteAt(data, 0)
	if err != nil {
		s.stats.TrackError("io_error")
		return fmt.Errorf("failed to write header: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial header write: %d of %d bytes", n, len(data))
	}
	return nil
}

func readHeader(f File) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: file shorter than %d bytes", ErrShortHeader, HeaderSize)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return Decode(buf)
}
