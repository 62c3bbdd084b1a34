// Package chunkpool implements a slab allocator that serves fixed-size
// chunks out of a chain of blocks, growing one block at a time. Alloc and
// Free are O(1) through a free list threaded through the first 8 bytes of
// each free chunk.
package chunkpool

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethanwerner/sfl/pkg/common/log"
	"github.com/ethanwerner/sfl/pkg/stats"
)

const (
	// linkSize is the width of the free-list link stored in a free chunk
	linkSize = 8

	// nilRef terminates the free list
	nilRef = ^uint64(0)
)

var (
	ErrChunkSizeTooSmall  = errors.New("chunk size must be at least 8 bytes")
	ErrZeroChunksPerBlock = errors.New("chunks per block must be positive")
	ErrPoolExhausted      = errors.New("pool reached its maximum block count")
	ErrForeignChunk       = errors.New("chunk does not belong to this pool")
	ErrReleased           = errors.New("pool has been released")
)

// Chunk is an allocated chunk handle. Its bytes belong to the caller
// until the chunk is freed, including the first 8, which the free list
// reclaims on Free.
type Chunk struct {
	bytes []byte
	ref   uint64
}

// Bytes returns the chunk's storage, always exactly the pool's chunk size
func (c Chunk) Bytes() []byte {
	return c.bytes
}

// block is one contiguous slab of chunksPerBlock chunks. Blocks chain
// newest-first; ord is the block's position in the pool's ordinal table.
type block struct {
	next *block
	ord  uint32
	buf  []byte
}

// Pool hands out fixed-size chunks from its blocks. Free chunks form a
// singly-linked list threaded through their own leading bytes, so the
// pool carries no side table of chunk states.
//
// A Pool is not safe for concurrent use; callers that share one must
// synchronize externally.
type Pool struct {
	chunkSize      uint64
	chunksPerBlock uint64
	head           *block
	blocks         []*block
	free           uint64
	freeCount      uint64
	released       bool

	initialBlocks int
	maxBlocks     int

	logger  log.Logger
	metrics ChunkPoolMetrics
	stats   stats.Collector
}

// Option configures a Pool
type Option func(*Pool)

// WithInitialBlocks sets how many blocks are allocated up front. The
// default is one; zero defers the first allocation to the first Alloc.
func WithInitialBlocks(n int) Option {
	return func(p *Pool) {
		p.initialBlocks = n
	}
}

// WithMaxBlocks caps the pool at n blocks, after which Alloc against an
// empty free list returns ErrPoolExhausted. Zero means unbounded.
func WithMaxBlocks(n int) Option {
	return func(p *Pool) {
		p.maxBlocks = n
	}
}

// WithLogger sets the logger used by the pool
func WithLogger(logger log.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMetrics sets the telemetry metrics implementation used by the pool
func WithMetrics(metrics ChunkPoolMetrics) Option {
	return func(p *Pool) {
		p.metrics = metrics
	}
}

// WithStats sets the statistics collector used by the pool, allowing
// several components to share one collector
func WithStats(collector stats.Collector) Option {
	return func(p *Pool) {
		p.stats = collector
	}
}

// New creates a pool of chunkSize-byte chunks allocated chunksPerBlock at
// a time. chunkSize must be at least 8 bytes so the free-list link fits
// inside a free chunk.
func New(chunksPerBlock, chunkSize uint64, opts ...Option) (*Pool, error) {
	if chunkSize < linkSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrChunkSizeTooSmall, chunkSize)
	}
	if chunksPerBlock == 0 {
		return nil, ErrZeroChunksPerBlock
	}

	p := &Pool{
		chunkSize:      chunkSize,
		chunksPerBlock: chunksPerBlock,
		free:           nilRef,
		initialBlocks:  1,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = log.GetDefaultLogger().WithField("component", "chunkpool")
	}
	if p.metrics == nil {
		p.metrics = NewNoopChunkPoolMetrics()
	}
	if p.stats == nil {
		p.stats = stats.NewCollector()
	}

	for i := 0; i < p.initialBlocks; i++ {
		if err := p.grow(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Alloc unlinks and returns the free-list head. When the free list is
// empty the pool grows by one block first; a pool at its block cap
// returns ErrPoolExhausted instead.
func (p *Pool) Alloc() (Chunk, error) {
	if p.released {
		return Chunk{}, ErrReleased
	}

	start := time.Now()
	grew := false
	if p.free == nilRef {
		if err := p.grow(); err != nil {
			return Chunk{}, err
		}
		grew = true
	}

	ref := p.free
	chunk := p.chunkBytes(ref)
	p.free = readLink(chunk)
	p.freeCount--

	duration := time.Since(start)
	p.stats.TrackOperationWithLatency(stats.OpAlloc, uint64(duration.Nanoseconds()))
	p.stats.TrackPoolSize(p.Cap() - p.freeCount)
	p.metrics.RecordAlloc(context.Background(), duration, grew)
	return Chunk{bytes: chunk, ref: ref}, nil
}

// Free pushes the chunk back onto the free list, overwriting its first 8
// bytes with the list link. The chunk must have come from a prior Alloc
// on this pool; freeing a chunk twice corrupts the free list and is not
// detected.
func (p *Pool) Free(c Chunk) error {
	if p.released {
		return ErrReleased
	}

	blockIdx := c.ref / p.chunksPerBlock
	if blockIdx >= uint64(len(p.blocks)) || !p.blockContains(p.blocks[blockIdx], c) {
		return ErrForeignChunk
	}

	start := time.Now()
	writeLink(c.bytes, p.free)
	p.free = c.ref
	p.freeCount++

	duration := time.Since(start)
	p.stats.TrackOperationWithLatency(stats.OpFree, uint64(duration.Nanoseconds()))
	p.stats.TrackPoolSize(p.Cap() - p.freeCount)
	p.metrics.RecordFree(context.Background(), duration)
	return nil
}

// Release drops every block in the pool. Outstanding chunks are no
// longer the pool's concern and callers must stop using them. Further
// Alloc and Free calls return ErrReleased. Release is idempotent.
func (p *Pool) Release() {
	if p.released {
		return
	}
	p.released = true
	p.head = nil
	p.blocks = nil
	p.free = nilRef
	p.freeCount = 0

	p.stats.TrackPoolSize(0)
	p.logger.Debug("pool released")
}

// Cap returns the total chunk capacity across all blocks
func (p *Pool) Cap() uint64 {
	return uint64(len(p.blocks)) * p.chunksPerBlock
}

// FreeCount returns the number of chunks currently on the free list
func (p *Pool) FreeCount() uint64 {
	return p.freeCount
}

// Blocks returns the number of blocks backing the pool
func (p *Pool) Blocks() int {
	return len(p.blocks)
}

// ChunkSize returns the size in bytes of each chunk
func (p *Pool) ChunkSize() uint64 {
	return p.chunkSize
}

// Stats returns a snapshot of the pool's operation statistics
func (p *Pool) Stats() map[string]interface{} {
	return p.stats.GetStats()
}

// grow prepends one block to the block list and threads its chunks onto
// the free list in ascending order, the last chunk linking to the
// previous head.
func (p *Pool) grow() error {
	if p.maxBlocks > 0 && len(p.blocks) >= p.maxBlocks {
		return fmt.Errorf("%w: %d blocks of %d chunks", ErrPoolExhausted, len(p.blocks), p.chunksPerBlock)
	}

	b := &block{
		next: p.head,
		ord:  uint32(len(p.blocks)),
		buf:  make([]byte, p.chunksPerBlock*p.chunkSize),
	}
	p.blocks = append(p.blocks, b)
	p.head = b

	base := uint64(b.ord) * p.chunksPerBlock
	for i := uint64(0); i < p.chunksPerBlock-1; i++ {
		writeLink(p.chunkBytes(base+i), base+i+1)
	}
	writeLink(p.chunkBytes(base+p.chunksPerBlock-1), p.free)
	p.free = base
	p.freeCount += p.chunksPerBlock

	p.stats.TrackGrow()
	p.metrics.RecordGrowth(context.Background(), int64(len(p.blocks)), int64(p.Cap()))
	p.logger.Debug("pool grew to %d blocks (%d chunks)", len(p.blocks), p.Cap())
	return nil
}

// chunkBytes resolves a packed reference to its chunk's storage. The
// returned slice is capped at the chunk boundary so appends cannot bleed
// into the neighboring chunk.
func (p *Pool) chunkBytes(ref uint64) []byte {
	b := p.blocks[ref/p.chunksPerBlock]
	offset := (ref % p.chunksPerBlock) * p.chunkSize
	return b.buf[offset : offset+p.chunkSize : offset+p.chunkSize]
}

// blockContains reports whether the chunk's storage is b's slot for its
// reference, not merely a slice of the right length
func (p *Pool) blockContains(b *block, c Chunk) bool {
	if uint64(len(c.bytes)) != p.chunkSize || c.ref/p.chunksPerBlock != uint64(b.ord) {
		return false
	}
	offset := (c.ref % p.chunksPerBlock) * p.chunkSize
	return &c.bytes[0] == &b.buf[offset]
}

// readLink extracts the packed next-free reference from a free chunk
func readLink(chunk []byte) uint64 {
	return binary.LittleEndian.Uint64(chunk[0:linkSize])
}

// writeLink stores a packed next-free reference into a free chunk
func writeLink(chunk []byte, ref uint64) {
	binary.LittleEndian.PutUint64(chunk[0:linkSize], ref)
}
