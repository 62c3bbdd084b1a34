package blockstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/ethanwerner/sfl/pkg/stats"
)

var ErrInvalidKeySize = errors.New("key size must be between 1 and the block size")

// Key constrains search keys to the fixed-width numeric types whose
// little-endian encoding can lead a record.
type Key interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Result reports the outcome of a search. On a hit Index is a matching
// record index; on a miss it is the index where the key would be inserted
// to keep the store ordered.
type Result struct {
	Index uint64
	Found bool
}

// Encoded collapses the result to a single signed value: a hit yields the
// match index, a miss yields -(insertion+1).
func (r Result) Encoded() int64 {
	if r.Found {
		return int64(r.Index)
	}
	return -(int64(r.Index) + 1)
}

// FuzzyIndex maps an Encoded search value back to a usable index: the
// match index for a hit, the insertion index for a miss.
func FuzzyIndex(encoded int64) uint64 {
	if encoded < 0 {
		return uint64(-(encoded + 1))
	}
	return uint64(encoded)
}

// Search binary-searches s for a record whose leading bytes decode to key.
// Records must already be ordered by non-decreasing key; ordering is the
// caller's responsibility and is not checked. When duplicate keys exist a
// hit reports an arbitrary matching index.
func Search[K Key](s *Store, key K) (Result, error) {
	keySize := uint64(reflect.TypeFor[K]().Size())
	return SearchFunc(s, keySize, func(probe []byte) int {
		probeKey := decodeKey[K](probe)
		switch {
		case key < probeKey:
			return -1
		case key > probeKey:
			return 1
		default:
			return 0
		}
	})
}

// SearchFunc binary-searches s using a caller-supplied comparator over the
// leading keySize bytes of each probed record, covering keys that are not
// plain numbers (packed structs, byte prefixes). cmp must return a
// negative value if the target key orders before the probed bytes, zero if
// they match, and a positive value otherwise.
//
// Each probe is a positioned read, so a search never moves the file's seek
// offset.
func SearchFunc(s *Store, keySize uint64, cmp func(probe []byte) int) (Result, error) {
	if s.closed {
		return Result{}, ErrClosed
	}
	if keySize == 0 || keySize > s.header.BlockSize {
		return Result{}, fmt.Errorf("%w: key size %d with block size %d", ErrInvalidKeySize, keySize, s.header.BlockSize)
	}

	start := time.Now()
	probe := make([]byte, keySize)
	var probes int64

	lo, hi := uint64(0), s.header.Length
	for lo < hi {
		mid := lo + (hi-lo)/2
		if _, err := s.file.ReadAt(probe, s.offset(mid)); err != nil {
			s.stats.TrackError("io_error")
			return Result{}, fmt.Errorf("failed to read key at index %d: %w", mid, err)
		}
		probes++

		c := cmp(probe)
		if c == 0 {
			s.finishSearch(start, keySize, probes, true)
			return Result{Index: mid, Found: true}, nil
		}
		if c < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	s.finishSearch(start, keySize, probes, false)
	return Result{Index: lo, Found: false}, nil
}

// decodeKey reads a little-endian K from the leading bytes of a record
func decodeKey[K Key](probe []byte) K {
	var key K
	// probe is always exactly the key's width, so Decode cannot fail
	_, _ = binary.Decode(probe, binary.LittleEndian, &key)
	return key
}

func (s *Store) finishSearch(start time.Time, keySize uint64, probes int64, found bool) {
	duration := time.Since(start)
	s.stats.TrackOperationWithLatency(stats.OpSearch, uint64(duration.Nanoseconds()))
	s.stats.TrackBytes(false, uint64(probes)*keySize)
	s.metrics.RecordSearch(context.Background(), duration, probes, found)
}
