package blockstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// sortedStore creates a store whose records carry the given keys, which
// must already be in search order
func sortedStore(t *testing.T, blockSize uint64, keys []uint64) *Store {
	t.Helper()

	store, err := Create(filepath.Join(t.TempDir(), "search.bin"), blockSize)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, key := range keys {
		if err := store.Append(testRecord(blockSize, key)); err != nil {
			t.Fatalf("Failed to append key %d: %v", key, err)
		}
	}
	return store
}

func TestSearchHit(t *testing.T) {
	store := sortedStore(t, 16, []uint64{10, 20, 30, 40, 50})

	for i, key := range []uint64{10, 20, 30, 40, 50} {
		result, err := Search(store, key)
		if err != nil {
			t.Fatalf("Failed to search for key %d: %v", key, err)
		}
		if !result.Found {
			t.Errorf("Expected to find key %d", key)
		}
		if result.Index != uint64(i) {
			t.Errorf("Expected key %d at index %d, got %d", key, i, result.Index)
		}
		if result.Encoded() != int64(i) {
			t.Errorf("Expected encoded value %d for hit, got %d", i, result.Encoded())
		}
	}
}

func TestSearchMiss(t *testing.T) {
	store := sortedStore(t, 16, []uint64{10, 20, 30, 40, 50})

	tests := []struct {
		key       uint64
		insertion uint64
		encoded   int64
	}{
		{5, 0, -1},   // before everything
		{15, 1, -2},  // between 10 and 20
		{25, 2, -3},  // between 20 and 30
		{45, 4, -5},  // between 40 and 50
		{55, 5, -6},  // after everything
	}

	for _, tt := range tests {
		result, err := Search(store, tt.key)
		if err != nil {
			t.Fatalf("Failed to search for key %d: %v", tt.key, err)
		}
		if result.Found {
			t.Errorf("Did not expect to find key %d", tt.key)
		}
		if result.Index != tt.insertion {
			t.Errorf("Expected insertion index %d for key %d, got %d", tt.insertion, tt.key, result.Index)
		}
		if result.Encoded() != tt.encoded {
			t.Errorf("Expected encoded value %d for key %d, got %d", tt.encoded, tt.key, result.Encoded())
		}
		if FuzzyIndex(result.Encoded()) != tt.insertion {
			t.Errorf("Expected fuzzy index %d for key %d, got %d", tt.insertion, tt.key, FuzzyIndex(result.Encoded()))
		}
	}
}

func TestSearchEmptyStore(t *testing.T) {
	store := sortedStore(t, 16, nil)

	result, err := Search(store, uint64(42))
	if err != nil {
		t.Fatalf("Failed to search empty store: %v", err)
	}
	if result.Found {
		t.Error("Found a key in an empty store")
	}
	if result.Index != 0 {
		t.Errorf("Expected insertion index 0, got %d", result.Index)
	}
	if result.Encoded() != -1 {
		t.Errorf("Expected encoded value -1, got %d", result.Encoded())
	}
}

func TestSearchEveryKeyInLargeStore(t *testing.T) {
	// Records are exactly one uint32 key wide, nothing else
	const blockSize = 4
	const numRecords = 1000

	store, err := Create(filepath.Join(t.TempDir(), "dense.bin"), blockSize)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	buf := make([]byte, numRecords*blockSize)
	for i := 0; i < numRecords; i++ {
		binary.LittleEndian.PutUint32(buf[i*blockSize:], uint32(i*2))
	}
	if err := store.Append(buf); err != nil {
		t.Fatalf("Failed to append records: %v", err)
	}

	for i := 0; i < numRecords; i++ {
		result, err := Search(store, uint32(i*2))
		if err != nil {
			t.Fatalf("Failed to search for key %d: %v", i*2, err)
		}
		if !result.Found {
			t.Fatalf("Expected to find key %d", i*2)
		}
		if result.Index != uint64(i) {
			t.Fatalf("Expected key %d at index %d, got %d", i*2, i, result.Index)
		}
	}

	// Odd keys fall between neighbors
	result, err := Search(store, uint32(501))
	if err != nil {
		t.Fatalf("Failed to search for key 501: %v", err)
	}
	if result.Found || result.Index != 251 {
		t.Errorf("Expected miss at insertion index 251, got found=%v index=%d", result.Found, result.Index)
	}
}

func TestSearchDuplicateKeys(t *testing.T) {
	store := sortedStore(t, 16, []uint64{10, 20, 20, 20, 30})

	// With duplicates any matching index is a valid hit
	result, err := Search(store, uint64(20))
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if !result.Found {
		t.Fatal("Expected to find duplicated key")
	}
	if result.Index < 1 || result.Index > 3 {
		t.Errorf("Expected a matching index in [1, 3], got %d", result.Index)
	}

	buf := make([]byte, 16)
	if err := store.Read(result.Index, buf); err != nil {
		t.Fatalf("Failed to read matched record: %v", err)
	}
	if got := binary.LittleEndian.Uint64(buf[0:8]); got != 20 {
		t.Errorf("Matched record has key %d, expected 20", got)
	}
}

func TestSearchSignedKeys(t *testing.T) {
	store, err := Create(filepath.Join(t.TempDir(), "signed.bin"), 16)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	// Signed keys order numerically even though their little-endian bytes
	// do not, because probes are decoded before comparing
	keys := []int32{-100, -5, 0, 7, 300}
	for _, key := range keys {
		record := make([]byte, 16)
		binary.LittleEndian.PutUint32(record[0:4], uint32(key))
		if err := store.Append(record); err != nil {
			t.Fatalf("Failed to append key %d: %v", key, err)
		}
	}

	for i, key := range keys {
		result, err := Search(store, key)
		if err != nil {
			t.Fatalf("Failed to search for key %d: %v", key, err)
		}
		if !result.Found || result.Index != uint64(i) {
			t.Errorf("Expected key %d found at index %d, got %+v", key, i, result)
		}
	}

	result, err := Search(store, int32(-50))
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if result.Found || result.Index != 1 {
		t.Errorf("Expected miss with insertion index 1, got %+v", result)
	}
}

func TestSearchFloatKeys(t *testing.T) {
	store, err := Create(filepath.Join(t.TempDir(), "float.bin"), 16)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	keys := []float64{0.5, 1.25, 2.75, 10.0}
	for _, key := range keys {
		record := make([]byte, 16)
		binary.LittleEndian.PutUint64(record[0:8], math.Float64bits(key))
		if err := store.Append(record); err != nil {
			t.Fatalf("Failed to append key %g: %v", key, err)
		}
	}

	result, err := Search(store, 2.75)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if !result.Found || result.Index != 2 {
		t.Errorf("Expected key 2.75 found at index 2, got %+v", result)
	}
}

func TestSearchFuncStructKeys(t *testing.T) {
	store, err := Create(filepath.Join(t.TempDir(), "struct.bin"), 32)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	// Big-endian keys make byte order match numeric order, so the records
	// can be compared as raw prefixes
	for _, key := range []uint64{100, 200, 300, 400} {
		record := make([]byte, 32)
		binary.BigEndian.PutUint64(record[0:8], key)
		if err := store.Append(record); err != nil {
			t.Fatalf("Failed to append key %d: %v", key, err)
		}
	}

	target := make([]byte, 8)
	binary.BigEndian.PutUint64(target, 300)

	result, err := SearchFunc(store, 8, func(probe []byte) int {
		return bytes.Compare(target, probe)
	})
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if !result.Found || result.Index != 2 {
		t.Errorf("Expected key 300 found at index 2, got %+v", result)
	}

	binary.BigEndian.PutUint64(target, 250)
	result, err = SearchFunc(store, 8, func(probe []byte) int {
		return bytes.Compare(target, probe)
	})
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if result.Found || result.Index != 2 {
		t.Errorf("Expected miss with insertion index 2, got %+v", result)
	}
}

func TestSearchInvalidKeySize(t *testing.T) {
	store := sortedStore(t, 4, []uint64{})

	// An 8-byte key cannot lead a 4-byte record
	if _, err := Search(store, uint64(1)); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize for wide key, got %v", err)
	}

	if _, err := SearchFunc(store, 0, func([]byte) int { return 0 }); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize for zero key size, got %v", err)
	}

	// A key no wider than the record is fine
	if _, err := Search(store, uint32(1)); err != nil {
		t.Errorf("Expected 4-byte key to be accepted, got %v", err)
	}
}

func TestSearchPreservesSeekOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.bin")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}

	store, err := Init(file, 16)
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	defer store.Close()

	for _, key := range []uint64{10, 20, 30, 40, 50, 60, 70, 80} {
		if err := store.Append(testRecord(16, key)); err != nil {
			t.Fatalf("Failed to append key %d: %v", key, err)
		}
	}

	// Park the seek offset somewhere recognizable, then search
	const parked = 7
	if _, err := file.Seek(parked, io.SeekStart); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}

	if _, err := Search(store, uint64(50)); err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if _, err := Search(store, uint64(35)); err != nil {
		t.Fatalf("Failed to search: %v", err)
	}

	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatalf("Failed to query seek offset: %v", err)
	}
	if pos != parked {
		t.Errorf("Search moved the seek offset from %d to %d", parked, pos)
	}
}

func TestSearchRecordsStats(t *testing.T) {
	store := sortedStore(t, 16, []uint64{10, 20, 30, 40})

	if _, err := Search(store, uint64(30)); err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if _, err := Search(store, uint64(99)); err != nil {
		t.Fatalf("Failed to search: %v", err)
	}

	snapshot := store.Stats()
	if ops := snapshot["search_ops"].(uint64); ops != 2 {
		t.Errorf("Expected 2 search ops, got %v", ops)
	}
}
