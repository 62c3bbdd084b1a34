package blockstore

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestIteratorFullScan(t *testing.T) {
	store := sortedStore(t, 16, []uint64{10, 20, 30, 40, 50})

	it := store.NewIterator()
	if !it.SeekToFirst() {
		t.Fatal("Failed to seek to first record")
	}

	var scanned []uint64
	for it.Valid() {
		if !bytes.Equal(it.Record(), testRecord(16, (it.Index()+1)*10)) {
			t.Errorf("Record at index %d does not match store contents", it.Index())
		}
		scanned = append(scanned, it.Index())
		it.Next()
	}

	if err := it.Error(); err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	if len(scanned) != 5 {
		t.Errorf("Expected to scan 5 records, got %d", len(scanned))
	}
	for i, index := range scanned {
		if index != uint64(i) {
			t.Errorf("Expected index %d at step %d, got %d", i, i, index)
		}
	}
}

func TestIteratorSeekTo(t *testing.T) {
	store := sortedStore(t, 16, []uint64{10, 20, 30, 40, 50})

	it := store.NewIterator()
	if !it.SeekTo(3) {
		t.Fatal("Failed to seek to index 3")
	}
	if it.Index() != 3 {
		t.Errorf("Expected index 3, got %d", it.Index())
	}
	if !bytes.Equal(it.Record(), testRecord(16, 40)) {
		t.Error("Record at index 3 does not match")
	}

	// Advancing from the seek point reaches only the remaining records
	if !it.Next() {
		t.Fatal("Expected one more record after index 3")
	}
	if it.Index() != 4 {
		t.Errorf("Expected index 4, got %d", it.Index())
	}
	if it.Next() {
		t.Error("Expected iteration to stop at the last record")
	}
	if it.Valid() {
		t.Error("Iterator still valid past the end")
	}

	// Seeking past the end leaves the iterator unpositioned
	if it.SeekTo(5) {
		t.Error("Seek past the end should fail")
	}
	if it.Record() != nil {
		t.Error("Expected nil record from unpositioned iterator")
	}
}

func TestIteratorEmptyStore(t *testing.T) {
	store := sortedStore(t, 16, nil)

	it := store.NewIterator()
	if it.SeekToFirst() {
		t.Error("SeekToFirst should fail on an empty store")
	}
	if it.Valid() {
		t.Error("Iterator valid on an empty store")
	}
	if it.Next() {
		t.Error("Next should fail on an unpositioned iterator")
	}
	if it.Error() != nil {
		t.Errorf("Empty store is not an iterator error, got %v", it.Error())
	}
}

func TestIteratorClosedStore(t *testing.T) {
	store, err := Create(filepath.Join(t.TempDir(), "closed.bin"), 16)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Append(testRecord(16, 1)); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	it := store.NewIterator()
	if it.SeekToFirst() {
		t.Error("SeekToFirst should fail on a closed store")
	}
	if it.Error() == nil {
		t.Error("Expected an error from iterating a closed store")
	}
}
