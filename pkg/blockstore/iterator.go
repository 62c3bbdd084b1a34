package blockstore

import "fmt"

// Iterator walks the records of a store in index order, reading one record
// per step. Like the store itself an iterator is single-threaded, and
// mutating the store mid-iteration shifts records under it; position the
// iterator again after any insert.
type Iterator struct {
	store  *Store
	index  uint64
	record []byte
	valid  bool
	err    error
}

// NewIterator returns an iterator over the store's records. The iterator
// starts unpositioned; call SeekToFirst or SeekTo before reading.
func (s *Store) NewIterator() *Iterator {
	return &Iterator{
		store:  s,
		record: make([]byte, s.header.BlockSize),
	}
}

// SeekToFirst positions the iterator at the first record. It reports
// false when the store is empty.
func (it *Iterator) SeekToFirst() bool {
	return it.SeekTo(0)
}

// SeekTo positions the iterator at record i. It reports false when i is
// past the last record.
func (it *Iterator) SeekTo(i uint64) bool {
	it.err = nil
	it.valid = false

	if it.store.closed {
		it.err = ErrClosed
		return false
	}
	if i >= it.store.header.Length {
		return false
	}

	it.index = i
	return it.load()
}

// Next advances to the following record. It reports false at the end of
// the store or if the iterator is not positioned.
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	if it.index+1 >= it.store.header.Length {
		it.valid = false
		return false
	}

	it.index++
	return it.load()
}

// Valid reports whether the iterator is positioned on a record
func (it *Iterator) Valid() bool {
	return it.valid
}

// Index returns the index of the current record
func (it *Iterator) Index() uint64 {
	return it.index
}

// Record returns the current record's bytes. The slice is reused by the
// iterator and only valid until the next positioning call.
func (it *Iterator) Record() []byte {
	if !it.valid {
		return nil
	}
	return it.record
}

// Error returns the I/O error that invalidated the iterator, if any
func (it *Iterator) Error() error {
	return it.err
}

func (it *Iterator) load() bool {
	if _, err := it.store.file.ReadAt(it.record, it.store.offset(it.index)); err != nil {
		it.err = fmt.Errorf("failed to read record %d: %w", it.index, err)
		it.valid = false
		return false
	}

	it.valid = true
	return true
}
