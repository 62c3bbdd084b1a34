package blockstore

import (
	"io"
	"os"
)

// File is the byte-addressable surface a Store operates on. All header and
// record I/O goes through positioned reads and writes, so the file's seek
// offset is never consulted or moved. *os.File satisfies File.
type File interface {
	io.ReaderAt
	io.WriterAt

	// Sync flushes buffered writes to stable storage
	Sync() error

	// Close releases the underlying resource
	Close() error
}

// Ensure *os.File satisfies the File interface
var _ File = (*os.File)(nil)
