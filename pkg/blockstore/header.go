package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// HeaderSize is the fixed size of the file header in bytes
	HeaderSize = 40
	// Magic is a magic number to verify we're reading a valid store file ("sfl-bin1")
	Magic = uint64(0x73666C2D62696E31)
	// CurrentVersion is the current file format version
	CurrentVersion = uint32(1)
)

var (
	ErrShortHeader        = errors.New("header data too small")
	ErrInvalidMagic       = errors.New("invalid header magic")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrHeaderChecksum     = errors.New("header checksum mismatch")
)

// Header contains the metadata at the front of a store file. It is
// rewritten in full whenever the record count changes.
type Header struct {
	// Magic number for integrity checking
	Magic uint64
	// Version of the file format
	Version uint32
	// Reserved for future use, written as zero
	Reserved uint32
	// Number of records in the store
	Length uint64
	// Size of each record in bytes
	BlockSize uint64
	// Checksum of all header fields excluding the checksum itself
	Checksum uint64
}

// NewHeader creates a header for an empty store with the given record size
func NewHeader(blockSize uint64) *Header {
	return &Header{
		Magic:     Magic,
		Version:   CurrentVersion,
		Length:    0,
		BlockSize: blockSize,
		Checksum:  0, // Will be calculated during serialization
	}
}

// Encode serializes the header to a byte slice
func (h *Header) Encode() []byte {
	result := make([]byte, HeaderSize)

	// Encode all fields directly into the buffer
	binary.LittleEndian.PutUint64(result[0:8], h.Magic)
	binary.LittleEndian.PutUint32(result[8:12], h.Version)
	binary.LittleEndian.PutUint32(result[12:16], h.Reserved)
	binary.LittleEndian.PutUint64(result[16:24], h.Length)
	binary.LittleEndian.PutUint64(result[24:32], h.BlockSize)

	// Calculate checksum of all fields excluding the checksum itself
	h.Checksum = xxhash.Sum64(result[:32])
	binary.LittleEndian.PutUint64(result[32:], h.Checksum)

	return result
}

// Decode parses a header from a byte slice
func Decode(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrShortHeader, len(data), HeaderSize)
	}

	header := &Header{
		Magic:     binary.LittleEndian.Uint64(data[0:8]),
		Version:   binary.LittleEndian.Uint32(data[8:12]),
		Reserved:  binary.LittleEndian.Uint32(data[12:16]),
		Length:    binary.LittleEndian.Uint64(data[16:24]),
		BlockSize: binary.LittleEndian.Uint64(data[24:32]),
		Checksum:  binary.LittleEndian.Uint64(data[32:]),
	}

	// Verify magic number
	if header.Magic != Magic {
		return nil, fmt.Errorf("%w: %x, expected %x", ErrInvalidMagic, header.Magic, Magic)
	}

	// Verify version
	if header.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d, expected %d", ErrUnsupportedVersion, header.Version, CurrentVersion)
	}

	// Verify checksum
	expectedChecksum := xxhash.Sum64(data[:32])
	if header.Checksum != expectedChecksum {
		return nil, fmt.Errorf("%w: file has %d, calculated %d", ErrHeaderChecksum, header.Checksum, expectedChecksum)
	}

	return header, nil
}
