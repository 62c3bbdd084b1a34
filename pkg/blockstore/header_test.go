package blockstore

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestHeaderEncodeDecode(t *testing.T) {
	header := NewHeader(64)
	header.Length = 12345

	data := header.Encode()
	if len(data) != HeaderSize {
		t.Fatalf("Expected encoded header of %d bytes, got %d", HeaderSize, len(data))
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode header: %v", err)
	}

	if decoded.Magic != Magic {
		t.Errorf("Expected magic %x, got %x", Magic, decoded.Magic)
	}
	if decoded.Version != CurrentVersion {
		t.Errorf("Expected version %d, got %d", CurrentVersion, decoded.Version)
	}
	if decoded.Length != 12345 {
		t.Errorf("Expected length 12345, got %d", decoded.Length)
	}
	if decoded.BlockSize != 64 {
		t.Errorf("Expected block size 64, got %d", decoded.BlockSize)
	}
	if decoded.Checksum != header.Checksum {
		t.Errorf("Expected checksum %d, got %d", header.Checksum, decoded.Checksum)
	}
}

func TestHeaderDecodeShortData(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	if !errors.Is(err, ErrShortHeader) {
		t.Errorf("Expected ErrShortHeader, got %v", err)
	}
}

func TestHeaderDecodeBadMagic(t *testing.T) {
	data := NewHeader(32).Encode()
	binary.LittleEndian.PutUint64(data[0:8], 0xDEADBEEF)

	_, err := Decode(data)
	if !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Expected ErrInvalidMagic, got %v", err)
	}
}

func TestHeaderDecodeBadVersion(t *testing.T) {
	header := NewHeader(32)
	data := header.Encode()

	// The version check runs before the checksum check, so no fixup needed
	binary.LittleEndian.PutUint32(data[8:12], CurrentVersion+1)

	_, err := Decode(data)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestHeaderDecodeChecksumMismatch(t *testing.T) {
	data := NewHeader(32).Encode()

	// Corrupt the length without updating the checksum
	binary.LittleEndian.PutUint64(data[16:24], 999)

	_, err := Decode(data)
	if !errors.Is(err, ErrHeaderChecksum) {
		t.Errorf("Expected ErrHeaderChecksum, got %v", err)
	}
}

func TestHeaderChecksumCoversAllFields(t *testing.T) {
	a := NewHeader(32).Encode()
	b := NewHeader(64).Encode()

	checksumA := binary.LittleEndian.Uint64(a[32:])
	checksumB := binary.LittleEndian.Uint64(b[32:])
	if checksumA == checksumB {
		t.Errorf("Expected different checksums for different block sizes")
	}
}
