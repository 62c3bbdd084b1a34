package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethanwerner/sfl/pkg/blockstore"
	"github.com/ethanwerner/sfl/pkg/stats"
)

// buildStore creates a store of 32-byte records with deterministic contents
func buildStore(t *testing.T, dir string, numRecords int) *blockstore.Store {
	t.Helper()

	store, err := blockstore.Create(filepath.Join(dir, "source.bin"), 32)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for i := 0; i < numRecords; i++ {
		record := make([]byte, 32)
		binary.LittleEndian.PutUint64(record[0:8], uint64(i))
		for j := 8; j < 32; j++ {
			record[j] = byte(i + j)
		}
		if err := store.Append(record); err != nil {
			t.Fatalf("Failed to append record %d: %v", i, err)
		}
	}
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			dir := t.TempDir()
			source := buildStore(t, dir, 100)

			var buf bytes.Buffer
			if err := Write(source, &buf, WithCodec(codec)); err != nil {
				t.Fatalf("Failed to write snapshot: %v", err)
			}

			restoredPath := filepath.Join(dir, "restored.bin")
			restored, err := Restore(&buf, restoredPath)
			if err != nil {
				t.Fatalf("Failed to restore snapshot: %v", err)
			}
			defer restored.Close()

			if restored.Len() != source.Len() {
				t.Errorf("Expected %d records, got %d", source.Len(), restored.Len())
			}
			if restored.BlockSize() != source.BlockSize() {
				t.Errorf("Expected block size %d, got %d", source.BlockSize(), restored.BlockSize())
			}

			want := make([]byte, 32)
			got := make([]byte, 32)
			for i := uint64(0); i < source.Len(); i++ {
				if err := source.Read(i, want); err != nil {
					t.Fatalf("Failed to read source record %d: %v", i, err)
				}
				if err := restored.Read(i, got); err != nil {
					t.Fatalf("Failed to read restored record %d: %v", i, err)
				}
				if !bytes.Equal(want, got) {
					t.Errorf("Record %d differs after restore", i)
				}
			}
		})
	}
}

func TestSnapshotEmptyStore(t *testing.T) {
	dir := t.TempDir()
	source := buildStore(t, dir, 0)

	var buf bytes.Buffer
	if err := Write(source, &buf); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	restored, err := Restore(&buf, filepath.Join(dir, "restored.bin"))
	if err != nil {
		t.Fatalf("Failed to restore snapshot: %v", err)
	}
	defer restored.Close()

	if restored.Len() != 0 {
		t.Errorf("Expected empty restored store, got %d records", restored.Len())
	}
	if restored.BlockSize() != 32 {
		t.Errorf("Expected block size 32, got %d", restored.BlockSize())
	}
}

func TestRestoreDetectsCorruptPayload(t *testing.T) {
	dir := t.TempDir()
	source := buildStore(t, dir, 10)

	var buf bytes.Buffer
	// An uncompressed payload keeps byte offsets stable for corruption
	if err := Write(source, &buf, WithCodec(CodecNone)); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	data := buf.Bytes()
	data[HeaderSize+50] ^= 0xFF

	restoredPath := filepath.Join(dir, "restored.bin")
	_, err := Restore(bytes.NewReader(data), restoredPath)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Expected ErrChecksumMismatch, got %v", err)
	}

	// A failed restore must not leave anything at the target path
	if _, err := os.Stat(restoredPath); !os.IsNotExist(err) {
		t.Error("Corrupt restore left a file at the target path")
	}
	if _, err := os.Stat(restoredPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Corrupt restore left a temporary file behind")
	}
}

func TestRestoreRejectsBadHeader(t *testing.T) {
	dir := t.TempDir()
	source := buildStore(t, dir, 5)

	var buf bytes.Buffer
	if err := Write(source, &buf); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}
	good := buf.Bytes()

	// Wrong magic
	bad := append([]byte(nil), good...)
	binary.LittleEndian.PutUint64(bad[0:8], 0xDEADBEEF)
	if _, err := Restore(bytes.NewReader(bad), filepath.Join(dir, "r1.bin")); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot for bad magic, got %v", err)
	}

	// Unsupported version
	bad = append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(bad[8:12], CurrentVersion+1)
	if _, err := Restore(bytes.NewReader(bad), filepath.Join(dir, "r2.bin")); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot for bad version, got %v", err)
	}

	// Unknown codec
	bad = append([]byte(nil), good...)
	bad[12] = 9
	if _, err := Restore(bytes.NewReader(bad), filepath.Join(dir, "r3.bin")); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Expected ErrUnknownCodec, got %v", err)
	}

	// Truncated stream
	if _, err := Restore(bytes.NewReader(good[:len(good)-10]), filepath.Join(dir, "r4.bin")); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot for truncated stream, got %v", err)
	}
	if _, err := Restore(bytes.NewReader(good[:HeaderSize-4]), filepath.Join(dir, "r5.bin")); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot for truncated header, got %v", err)
	}
}

func TestCodecStringRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecZstd} {
		parsed, err := ParseCodec(codec.String())
		if err != nil {
			t.Errorf("Failed to parse codec %q: %v", codec.String(), err)
		}
		if parsed != codec {
			t.Errorf("Expected codec %v, got %v", codec, parsed)
		}
	}

	// Parsing is case-insensitive and tolerates whitespace
	if parsed, err := ParseCodec(" ZSTD "); err != nil || parsed != CodecZstd {
		t.Errorf("Expected CodecZstd, got %v (%v)", parsed, err)
	}

	if _, err := ParseCodec("lz4"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Expected ErrUnknownCodec, got %v", err)
	}
}

func TestCompressorRoundTrip(t *testing.T) {
	compressor, err := NewCompressor()
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer compressor.Close()

	data := bytes.Repeat([]byte("fixed-size records compress well "), 100)

	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecZstd} {
		compressed, err := compressor.Compress(data, codec)
		if err != nil {
			t.Fatalf("Failed to compress with %v: %v", codec, err)
		}

		decompressed, err := compressor.Decompress(compressed, codec)
		if err != nil {
			t.Fatalf("Failed to decompress with %v: %v", codec, err)
		}
		if !bytes.Equal(data, decompressed) {
			t.Errorf("Data corrupted through %v round trip", codec)
		}

		if codec != CodecNone && len(compressed) >= len(data) {
			t.Errorf("Expected %v to compress repetitive data, got %d >= %d", codec, len(compressed), len(data))
		}
	}

	if _, err := compressor.Compress(data, Codec(9)); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Expected ErrUnknownCodec, got %v", err)
	}
}

func TestRestoreStatsTracked(t *testing.T) {
	dir := t.TempDir()
	source := buildStore(t, dir, 50)

	var buf bytes.Buffer
	if err := Write(source, &buf); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	collector := stats.NewCollector()
	restored, err := Restore(&buf, filepath.Join(dir, "restored.bin"), WithStats(collector))
	if err != nil {
		t.Fatalf("Failed to restore snapshot: %v", err)
	}
	defer restored.Close()

	snapshot := collector.GetStats()
	restoreStats, ok := snapshot["restore"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected restore stats submap")
	}
	if records := restoreStats["records_restored"].(uint64); records != 50 {
		t.Errorf("Expected 50 records restored, got %v", records)
	}
}
