package fpfile

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleFile() *File {
	return &File{
		SampleRate: 16000,
		DurationMS: 12345,
		Channels:   1,
		Metadata: Metadata{
			AlgorithmID:      "PANAKO",
			AlgorithmParams:  `{"bands_per_octave":85}`,
			OriginalFilename: "track.wav",
		},
		Fingerprints: []Record{
			{Hash: 0x1122334455667788, T1: 0, F1: 10, M1: 0.5},
			{Hash: 0xAABBCCDDEEFF0011, T1: 12, F1: 20, M1: 0.9},
			{Hash: 0x0102030405060708, T1: 40, F1: 5, M1: 0.1},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.fp")

	want := sampleFile()
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.SampleRate != want.SampleRate || got.DurationMS != want.DurationMS || got.Channels != want.Channels {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if got.Metadata.AlgorithmID != want.Metadata.AlgorithmID ||
		got.Metadata.AlgorithmParams != want.Metadata.AlgorithmParams ||
		got.Metadata.OriginalFilename != want.Metadata.OriginalFilename {
		t.Fatalf("metadata mismatch: got %+v", got.Metadata)
	}
	if len(got.Fingerprints) != len(want.Fingerprints) {
		t.Fatalf("fingerprint count mismatch: got %d want %d", len(got.Fingerprints), len(want.Fingerprints))
	}
	for i := range want.Fingerprints {
		if got.Fingerprints[i] != want.Fingerprints[i] {
			t.Fatalf("fingerprint %d mismatch: got %+v want %+v", i, got.Fingerprints[i], want.Fingerprints[i])
		}
	}
}

func TestRoundTripWithSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segmented.fp")

	f := sampleFile()
	f.Metadata.Segments = []SegmentMeta{
		{SegmentID: 0, StartTimeS: 0, EndTimeS: 25, NumFingerprints: 2},
		{SegmentID: 1, StartTimeS: 20, EndTimeS: 45, NumFingerprints: 1},
	}

	if err := Write(path, f); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Metadata.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got.Metadata.Segments))
	}
	if got.Metadata.Segments[1].StartTimeS != 20 {
		t.Fatalf("segment 1 start mismatch: %+v", got.Metadata.Segments[1])
	}
}

func TestMagicRejection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.fp")

	if err := Write(path, sampleFile()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Read(path)
	if err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.fp")

	if err := Write(path, sampleFile()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a byte inside the payload region, well past the header.
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Read(path)
	if err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.fp")

	if err := Write(path, sampleFile()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-5], 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Read(path)
	if err != ErrTruncatedFile {
		t.Fatalf("expected ErrTruncatedFile, got %v", err)
	}
}

func TestUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "futuristic.fp")

	if err := Write(path, sampleFile()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[4] = 99 // version field, little-endian low byte
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Read(path)
	if err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestEmptyFingerprints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.fp")

	f := sampleFile()
	f.Fingerprints = nil

	if err := Write(path, f); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Fingerprints) != 0 {
		t.Fatalf("expected 0 fingerprints, got %d", len(got.Fingerprints))
	}
}
