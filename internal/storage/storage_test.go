package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paraswtf/afsispa/internal/fpfile"
)

func sampleFile() *fpfile.File {
	return &fpfile.File{
		SampleRate: 16000,
		DurationMS: 5000,
		Channels:   1,
		Metadata: fpfile.Metadata{
			AlgorithmID:      "PANAKO",
			AlgorithmParams:  "{}",
			OriginalFilename: "sample.wav",
		},
		Fingerprints: []fpfile.Record{
			{Hash: 1, T1: 0, F1: 10, M1: 0.5},
			{Hash: 2, T1: 100, F1: 20, M1: 0.6},
		},
	}
}

func TestFilesystemBackendSaveLoad(t *testing.T) {
	dir := t.TempDir()
	backend := NewFilesystemBackend(dir)
	ctx := context.Background()

	f := sampleFile()
	meta := Metadata{Identifier: "track", OriginalPath: "track.wav", Algorithm: "PANAKO", SampleRate: 16000, DurationMS: 5000, Channels: 1}
	if err := backend.Save(ctx, "track", f, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := backend.Load(ctx, "track")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Fingerprints) != len(f.Fingerprints) {
		t.Fatalf("expected %d fingerprints, got %d", len(f.Fingerprints), len(loaded.Fingerprints))
	}

	got, ok, err := backend.GetMetadata(ctx, "track")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if !ok {
		t.Fatal("expected metadata to be found")
	}
	if got.SampleRate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", got.SampleRate)
	}
	if got.OriginalPath != "sample.wav" {
		t.Fatalf("expected original path %q, got %q", "sample.wav", got.OriginalPath)
	}
}

func TestFilesystemBackendGetMetadataMissing(t *testing.T) {
	dir := t.TempDir()
	backend := NewFilesystemBackend(dir)
	_, ok, err := backend.GetMetadata(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing identifier")
	}
}

func TestFilesystemBackendLoadAll(t *testing.T) {
	dir := t.TempDir()
	backend := NewFilesystemBackend(dir)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		f := sampleFile()
		if err := backend.Save(ctx, name, f, Metadata{Identifier: name}); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}

	all, err := backend.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 loaded references, got %d", len(all))
	}
}

func TestFilesystemBackendPathFor(t *testing.T) {
	dir := t.TempDir()
	backend := NewFilesystemBackend(dir)
	want := filepath.Join(dir, "abc.fp")
	if got := backend.pathFor("abc"); got != want {
		t.Fatalf("pathFor: expected %q, got %q", want, got)
	}
}
