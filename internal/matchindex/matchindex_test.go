package matchindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paraswtf/afsispa/internal/fpfile"
	"github.com/paraswtf/afsispa/internal/panakocfg"
)

// syntheticFile builds a .fp file with `n` fingerprints spaced 10
// frames apart, distinct hashes, enough to clear MinHitsFiltered.
func syntheticFile(n int) *fpfile.File {
	recs := make([]fpfile.Record, n)
	for i := 0; i < n; i++ {
		recs[i] = fpfile.Record{
			Hash: uint64(0xF00D000000000000 + uint64(i)),
			T1:   int32(i * 10),
			F1:   int16(50 + i%20),
			M1:   1.0,
		}
	}
	return &fpfile.File{
		SampleRate: 16000,
		DurationMS: uint64(n * 10 * 8),
		Channels:   1,
		Metadata: fpfile.Metadata{
			AlgorithmID:      "PANAKO",
			AlgorithmParams:  "{}",
			OriginalFilename: "track.wav",
		},
		Fingerprints: recs,
	}
}

func TestSelfMatch(t *testing.T) {
	cfg := panakocfg.Default()

	dir := t.TempDir()
	f := syntheticFile(50)
	path := filepath.Join(dir, "track.fp")
	if err := fpfile.Write(path, f); err != nil {
		t.Fatalf("Write: %v", err)
	}

	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.LoadCorpus(context.Background(), dir); err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}

	detections, err := idx.Query(context.Background(), f, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected exactly 1 detection, got %d: %+v", len(detections), detections)
	}

	d := detections[0]
	if d.RefIdentifier != "track" {
		t.Fatalf("expected ref identifier %q, got %q", "track", d.RefIdentifier)
	}
	if d.TimeFactor < 0.999 || d.TimeFactor > 1.001 {
		t.Fatalf("expected time_factor ~= 1.0, got %f", d.TimeFactor)
	}
	if d.FrequencyFactor != 1.0 {
		t.Fatalf("expected frequency_factor == 1.0, got %f", d.FrequencyFactor)
	}
	if d.Score < len(f.Fingerprints)/2 {
		t.Fatalf("expected score >= half of fingerprints, got %d", d.Score)
	}
}

func TestQueryEmptyIndexYieldsNoDetections(t *testing.T) {
	cfg := panakocfg.Default()
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	f := syntheticFile(10)
	detections, err := idx.Query(context.Background(), f, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(detections) != 0 {
		t.Fatalf("expected 0 detections against empty index, got %d", len(detections))
	}
}

func TestLoadCorpusMissingDirectory(t *testing.T) {
	cfg := panakocfg.Default()
	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	err = idx.LoadCorpus(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected an error loading a missing directory")
	}
}

func TestMaxResultsTruncates(t *testing.T) {
	cfg := panakocfg.Default()
	dir := t.TempDir()

	for _, name := range []string{"a", "b", "c"} {
		f := syntheticFile(50)
		if err := fpfile.Write(filepath.Join(dir, name+".fp"), f); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}

	idx, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.LoadCorpus(context.Background(), dir); err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}

	query := syntheticFile(50)
	detections, err := idx.Query(context.Background(), query, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected max_results=1 to truncate to 1 detection, got %d", len(detections))
	}
}
