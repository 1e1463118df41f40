package eventpoint

import (
	"testing"

	"github.com/paraswtf/afsispa/internal/cqt"
	"github.com/paraswtf/afsispa/internal/panakocfg"
)

func gridSpectrogram(numFrames, numBins int, fill float32) *cqt.Spectrogram {
	mags := make([][]float32, numFrames)
	for t := range mags {
		row := make([]float32, numBins)
		for f := range row {
			row[f] = fill
		}
		mags[t] = row
	}
	return &cqt.Spectrogram{Magnitudes: mags, NumFrames: numFrames, NumBins: numBins}
}

func testExtractorConfig() panakocfg.Config {
	cfg := panakocfg.Default()
	cfg.FreqMaxFilterSize = 5
	cfg.TimeMaxFilterSize = 5
	cfg.NoiseFloor = 0.1
	return cfg
}

func TestIsolatedSpikeIsDetected(t *testing.T) {
	spec := gridSpectrogram(11, 11, 0.05) // background stays below the noise floor
	spec.Magnitudes[5][5] = 10.0

	e := New(testExtractorConfig())
	points := e.Extract(spec)

	found := false
	for _, p := range points {
		if p.T == 5 && p.F == 5 {
			found = true
			if p.M != 10.0 {
				t.Fatalf("expected magnitude 10.0 at the spike, got %f", p.M)
			}
		}
	}
	if !found {
		t.Fatal("expected the isolated spike to be reported as an event point")
	}
}

func TestFlatRegionBelowFloorYieldsNoPoints(t *testing.T) {
	spec := gridSpectrogram(9, 9, 0.05) // below the 0.1 noise floor
	e := New(testExtractorConfig())
	points := e.Extract(spec)
	if len(points) != 0 {
		t.Fatalf("expected no event points below the noise floor, got %d", len(points))
	}
}

func TestSpikeDominatesItsNeighborhood(t *testing.T) {
	spec := gridSpectrogram(11, 11, 0.05) // background stays below the noise floor
	spec.Magnitudes[5][5] = 10.0

	e := New(testExtractorConfig())
	points := e.Extract(spec)

	if len(points) != 1 {
		t.Fatalf("expected exactly 1 event point, got %d", len(points))
	}
	if points[0].T != 5 || points[0].F != 5 {
		t.Fatalf("expected the single event point at (5,5), got (%d,%d)", points[0].T, points[0].F)
	}
}
