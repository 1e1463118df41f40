package segment

import (
	"math"
	"testing"

	"github.com/paraswtf/afsispa/internal/fingerprint"
	"github.com/paraswtf/afsispa/internal/panakocfg"
)

func TestNoSegmentationForShortAudio(t *testing.T) {
	cfg := panakocfg.Default()
	samples := make([]float32, cfg.SampleRate*20) // 20s, under the 25s threshold

	if ShouldSegment(20.0, cfg) {
		t.Fatal("20s audio should not be segmented")
	}

	windows := Split(samples, cfg)
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if windows[0].SegmentID != 0 {
		t.Fatalf("expected segment id 0, got %d", windows[0].SegmentID)
	}
}

func TestSegmentationForLongAudio(t *testing.T) {
	cfg := panakocfg.Default()
	samples := make([]float32, cfg.SampleRate*60) // 60s

	if !ShouldSegment(60.0, cfg) {
		t.Fatal("60s audio should be segmented")
	}

	windows := Split(samples, cfg)

	// 60s with 25s segments and a 20s step => 3 windows:
	// [0,25), [20,45), [40,60)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}

	if math.Abs(windows[0].EndTimeS-windows[1].StartTimeS-5.0) > 0.1 {
		t.Fatalf("expected ~5s overlap between window 0 and 1, got end=%.2f start=%.2f",
			windows[0].EndTimeS, windows[1].StartTimeS)
	}
	if windows[len(windows)-1].EndTimeS != 60.0 {
		t.Fatalf("last window should reach stream end, got %.2f", windows[len(windows)-1].EndTimeS)
	}
}

func TestRemapShiftsT1(t *testing.T) {
	cfg := panakocfg.Default()
	w := Window{StartTimeS: 20.0}
	startFrames := w.StartFrames(cfg)

	if startFrames <= 0 {
		t.Fatalf("expected positive start frame offset, got %d", startFrames)
	}

	fps := []fingerprint.Fingerprint{{T1: 5, T2: 10, T3: 15}}
	out := Remap(fps, startFrames)
	if out[0].T1 != 5+startFrames {
		t.Fatalf("expected T1 shifted to %d, got %d", 5+startFrames, out[0].T1)
	}
}
