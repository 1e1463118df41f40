package pcm

import "testing"

func TestDownmixAveragesChannels(t *testing.T) {
	// Two frames of stereo: (1.0, 3.0) and (-1.0, -3.0)
	interleaved := []float32{1.0, 3.0, -1.0, -3.0}
	mono := downmix(interleaved, 2)
	if len(mono) != 2 {
		t.Fatalf("expected 2 mono samples, got %d", len(mono))
	}
	if mono[0] != 2.0 {
		t.Fatalf("expected frame 0 to average to 2.0, got %f", mono[0])
	}
	if mono[1] != -2.0 {
		t.Fatalf("expected frame 1 to average to -2.0, got %f", mono[1])
	}
}

func TestDownmixMonoIsNoop(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3}
	mono := downmix(samples, 1)
	for i := range samples {
		if mono[i] != samples[i] {
			t.Fatalf("expected mono passthrough to be unchanged at %d", i)
		}
	}
}

func TestResampleToSameRateIsNoop(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3, 0.4}
	out, err := resampleTo(samples, 16000, 16000)
	if err != nil {
		t.Fatalf("resampleTo: %v", err)
	}
	if len(out) != len(samples) {
		t.Fatalf("expected unchanged length, got %d", len(out))
	}
	for i := range samples {
		if out[i] != samples[i] {
			t.Fatalf("expected identical samples at %d when rates match", i)
		}
	}
}
