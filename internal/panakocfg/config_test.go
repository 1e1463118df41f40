package panakocfg

import "testing"

// TestDefaultMatchesPinnedParameters locks the production defaults to
// the fixed parameter set (Hann/1024/128/110-7040Hz/6x85) rather than
// letting an upstream default silently drift the window size, which
// would change every downstream event-point, hash, and match result.
func TestDefaultMatchesPinnedParameters(t *testing.T) {
	cfg := Default()

	if cfg.SampleRate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", cfg.SampleRate)
	}
	if cfg.AudioBlockSize != 1024 {
		t.Fatalf("expected audio block size 1024, got %d", cfg.AudioBlockSize)
	}
	if cfg.TimeResolution != 128 {
		t.Fatalf("expected time resolution 128, got %d", cfg.TimeResolution)
	}
	if cfg.MinFreq != 110.0 || cfg.MaxFreq != 7040.0 {
		t.Fatalf("expected frequency range 110-7040Hz, got %f-%f", cfg.MinFreq, cfg.MaxFreq)
	}
	if cfg.BandsPerOctave != 85 {
		t.Fatalf("expected 85 bands per octave, got %d", cfg.BandsPerOctave)
	}
}

func TestNumBinsAtDefaults(t *testing.T) {
	cfg := Default()
	if got := cfg.NumBins(); got != 510 {
		t.Fatalf("expected 510 bins at the pinned defaults (6 octaves * 85), got %d", got)
	}
}

func TestValidateRejectsZeroAudioBlockSize(t *testing.T) {
	cfg := Default()
	cfg.AudioBlockSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a zero audio block size")
	}
}
