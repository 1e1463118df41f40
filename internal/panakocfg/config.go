// Package panakocfg holds the tunable parameters of the fingerprinting
// and matching pipeline. Defaults mirror the Java Panako reference
// implementation and its Rust reimplementation.
package panakocfg

import (
	"fmt"
	"math"
)

// Config is the full set of algorithm parameters. Every stage of the
// pipeline (transform, event points, hashing, matching) takes a Config
// instead of reaching for package-level constants, so a single run can
// be reproduced byte-for-byte from its recorded parameters.
type Config struct {
	// Audio processing
	SampleRate    int // Hz, always 16000 after normalization
	AudioBlockSize int // STFT window/FFT size, samples
	TimeResolution int // hop size between frames, samples (one frame ≈ 8ms at 16kHz/128)

	// Spectral transform (constant-Q)
	MinFreq        float64 // Hz
	MaxFreq        float64 // Hz
	BandsPerOctave int
	RefFreq        float64 // Hz, reference pitch for documentation purposes only

	// Event-point extraction (2D max filter)
	FreqMaxFilterSize int // frequency-bin window width
	TimeMaxFilterSize int // frame window width
	NoiseFloor        float64

	// Fingerprint generation (triplet target zone)
	FPMinFreqDist int16
	FPMaxFreqDist int16
	FPMinTimeDist int32
	FPMaxTimeDist int32

	// Matching
	QueryRange       int32   // Δt clustering tolerance in frames, open question (a)
	DeltaFBucket     int16   // Δf coarsening bucket width, in constant-Q bins
	MinHitsUnfiltered int
	MinHitsFiltered   int
	MinTimeFactor     float64
	MaxTimeFactor     float64
	MinFreqFactor     float64
	MaxFreqFactor     float64
	MinSecWithMatch   float64
	MinMatchDuration  float64 // seconds

	// Segmenter (monitor mode)
	SegmentDurationS   float64
	OverlapDurationS   float64
	MinSegmentDuration float64
}

// Default returns the parameter set matching the Java/Rust reference
// defaults. It is the baseline for the CLI's flags and for this
// module's tests.
func Default() Config {
	return Config{
		SampleRate:     16000,
		AudioBlockSize: 1024,
		TimeResolution: 128,

		MinFreq:        110.0,
		MaxFreq:        7040.0,
		BandsPerOctave: 85,
		RefFreq:        440.0,

		FreqMaxFilterSize: 103,
		TimeMaxFilterSize: 25,
		NoiseFloor:        0.0,

		FPMinFreqDist: 1,
		FPMaxFreqDist: 128,
		FPMinTimeDist: 2,
		FPMaxTimeDist: 33,

		QueryRange:        2,
		DeltaFBucket:      4,
		MinHitsUnfiltered: 10,
		MinHitsFiltered:   5,
		MinTimeFactor:     0.8,
		MaxTimeFactor:     1.2,
		MinFreqFactor:     0.8,
		MaxFreqFactor:     1.2,
		MinSecWithMatch:   0.2,
		MinMatchDuration:  3.0,

		SegmentDurationS:   25.0,
		OverlapDurationS:   5.0,
		MinSegmentDuration: 10.0,
	}
}

// NumBins returns the number of constant-Q bins this configuration
// produces: ceil(log2(max/min) * bandsPerOctave). At the defaults that
// is 6 octaves * 85 bands/octave = 510 bins.
func (c Config) NumBins() int {
	octaves := math.Log2(c.MaxFreq / c.MinFreq)
	return int(math.Ceil(octaves * float64(c.BandsPerOctave)))
}

// SecondsPerFrame is the wall-clock duration a single STFT frame
// covers, used to convert frame indices back to timestamps.
func (c Config) SecondsPerFrame() float64 {
	return float64(c.TimeResolution) / float64(c.SampleRate)
}

// Validate rejects configurations that would make the rest of the
// pipeline misbehave rather than fail loudly.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("panakocfg: sample rate must be > 0")
	}
	if c.MinFreq <= 0 || c.MinFreq >= c.MaxFreq {
		return fmt.Errorf("panakocfg: min_freq must be > 0 and < max_freq")
	}
	if c.BandsPerOctave <= 0 {
		return fmt.Errorf("panakocfg: bands_per_octave must be > 0")
	}
	if c.AudioBlockSize <= 0 || c.TimeResolution <= 0 {
		return fmt.Errorf("panakocfg: audio_block_size and time_resolution must be > 0")
	}
	return nil
}
