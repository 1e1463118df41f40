// Package segment implements monitor mode: splitting long PCM streams
// into overlapping windows so each is fingerprinted independently, then
// remapping each window's fingerprints back onto the stream's absolute
// timeline.
package segment

import (
	"github.com/paraswtf/afsispa/internal/fingerprint"
	"github.com/paraswtf/afsispa/internal/panakocfg"
)

// Window describes one segment's extent and the PCM samples backing
// it, in samples at the configured sample rate.
type Window struct {
	SegmentID    int
	StartTimeS   float64
	EndTimeS     float64
	Samples      []float32
}

// ShouldSegment reports whether monitor mode applies: the Java/Rust
// reference only segments streams longer than one segment duration.
func ShouldSegment(durationS float64, cfg panakocfg.Config) bool {
	return durationS > cfg.SegmentDurationS
}

// Split divides samples (mono, at cfg.SampleRate) into overlapping
// windows. If the stream is not long enough to segment, it returns a
// single window spanning the whole input. Windows step by
// (segment_duration - overlap_duration); the first window that reaches
// the stream end is clipped to it and is the last one, and a trailing
// window shorter than one second is dropped.
func Split(samples []float32, cfg panakocfg.Config) []Window {
	const minTrailingS = 1.0

	sampleRate := float64(cfg.SampleRate)
	durationS := float64(len(samples)) / sampleRate

	if !ShouldSegment(durationS, cfg) {
		return []Window{{
			SegmentID:  0,
			StartTimeS: 0,
			EndTimeS:   durationS,
			Samples:    samples,
		}}
	}

	var windows []Window
	step := cfg.SegmentDurationS - cfg.OverlapDurationS
	currentStart := 0.0
	segmentID := 0

	for currentStart < durationS {
		currentEnd := currentStart + cfg.SegmentDurationS
		if currentEnd > durationS {
			currentEnd = durationS
		}

		if currentEnd-currentStart < minTrailingS {
			break
		}

		isLast := currentEnd >= durationS
		actualEnd := currentEnd

		startSample := int(currentStart * sampleRate)
		endSample := int(actualEnd * sampleRate)
		if endSample > len(samples) {
			endSample = len(samples)
		}
		if startSample > endSample {
			startSample = endSample
		}

		windows = append(windows, Window{
			SegmentID:  segmentID,
			StartTimeS: currentStart,
			EndTimeS:   actualEnd,
			Samples:    samples[startSample:endSample],
		})

		if isLast {
			break
		}

		currentStart += step
		segmentID++
	}

	return windows
}

// Remap rewrites each fingerprint's T1 (and T2/T3, kept for debugging
// parity) from segment-local frame indices to absolute frame indices
// relative to the start of the whole stream, given the window's start
// offset in frames.
func Remap(fps []fingerprint.Fingerprint, windowStartFrames int32) []fingerprint.Fingerprint {
	out := make([]fingerprint.Fingerprint, len(fps))
	for i, fp := range fps {
		fp.T1 += windowStartFrames
		fp.T2 += windowStartFrames
		fp.T3 += windowStartFrames
		out[i] = fp
	}
	return out
}

// StartFrames converts a window's start time to a frame index at the
// configured hop size, the unit fingerprint t1 values are expressed in.
func (w Window) StartFrames(cfg panakocfg.Config) int32 {
	return int32(w.StartTimeS * float64(cfg.SampleRate) / float64(cfg.TimeResolution))
}
