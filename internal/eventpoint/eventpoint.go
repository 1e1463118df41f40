// Package eventpoint extracts 2D local maxima ("event points") from a
// constant-Q spectrogram, the landmark step between the spectral
// frontend and fingerprint hashing.
package eventpoint

import (
	"math"

	"github.com/paraswtf/afsispa/internal/cqt"
	"github.com/paraswtf/afsispa/internal/panakocfg"
)

// EventPoint is a local maximum in the spectrogram: a time/frequency
// coordinate with its magnitude.
type EventPoint struct {
	T int32
	F int16
	M float32
}

// Extractor runs the separable 2D max filter over a spectrogram and
// reports bins whose value equals the filtered value, i.e. bins that
// are already the maximum within their own neighborhood.
type Extractor struct {
	freqFilterSize int
	timeFilterSize int
	noiseFloor     float64
}

// New builds an Extractor from algorithm parameters.
func New(cfg panakocfg.Config) *Extractor {
	return &Extractor{
		freqFilterSize: cfg.FreqMaxFilterSize,
		timeFilterSize: cfg.TimeMaxFilterSize,
		noiseFloor:     cfg.NoiseFloor,
	}
}

// Extract returns the event points found in s, ordered by frame then
// frequency bin.
func (e *Extractor) Extract(s *cqt.Spectrogram) []EventPoint {
	filtered := e.maxFilter2D(s)
	return e.findLocalMaxima(s, filtered)
}

// maxFilter2D applies the frequency-dimension pass followed by the
// time-dimension pass, matching the Panako reference's separable
// implementation of a 2D max filter.
func (e *Extractor) maxFilter2D(s *cqt.Spectrogram) [][]float32 {
	numFrames := s.NumFrames
	numBins := s.NumBins

	freqFiltered := make([][]float32, numFrames)
	for t := 0; t < numFrames; t++ {
		row := make([]float32, numBins)
		for f := 0; f < numBins; f++ {
			fStart := f - e.freqFilterSize/2
			if fStart < 0 {
				fStart = 0
			}
			fEnd := f + e.freqFilterSize/2 + 1
			if fEnd > numBins {
				fEnd = numBins
			}
			max := float32(math.Inf(-1))
			for fi := fStart; fi < fEnd; fi++ {
				if v := s.Magnitudes[t][fi]; v > max {
					max = v
				}
			}
			row[f] = max
		}
		freqFiltered[t] = row
	}

	timeFiltered := make([][]float32, numFrames)
	for t := 0; t < numFrames; t++ {
		timeFiltered[t] = make([]float32, numBins)
	}
	for t := 0; t < numFrames; t++ {
		tStart := t - e.timeFilterSize/2
		if tStart < 0 {
			tStart = 0
		}
		tEnd := t + e.timeFilterSize/2 + 1
		if tEnd > numFrames {
			tEnd = numFrames
		}
		for f := 0; f < numBins; f++ {
			max := float32(math.Inf(-1))
			for ti := tStart; ti < tEnd; ti++ {
				if v := freqFiltered[ti][f]; v > max {
					max = v
				}
			}
			timeFiltered[t][f] = max
		}
	}

	return timeFiltered
}

// findLocalMaxima reports bins where the original magnitude is
// (within tolerance) equal to the max-filtered value — those bins are
// already the loudest point in their own neighborhood. A floor
// excludes near-silent frames from contributing noise-level points.
func (e *Extractor) findLocalMaxima(s *cqt.Spectrogram, filtered [][]float32) []EventPoint {
	points := make([]EventPoint, 0, s.NumFrames*4)
	floor := float32(e.noiseFloor)

	for t := 0; t < s.NumFrames; t++ {
		for f := 0; f < s.NumBins; f++ {
			original := s.Magnitudes[t][f]
			if original <= floor {
				continue
			}
			if diff := original - filtered[t][f]; diff > -1e-6 && diff < 1e-6 {
				points = append(points, EventPoint{T: int32(t), F: int16(f), M: original})
			}
		}
	}

	return points
}
