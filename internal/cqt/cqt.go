// Package cqt computes a constant-Q spectrogram from PCM samples: a
// windowed STFT followed by a Gaussian-weighted mapping of linear FFT
// bins onto a geometrically spaced constant-Q filterbank.
package cqt

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/paraswtf/afsispa/internal/panakocfg"
)

// Spectrogram holds per-frame magnitudes across the constant-Q bins.
// Magnitudes[t][f] is the energy of frame t in constant-Q bin f.
type Spectrogram struct {
	Magnitudes [][]float32
	NumFrames  int
	NumBins    int
}

// Transform turns PCM samples into a constant-Q spectrogram using the
// block size, hop size and frequency range in cfg.
type Transform struct {
	cfg    panakocfg.Config
	window []float64
	fft    *fourier.FFT
	kernel []binKernel
}

// binKernel is the precomputed set of FFT-bin weights contributing to
// one constant-Q bin, a Gaussian centered on the bin's center
// frequency with bandwidth proportional to that frequency. This
// generalizes the reference's nearest-FFT-bin lookup into a smoother,
// less alias-prone mapping while preserving the same bin centers.
type binKernel struct {
	fftBins []int
	weights []float64
}

// New builds a Transform, precomputing the Hann window and the
// constant-Q kernel for the configured block size and sample rate.
func New(cfg panakocfg.Config) *Transform {
	t := &Transform{
		cfg:    cfg,
		window: hann(cfg.AudioBlockSize),
		fft:    fourier.NewFFT(cfg.AudioBlockSize),
	}
	t.kernel = t.buildKernel()
	return t
}

// Compute runs the sliding-window FFT and constant-Q mapping over
// samples, a mono float32 PCM buffer at cfg.SampleRate.
func (t *Transform) Compute(samples []float32) *Spectrogram {
	n := t.cfg.AudioBlockSize
	hop := t.cfg.TimeResolution
	numBins := t.cfg.NumBins()

	numFrames := len(samples)/hop - 1
	if numFrames < 0 {
		numFrames = 0
	}

	mags := make([][]float32, numFrames)
	buf := make([]float64, n)

	for i := 0; i < numFrames; i++ {
		start := i * hop
		for k := 0; k < n; k++ {
			if idx := start + k; idx < len(samples) {
				buf[k] = float64(samples[idx]) * t.window[k]
			} else {
				buf[k] = 0
			}
		}
		coeffs := t.fft.Coefficients(nil, buf)
		mags[i] = t.mapToConstantQ(coeffs, numBins)
	}

	return &Spectrogram{Magnitudes: mags, NumFrames: numFrames, NumBins: numBins}
}

// mapToConstantQ collapses a linear FFT spectrum into the constant-Q
// bins via the precomputed Gaussian kernel.
func (t *Transform) mapToConstantQ(coeffs []complex128, numBins int) []float32 {
	out := make([]float32, numBins)
	for b := 0; b < numBins && b < len(t.kernel); b++ {
		k := t.kernel[b]
		var sum float64
		for i, fb := range k.fftBins {
			if fb >= len(coeffs) {
				continue
			}
			sum += k.weights[i] * cabs(coeffs[fb])
		}
		out[b] = float32(sum)
	}
	return out
}

// buildKernel precomputes, for each constant-Q bin, the FFT bins
// within +/-3 standard deviations of its center frequency and their
// Gaussian weight. The standard deviation is a fixed fraction of the
// bin spacing so that adjacent constant-Q bins overlap smoothly
// instead of each mapping to a single nearest FFT bin.
func (t *Transform) buildKernel() []binKernel {
	numBins := t.cfg.NumBins()
	n := t.cfg.AudioBlockSize
	sr := float64(t.cfg.SampleRate)
	halfN := n / 2

	kernels := make([]binKernel, numBins)
	for b := 0; b < numBins; b++ {
		centerFreq := t.cfg.MinFreq * math.Pow(2.0, float64(b)/float64(t.cfg.BandsPerOctave))
		// Neighboring bin spacing in Hz, used to size the Gaussian so it
		// roughly spans the gap to adjacent constant-Q bins.
		nextFreq := t.cfg.MinFreq * math.Pow(2.0, float64(b+1)/float64(t.cfg.BandsPerOctave))
		sigmaHz := (nextFreq - centerFreq) / 2.0
		if sigmaHz <= 0 {
			sigmaHz = centerFreq * 0.01
		}
		sigmaBins := sigmaHz * float64(n) / sr
		if sigmaBins < 0.5 {
			sigmaBins = 0.5
		}

		centerBin := centerFreq * float64(n) / sr
		lo := int(math.Floor(centerBin - 3*sigmaBins))
		hi := int(math.Ceil(centerBin + 3*sigmaBins))
		if lo < 0 {
			lo = 0
		}
		if hi >= halfN {
			hi = halfN - 1
		}

		var bins []int
		var weights []float64
		for fb := lo; fb <= hi; fb++ {
			d := (float64(fb) - centerBin) / sigmaBins
			w := math.Exp(-0.5 * d * d)
			bins = append(bins, fb)
			weights = append(weights, w)
		}
		kernels[b] = binKernel{fftBins: bins, weights: weights}
	}
	return kernels
}

func cabs(c complex128) float64 {
	re, im := real(c), imag(c)
	return math.Sqrt(re*re + im*im)
}

// hann returns a Hann window of length n, matching the window shape
// the reference constant-Q implementation windows each frame with.
func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
