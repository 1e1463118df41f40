// Package pcm turns arbitrary audio inputs into normalized mono PCM at
// the pipeline's working sample rate. Native WAV decoding is used
// where possible; anything else is handed to an external ffmpeg
// process so the core never needs its own codec implementations.
package pcm

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Audio is normalized PCM: mono float32 samples at SampleRate, along
// with the reported duration of the original input.
type Audio struct {
	Samples    []float32
	SampleRate int
	DurationMS float64
}

// ErrUnsupportedInput is returned when an input cannot be decoded at
// all, e.g. the external decoder is unavailable.
var ErrUnsupportedInput = errors.New("pcm: unsupported input")

// Open decodes path to mono PCM at targetSampleRate. WAV files are
// decoded natively; everything else is decoded via a spawned ffmpeg
// process reading raw PCM from its stdout — no temporary files are
// ever written for either path.
func Open(ctx context.Context, path string, targetSampleRate int) (*Audio, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "pcm: stat input")
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		audio, err := openWAV(path, targetSampleRate)
		if err == nil {
			return audio, nil
		}
		// Fall through to ffmpeg for WAV variants the native decoder
		// doesn't understand (e.g. exotic bit depths or ADPCM).
	}

	return openViaFFmpeg(ctx, path, targetSampleRate)
}

// openWAV decodes a WAV file using go-audio/wav, downmixes to mono,
// and resamples to targetSampleRate if needed.
func openWAV(path string, targetSampleRate int) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "pcm: open wav")
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "pcm: decode wav")
	}
	if !dec.WasPCMAccessed() || buf == nil {
		return nil, errors.New("pcm: wav decode produced no samples")
	}

	channels := buf.Format.NumChannels
	sourceRate := buf.Format.SampleRate

	mono := downmix(buf.AsFloat32Buffer().Data, channels)
	durationMS := float64(len(mono)) / float64(sourceRate) * 1000.0

	resampled, err := resampleTo(mono, sourceRate, targetSampleRate)
	if err != nil {
		return nil, errors.Wrap(err, "pcm: resample wav")
	}

	return &Audio{Samples: resampled, SampleRate: targetSampleRate, DurationMS: durationMS}, nil
}

// downmix averages interleaved samples across channels into mono,
// matching the reference implementation's arithmetic-mean downmix.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	n := len(interleaved) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resampleTo applies a polyphase resampling filter when source and
// target rates differ, otherwise returns samples unchanged.
func resampleTo(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate == toRate {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, err
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(output))
	for i, s := range output {
		out[i] = float32(s)
	}
	return out, nil
}

// openViaFFmpeg spawns ffmpeg to decode path into raw interleaved
// float32 PCM at targetSampleRate, mono, read entirely from stdout —
// the core never writes temporary files for external decode. This is
// also the path used for MPEG-TS inputs, which the core otherwise has
// no native support for.
func openViaFFmpeg(ctx context.Context, path string, targetSampleRate int) (*Audio, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(ErrUnsupportedInput, "ffmpeg not found on PATH")
	}

	durationMS, _ := probeDurationMS(ctx, path)

	args := []string{
		"-hide_banner", "-v", "error",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(targetSampleRate),
		"-f", "f32le",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "pcm: ffmpeg decode failed: %s", stderr.String())
	}

	raw := out.Bytes()
	if len(raw)%4 != 0 {
		return nil, errors.New("pcm: ffmpeg produced a non-multiple-of-4 byte stream")
	}

	n := len(raw) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}

	if durationMS == 0 {
		durationMS = float64(n) / float64(targetSampleRate) * 1000.0
	}

	return &Audio{Samples: samples, SampleRate: targetSampleRate, DurationMS: durationMS}, nil
}

// probeDurationMS asks ffprobe for the input's duration in
// milliseconds; failures are non-fatal since the caller can derive
// duration from the decoded sample count instead.
func probeDurationMS(ctx context.Context, path string) (float64, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, err
	}

	s := strings.TrimSpace(out.String())
	if s == "" {
		return 0, fmt.Errorf("pcm: ffprobe returned no duration for %s", path)
	}
	seconds, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, err
	}
	return seconds * 1000.0, nil
}
