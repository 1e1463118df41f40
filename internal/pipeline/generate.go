// Package pipeline wires the PCM, spectral, event-point, hashing and
// container stages together into the end-to-end generation of a .fp
// file from an input recording. Matching lives in internal/matchindex.
package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tidwall/sjson"

	"github.com/paraswtf/afsispa/internal/cqt"
	"github.com/paraswtf/afsispa/internal/eventpoint"
	"github.com/paraswtf/afsispa/internal/fingerprint"
	"github.com/paraswtf/afsispa/internal/fpfile"
	"github.com/paraswtf/afsispa/internal/ids"
	"github.com/paraswtf/afsispa/internal/panakocfg"
	"github.com/paraswtf/afsispa/internal/pcm"
	"github.com/paraswtf/afsispa/internal/segment"
)

// GenerateResult carries the fields the fpgen status document needs
// beyond the written .fp file itself.
type GenerateResult struct {
	File        *fpfile.File
	NumSegments int
}

// Generate decodes path, extracts fingerprints, and — when monitor is
// true and the stream is long enough — segments it first, remapping
// each window's fingerprints onto the stream's absolute timeline
// before they are merged into one fpfile.File.
func Generate(ctx context.Context, path string, cfg panakocfg.Config, monitor bool) (*GenerateResult, error) {
	audio, err := pcm.Open(ctx, path, cfg.SampleRate)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: decode input")
	}

	durationS := audio.DurationMS / 1000.0

	transform := cqt.New(cfg)
	extractor := eventpoint.New(cfg)
	generator := fingerprint.NewGenerator(cfg)

	var allFPs []fingerprint.Fingerprint
	var segments []fpfile.SegmentMeta
	numSegments := 0

	if monitor && segment.ShouldSegment(durationS, cfg) {
		windows := segment.Split(audio.Samples, cfg)
		numSegments = len(windows)
		dedup := ids.NewDedup(len(windows) * 1024)

		for _, w := range windows {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			fps := fingerprintWindow(w.Samples, transform, extractor, generator)
			fps = segment.Remap(fps, w.StartFrames(cfg))

			kept := fps[:0]
			for _, fp := range fps {
				if dedup.SeenOrAdd(fp.Hash, fp.T1) {
					continue
				}
				kept = append(kept, fp)
			}
			allFPs = append(allFPs, kept...)

			segments = append(segments, fpfile.SegmentMeta{
				SegmentID:       w.SegmentID,
				StartTimeS:      w.StartTimeS,
				EndTimeS:        w.EndTimeS,
				NumFingerprints: len(kept),
			})
		}
	} else {
		allFPs = fingerprintWindow(audio.Samples, transform, extractor, generator)
	}

	f := &fpfile.File{
		SampleRate: uint32(cfg.SampleRate),
		DurationMS: uint64(audio.DurationMS),
		Channels:   1,
		Metadata: fpfile.Metadata{
			AlgorithmID:      "PANAKO",
			AlgorithmParams:  paramsJSON(cfg),
			OriginalFilename: path,
			Segments:         segments,
		},
		Fingerprints: fpfile.FromFingerprints(allFPs),
	}

	return &GenerateResult{File: f, NumSegments: numSegments}, nil
}

func fingerprintWindow(samples []float32, transform *cqt.Transform, extractor *eventpoint.Extractor, generator *fingerprint.Generator) []fingerprint.Fingerprint {
	spectrogram := transform.Compute(samples)
	points := extractor.Extract(spectrogram)
	return generator.Generate(points)
}

// paramsJSON renders the config used for this run as a JSON document,
// embedded verbatim in the .fp file's metadata block so a reader
// always knows which parameters produced it.
func paramsJSON(cfg panakocfg.Config) string {
	doc := "{}"
	fields := []struct {
		path string
		val  interface{}
	}{
		{"sample_rate", cfg.SampleRate},
		{"audio_block_size", cfg.AudioBlockSize},
		{"time_resolution", cfg.TimeResolution},
		{"bands_per_octave", cfg.BandsPerOctave},
		{"min_freq", cfg.MinFreq},
		{"max_freq", cfg.MaxFreq},
		{"freq_max_filter_size", cfg.FreqMaxFilterSize},
		{"time_max_filter_size", cfg.TimeMaxFilterSize},
		{"noise_floor", cfg.NoiseFloor},
		{"fp_min_freq_dist", cfg.FPMinFreqDist},
		{"fp_max_freq_dist", cfg.FPMaxFreqDist},
		{"fp_min_time_dist", cfg.FPMinTimeDist},
		{"fp_max_time_dist", cfg.FPMaxTimeDist},
		{"segment_duration_s", cfg.SegmentDurationS},
		{"overlap_duration_s", cfg.OverlapDurationS},
		{"query_range", cfg.QueryRange},
		{"delta_f_bucket", cfg.DeltaFBucket},
	}
	for _, fld := range fields {
		if updated, err := sjson.Set(doc, fld.path, fld.val); err == nil {
			doc = updated
		}
	}
	return doc
}
