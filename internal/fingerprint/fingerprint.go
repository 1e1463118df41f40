// Package fingerprint connects triplets of event points into 64-bit
// hashes. The hash bit layout is pinned to the Panako reference
// implementation so fingerprint files produced here interoperate with
// other Panako-compatible tooling.
package fingerprint

import (
	"sort"

	"github.com/paraswtf/afsispa/internal/eventpoint"
	"github.com/paraswtf/afsispa/internal/panakocfg"
)

// Fingerprint is a single 64-bit landmark hash anchored at its first
// event point. t2/f2/m2 and t3/f3/m3 are retained only for debugging
// and are not part of the serialized .fp record.
type Fingerprint struct {
	Hash uint64
	T1   int32
	F1   int16
	M1   float32

	T2, T3 int32
	F2, F3 int16
	M2, M3 float32
}

// New builds a Fingerprint from three event points and computes its
// hash immediately.
func New(e1, e2, e3 eventpoint.EventPoint) Fingerprint {
	fp := Fingerprint{
		T1: e1.T, F1: e1.F, M1: e1.M,
		T2: e2.T, F2: e2.F, M2: e2.M,
		T3: e3.T, F3: e3.F, M3: e3.M,
	}
	fp.Hash = computeHash(e1, e2, e3)
	return fp
}

// computeHash packs comparison and distance bits from the three event
// points into a single uint64. This is the exact bit layout used by
// the Java reference implementation (PanakoFingerprint): bits 0-5 hold
// a quantized time ratio, bits 6-11 hold six ordering comparisons
// between the three points' frequencies and magnitudes, bit 12 holds
// the time-delta ordering, bit 13 the frequency-delta ordering, bits 14-21
// hold the first point's frequency range, and bits 22-33 hold the two
// successive frequency deltas. This layout must never change — it is
// the wire contract other Panako-compatible readers rely on.
func computeHash(e1, e2, e3 eventpoint.EventPoint) uint64 {
	f1, f2, f3 := int32(e1.F), int32(e2.F), int32(e3.F)
	m1, m2, m3 := e1.M, e2.M, e3.M
	t1, t2, t3 := e1.T, e2.T, e3.T

	var f1LargerF2, f2LargerF3, f3LargerF1 uint64
	if f1 > f2 {
		f1LargerF2 = 1
	}
	if f2 > f3 {
		f2LargerF3 = 1
	}
	if f3 > f1 {
		f3LargerF1 = 1
	}

	var m1LargerM2, m2LargerM3, m3LargerM1 uint64
	if m1 > m2 {
		m1LargerM2 = 1
	}
	if m2 > m3 {
		m2LargerM3 = 1
	}
	if m3 > m1 {
		m3LargerM1 = 1
	}

	var dt12LargerDt32 uint64
	if (t2 - t1) > (t3 - t2) {
		dt12LargerDt32 = 1
	}
	var df12LargerDf32 uint64
	if abs32(f2-f1) > abs32(f3-f2) {
		df12LargerDf32 = 1
	}

	f1Range := uint64(f1>>5) & 0xFF

	df2f1 := uint64(abs32(f2-f1)>>2) & 0x3F
	df3f2 := uint64(abs32(f3-f2)>>2) & 0x3F

	var ratioT uint64
	if dt := t3 - t1; dt != 0 {
		ratioT = uint64(float32(t2-t1)/float32(dt)*64.0) & 0x3F
	}

	hash := (ratioT & 0x3F) << 0
	hash |= (f1LargerF2 & 0x1) << 6
	hash |= (f2LargerF3 & 0x1) << 7
	hash |= (f3LargerF1 & 0x1) << 8
	hash |= (m1LargerM2 & 0x1) << 9
	hash |= (m2LargerM3 & 0x1) << 10
	hash |= (m3LargerM1 & 0x1) << 11
	hash |= (dt12LargerDt32 & 0x1) << 12
	hash |= (df12LargerDf32 & 0x1) << 13
	hash |= (f1Range & 0xFF) << 14
	hash |= (df2f1 & 0x3F) << 22
	hash |= (df3f2 & 0x3F) << 28

	return hash
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Generator enumerates valid triplets of event points within the
// configured target-zone distance constraints and hashes each one.
type Generator struct {
	minFreqDist int16
	maxFreqDist int16
	minTimeDist int32
	maxTimeDist int32
}

// NewGenerator builds a Generator from algorithm parameters.
func NewGenerator(cfg panakocfg.Config) *Generator {
	return &Generator{
		minFreqDist: cfg.FPMinFreqDist,
		maxFreqDist: cfg.FPMaxFreqDist,
		minTimeDist: cfg.FPMinTimeDist,
		maxTimeDist: cfg.FPMaxTimeDist,
	}
}

// Generate forms fingerprints from every (e1, e2, e3) triplet, i < j <
// k, whose consecutive pairs both satisfy the target-zone distance
// constraints, and returns them sorted by T1 for deterministic output.
func (g *Generator) Generate(points []eventpoint.EventPoint) []Fingerprint {
	var out []Fingerprint

	for i := 0; i < len(points); i++ {
		e1 := points[i]
		for j := i + 1; j < len(points); j++ {
			e2 := points[j]
			dt12 := e2.T - e1.T
			df12 := absI16(e2.F - e1.F)
			if dt12 < g.minTimeDist || dt12 > g.maxTimeDist {
				continue
			}
			if df12 < g.minFreqDist || df12 > g.maxFreqDist {
				continue
			}

			for k := j + 1; k < len(points); k++ {
				e3 := points[k]
				dt23 := e3.T - e2.T
				df23 := absI16(e3.F - e2.F)
				if dt23 < g.minTimeDist || dt23 > g.maxTimeDist {
					continue
				}
				if df23 < g.minFreqDist || df23 > g.maxFreqDist {
					continue
				}

				out = append(out, New(e1, e2, e3))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].T1 < out[j].T1 })
	return out
}

func absI16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}
