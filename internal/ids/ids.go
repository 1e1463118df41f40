// Package ids provides lightweight keying helpers used to suppress
// duplicate fingerprint records, e.g. when merging overlap-duplicated
// segments from a single source before they reach the index.
package ids

import (
	"encoding/binary"

	xxhash "github.com/OneOfOne/xxhash"
)

// FingerprintKey returns a stable dedup key for a (hash, reference
// time) pair, matching the teacher's use of xxhash for fingerprint
// keying. Two records with the same hash and t1 are considered the
// same landmark regardless of which segment produced them.
func FingerprintKey(hash uint64, t1 int32) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:8], hash)
	binary.BigEndian.PutUint32(buf[8:12], uint32(t1))
	return xxhash.Checksum64(buf[:])
}

// Dedup tracks which FingerprintKey values have already been seen.
// Not safe for concurrent use; callers merge from a single goroutine.
type Dedup struct {
	seen map[uint64]struct{}
}

// NewDedup returns an empty Dedup with capacity hinted by expected.
func NewDedup(expected int) *Dedup {
	return &Dedup{seen: make(map[uint64]struct{}, expected)}
}

// SeenOrAdd reports whether (hash, t1) was already recorded, adding it
// to the seen set if not.
func (d *Dedup) SeenOrAdd(hash uint64, t1 int32) bool {
	key := FingerprintKey(hash, t1)
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}
