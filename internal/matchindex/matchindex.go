// Package matchindex builds an in-memory inverted hash index over a
// corpus of .fp files and answers queries against it, recovering
// time-stretch and pitch-shift factors and filtering weak detections.
package matchindex

import (
	"context"
	"encoding/binary"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"gonum.org/v1/gonum/stat"

	"github.com/paraswtf/afsispa/internal/fpfile"
	"github.com/paraswtf/afsispa/internal/panakocfg"
)

// postingRecordSize is the size of one posting appended under a hash
// key: ref_id (u32) + t1 (i32) + f1 (i16).
const postingRecordSize = 4 + 4 + 2

// ErrCorpusEmpty is returned when no .fp file under the corpus
// directory could be loaded.
var ErrCorpusEmpty = errors.New("matchindex: corpus produced no loadable reference")

// Detection is one reported match between a query and a reference,
// mirroring the QueryResult shape of the reference implementation.
type Detection struct {
	RefIdentifier   string
	QueryStartS     float64
	QueryStopS      float64
	RefStartS       float64
	RefStopS        float64
	Score           int
	TimeFactor      float64
	FrequencyFactor float64
	PercentSecondsWithMatch float64
}

// Index is a loaded, queryable corpus. Loading is a one-shot
// operation; after LoadCorpus returns, the index is read-only and safe for
// concurrent Query calls.
type Index struct {
	db   *badger.DB
	cfg  panakocfg.Config
	mu   sync.RWMutex
	refByID   []string
	refDurMS  []uint32
}

// New opens an empty, in-memory index.
func New(cfg panakocfg.Config) (*Index, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "matchindex: open in-memory badger db")
	}
	return &Index{db: db, cfg: cfg}, nil
}

// Close releases the underlying in-memory store.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// LoadCorpus reads every .fp file under dir in parallel, inserting
// their fingerprints into the inverted index. Per-file errors are
// logged and skipped; LoadCorpus only fails if the directory is
// missing or nothing loaded at all.
func (idx *Index) LoadCorpus(ctx context.Context, dir string) error {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".fp") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "matchindex: walk corpus directory %q", dir)
	}
	if len(paths) == 0 {
		return ErrCorpusEmpty
	}

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(len(paths)),
		mpb.PrependDecorators(
			decor.Name("Loading corpus: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	// Reference ids are assigned up front from each path's position so
	// workers never coordinate over idx.refByID, and postings for the
	// same hash produced by different files never race: each worker
	// returns its own partial index, which a single merger goroutine
	// folds into the shared store sequentially. This is option (b) of
	// the load-time concurrency policy: per-thread partial indexes,
	// merged after parallel load, rather than per-bucket locking.
	idx.refByID = make([]string, len(paths))
	idx.refDurMS = make([]uint32, len(paths))
	for i, path := range paths {
		idx.refByID[i] = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	type job struct {
		index int
		path  string
	}
	type partial struct {
		index   int
		durMS   uint32
		byHash  map[uint64][]byte
		loadErr error
	}

	jobs := make(chan job, len(paths))
	results := make(chan partial, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					results <- partial{index: j.index, loadErr: ctx.Err()}
					continue
				default:
				}
				durMS, byHash, err := loadOne(j.path, uint32(j.index))
				results <- partial{index: j.index, durMS: durMS, byHash: byHash, loadErr: err}
			}
		}()
	}

	for i, path := range paths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	wb := idx.db.NewWriteBatch()
	defer wb.Cancel()

	var loaded int
	merged := make(map[uint64][]byte)
	for r := range results {
		bar.Increment()
		if r.loadErr != nil {
			log.Printf("matchindex: skipping %s: %v", paths[r.index], r.loadErr)
			continue
		}
		idx.refDurMS[r.index] = r.durMS
		for hash, postings := range r.byHash {
			merged[hash] = append(merged[hash], postings...)
		}
		loaded++
	}
	p.Wait()

	key := make([]byte, 8)
	for hash, postings := range merged {
		existing, err := idx.getPostings(hash)
		if err != nil {
			return errors.Wrap(err, "matchindex: merge read")
		}
		binary.BigEndian.PutUint64(key, hash)
		if err := wb.Set(append([]byte{}, key...), append(existing, postings...)); err != nil {
			return errors.Wrap(err, "matchindex: merge write")
		}
	}

	if err := wb.Flush(); err != nil {
		return errors.Wrap(err, "matchindex: flush corpus batch")
	}

	if loaded == 0 {
		return ErrCorpusEmpty
	}
	return nil
}

// loadOne reads one .fp file and builds its partial hash->postings
// index under the given reference id. It touches no shared state, so
// it is safe to call concurrently from multiple workers.
func loadOne(path string, refID uint32) (uint32, map[uint64][]byte, error) {
	f, err := fpfile.Read(path)
	if err != nil {
		return 0, nil, err
	}

	byHash := make(map[uint64][]byte)
	for _, rec := range f.Fingerprints {
		posting := make([]byte, postingRecordSize)
		binary.BigEndian.PutUint32(posting[0:4], refID)
		binary.BigEndian.PutUint32(posting[4:8], uint32(rec.T1))
		binary.BigEndian.PutUint16(posting[8:10], uint16(rec.F1))
		byHash[rec.Hash] = append(byHash[rec.Hash], posting...)
	}
	return uint32(f.DurationMS), byHash, nil
}

// getPostings returns the raw posting bytes currently stored for hash,
// or nil if absent.
func (idx *Index) getPostings(hash uint64) ([]byte, error) {
	var out []byte
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, hash)
	err := idx.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append(out, val...)
			return nil
		})
	})
	return out, err
}

// vote is one (query fingerprint, posting) match awaiting clustering.
type vote struct {
	refID   uint32
	queryT1 int32
	refT1   int32
	deltaF  int16
}

// Query matches the fingerprints in queryFile against the loaded
// index and returns filtered detections sorted by score descending.
func (idx *Index) Query(ctx context.Context, queryFile *fpfile.File, maxResults int) ([]Detection, error) {
	votesByRef := make(map[uint32][]vote)

	for i, rec := range queryFile.Fingerprints {
		if i%4096 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		postings, err := idx.getPostings(rec.Hash)
		if err != nil {
			return nil, errors.Wrap(err, "matchindex: query lookup")
		}
		for off := 0; off+postingRecordSize <= len(postings); off += postingRecordSize {
			refID := binary.BigEndian.Uint32(postings[off : off+4])
			refT1 := int32(binary.BigEndian.Uint32(postings[off+4 : off+8]))
			refF1 := int16(binary.BigEndian.Uint16(postings[off+8 : off+10]))

			votesByRef[refID] = append(votesByRef[refID], vote{
				refID:   refID,
				queryT1: rec.T1,
				refT1:   refT1,
				deltaF:  refF1 - rec.F1,
			})
		}
	}

	var detections []Detection
	for refID, votes := range votesByRef {
		idx.mu.RLock()
		identifier := idx.refByID[refID]
		durMS := idx.refDurMS[refID]
		idx.mu.RUnlock()

		for _, d := range idx.alignAndFilter(identifier, durMS, votes) {
			detections = append(detections, d)
		}
	}

	sort.Slice(detections, func(i, j int) bool { return detections[i].Score > detections[j].Score })
	if maxResults > 0 && len(detections) > maxResults {
		detections = detections[:maxResults]
	}
	return detections, nil
}

// alignAndFilter groups votes for one reference by coarsened Δf,
// clusters their Δt values, fits a regression line per surviving
// cluster, and drops clusters that fail the filtering thresholds.
func (idx *Index) alignAndFilter(identifier string, refDurMS uint32, votes []vote) []Detection {
	bucketWidth := idx.cfg.DeltaFBucket
	if bucketWidth <= 0 {
		bucketWidth = 1
	}
	byDeltaF := make(map[int16][]vote)
	for _, v := range votes {
		bucket := v.deltaF / bucketWidth
		byDeltaF[bucket] = append(byDeltaF[bucket], v)
	}

	var out []Detection
	for _, group := range byDeltaF {
		for _, cluster := range idx.clusterByDeltaT(group) {
			if len(cluster) < idx.cfg.MinHitsFiltered {
				continue
			}

			det, ok := idx.buildDetection(identifier, refDurMS, cluster)
			if !ok {
				continue
			}
			if det.QueryStopS-det.QueryStartS < 0.1 {
				continue
			}
			if det.PercentSecondsWithMatch < idx.cfg.MinSecWithMatch {
				continue
			}
			if det.Score < idx.cfg.MinHitsFiltered {
				continue
			}
			if det.TimeFactor < idx.cfg.MinTimeFactor || det.TimeFactor > idx.cfg.MaxTimeFactor {
				continue
			}
			if det.FrequencyFactor < idx.cfg.MinFreqFactor || det.FrequencyFactor > idx.cfg.MaxFreqFactor {
				continue
			}
			out = append(out, det)
		}
	}
	return out
}

// clusterByDeltaT histograms Δt = ref_t1 - query_t1 and groups votes
// whose Δt falls within QueryRange frames of a local mode, using
// bucketed counting so a small time-stretch (which slowly drifts Δt)
// is still captured by one cluster.
func (idx *Index) clusterByDeltaT(votes []vote) [][]vote {
	histogram := make(map[int32]int)
	for _, v := range votes {
		histogram[v.refT1-v.queryT1]++
	}

	var deltas []int32
	for d := range histogram {
		deltas = append(deltas, d)
	}
	sort.Slice(deltas, func(i, j int) bool { return histogram[deltas[i]] > histogram[deltas[j]] })

	assigned := make(map[int32]bool)
	var clusters [][]vote

	for _, bestDelta := range deltas {
		if assigned[bestDelta] {
			continue
		}
		var cluster []vote
		for _, v := range votes {
			d := v.refT1 - v.queryT1
			if abs32(d-bestDelta) <= idx.cfg.QueryRange {
				cluster = append(cluster, v)
				assigned[d] = true
			}
		}
		if len(cluster) > 0 {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

// buildDetection fits the query/reference time regression and
// computes coverage and frequency factor for one aligned cluster.
func (idx *Index) buildDetection(identifier string, refDurMS uint32, cluster []vote) (Detection, bool) {
	if len(cluster) == 0 {
		return Detection{}, false
	}

	xs := make([]float64, len(cluster))
	ys := make([]float64, len(cluster))
	minQ, maxQ := cluster[0].queryT1, cluster[0].queryT1
	minR, maxR := cluster[0].refT1, cluster[0].refT1
	var sumDeltaF int64

	for i, v := range cluster {
		xs[i] = float64(v.queryT1)
		ys[i] = float64(v.refT1)
		if v.queryT1 < minQ {
			minQ = v.queryT1
		}
		if v.queryT1 > maxQ {
			maxQ = v.queryT1
		}
		if v.refT1 < minR {
			minR = v.refT1
		}
		if v.refT1 > maxR {
			maxR = v.refT1
		}
		sumDeltaF += int64(v.deltaF)
	}

	timeFactor := 1.0
	if len(cluster) >= 2 {
		_, timeFactor = stat.LinearRegression(xs, ys, nil, false)
	}

	avgDeltaF := float64(sumDeltaF) / float64(len(cluster))
	frequencyFactor := math.Exp2(avgDeltaF / float64(idx.cfg.BandsPerOctave))

	secPerFrame := idx.cfg.SecondsPerFrame()
	queryStartS := float64(minQ) * secPerFrame
	queryStopS := float64(maxQ) * secPerFrame

	coveredSeconds := make(map[int]struct{})
	for _, v := range cluster {
		coveredSeconds[int(float64(v.queryT1)*secPerFrame)] = struct{}{}
	}
	totalSeconds := queryStopS - queryStartS
	var coverage float64
	if totalSeconds > 0 {
		coverage = float64(len(coveredSeconds)) / totalSeconds
	}

	return Detection{
		RefIdentifier:           identifier,
		QueryStartS:             queryStartS,
		QueryStopS:              queryStopS,
		RefStartS:               float64(minR) * secPerFrame,
		RefStopS:                float64(maxR) * secPerFrame,
		Score:                   len(cluster),
		TimeFactor:              timeFactor,
		FrequencyFactor:         frequencyFactor,
		PercentSecondsWithMatch: coverage,
	}, true
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
