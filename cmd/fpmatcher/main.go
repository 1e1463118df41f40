// Command fpmatcher queries a loaded corpus of .fp files against one
// query fingerprint file and reports the detected matches.
//
// Note on sign convention: time_factor is the slope of reference time
// vs. query time (t1_ref ~= time_factor * t1_query + intercept), the
// ratio of reference:query duration for the same span of query
// frames. A query played back at 90% of its reference's speed yields
// time_factor ~= 1/0.9 ~= 1.11, not 0.9.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dhowden/tag"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/paraswtf/afsispa/internal/fpfile"
	"github.com/paraswtf/afsispa/internal/matchindex"
	"github.com/paraswtf/afsispa/internal/panakocfg"
	"github.com/paraswtf/afsispa/internal/storage"
)

func main() {
	log.SetFlags(0)

	var maxResults int
	var verbose bool

	cmd := &cobra.Command{
		Use:           "fpmatcher <corpus_directory> <query_fp_path>",
		Short:         "Match a fingerprint file against a corpus of reference fingerprints",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1], maxResults, verbose)
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "cap the number of returned detections (0 = unlimited)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log progress to stderr")

	if err := cmd.Execute(); err != nil {
		emitError(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, corpusDir, queryPath string, maxResults int, verbose bool) error {
	cfg := panakocfg.Default()
	if err := cfg.Validate(); err != nil {
		return err
	}

	queryFile, err := fpfile.Read(queryPath)
	if err != nil {
		return err
	}

	idx, err := matchindex.New(cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	if verbose {
		log.Printf("fpmatcher: loading corpus from %s", corpusDir)
	}
	if err := idx.LoadCorpus(ctx, corpusDir); err != nil {
		return err
	}

	if verbose {
		log.Printf("fpmatcher: querying %d fingerprints", len(queryFile.Fingerprints))
	}
	detections, err := idx.Query(ctx, queryFile, maxResults)
	if err != nil {
		return err
	}

	backend := storage.NewFilesystemBackend(corpusDir)
	emitResults(ctx, queryPath, detections, backend)
	return nil
}

// embeddedTitleArtist reads the title and artist tags embedded in the
// reference's original audio file, if the corpus still has metadata
// pointing at a readable path. Failures are non-fatal: an unmatched or
// untagged reference simply reports empty strings.
func embeddedTitleArtist(ctx context.Context, backend *storage.FilesystemBackend, identifier string) (title, artist string) {
	meta, ok, err := backend.GetMetadata(ctx, identifier)
	if err != nil || !ok {
		return "", ""
	}
	f, err := os.Open(meta.OriginalPath)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	return m.Title(), m.Artist()
}

// emitResults writes the structured stdout document spec.md §6
// requires: query_path, detections count, and a results[] array with
// per-detection fields as in spec.md §3. Each result additionally
// carries best-effort title/artist tags read from the reference's
// original file, when the corpus metadata still points at one.
func emitResults(ctx context.Context, queryPath string, detections []matchindex.Detection, backend *storage.FilesystemBackend) {
	doc := "{}"
	doc, _ = sjson.Set(doc, "status", "ok")
	doc, _ = sjson.Set(doc, "query_path", queryPath)
	doc, _ = sjson.Set(doc, "detections", len(detections))

	results := make([]map[string]interface{}, len(detections))
	for i, d := range detections {
		title, artist := embeddedTitleArtist(ctx, backend, d.RefIdentifier)
		results[i] = map[string]interface{}{
			"reference_identifier":       d.RefIdentifier,
			"query_start_s":              d.QueryStartS,
			"query_stop_s":               d.QueryStopS,
			"reference_start_s":          d.RefStartS,
			"reference_stop_s":           d.RefStopS,
			"score":                      d.Score,
			"time_factor":                d.TimeFactor,
			"frequency_factor":           d.FrequencyFactor,
			"percent_seconds_with_match": d.PercentSecondsWithMatch,
			"title":                      title,
			"artist":                     artist,
		}
	}
	doc, _ = sjson.Set(doc, "results", results)
	fmt.Println(doc)
}

func emitError(err error) {
	doc := "{}"
	doc, _ = sjson.Set(doc, "status", "error")
	doc, _ = sjson.Set(doc, "message", err.Error())
	fmt.Println(doc)
}
