// Command fpgen turns one audio recording into a .fp fingerprint file.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/paraswtf/afsispa/internal/panakocfg"
	"github.com/paraswtf/afsispa/internal/pipeline"
	"github.com/paraswtf/afsispa/internal/storage"
)

func main() {
	log.SetFlags(0)

	var monitor bool
	var verbose bool
	var mongoURI string

	cmd := &cobra.Command{
		Use:   "fpgen <input> <output_directory>",
		Short: "Generate a Panako-style fingerprint file from an audio recording",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1], monitor, verbose, mongoURI)
		},
	}
	cmd.Flags().BoolVarP(&monitor, "monitor", "m", false, "segment inputs longer than 25s into overlapping windows")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log progress to stderr")
	cmd.Flags().StringVar(&mongoURI, "mongo-uri", "", "optional MongoDB URI to mirror reference metadata into")

	if err := cmd.Execute(); err != nil {
		emitError(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, input, outputDir string, monitor, verbose bool, mongoURI string) error {
	start := time.Now()
	cfg := panakocfg.Default()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if verbose {
		log.Printf("fpgen: decoding %s", input)
	}

	result, err := pipeline.Generate(ctx, input, cfg, monitor)
	if err != nil {
		return err
	}

	identifier := stemOf(input)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	outputPath := filepath.Join(outputDir, identifier+".fp")

	backend := storage.NewFilesystemBackend(outputDir)
	meta := storage.Metadata{
		Identifier:   identifier,
		OriginalPath: input,
		Algorithm:    result.File.Metadata.AlgorithmID,
		SampleRate:   result.File.SampleRate,
		DurationMS:   result.File.DurationMS,
		Channels:     result.File.Channels,
	}

	if mongoURI != "" {
		if verbose {
			log.Printf("fpgen: mirroring metadata to %s", mongoURI)
		}
		mongoBackend, err := storage.NewMongoBackend(ctx, mongoURI, "afsispa", "references", backend)
		if err != nil {
			return err
		}
		if err := mongoBackend.Save(ctx, identifier, result.File, meta); err != nil {
			return err
		}
	} else if err := backend.Save(ctx, identifier, result.File, meta); err != nil {
		return err
	}

	emitStatus(input, outputPath, result, start)
	return nil
}

func stemOf(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// emitStatus writes the structured success document spec.md §6
// requires on stdout.
func emitStatus(input, output string, result *pipeline.GenerateResult, start time.Time) {
	doc := "{}"
	doc, _ = sjson.Set(doc, "status", "ok")
	doc, _ = sjson.Set(doc, "input_file", input)
	doc, _ = sjson.Set(doc, "output_file", output)
	doc, _ = sjson.Set(doc, "duration_seconds", float64(result.File.DurationMS)/1000.0)
	doc, _ = sjson.Set(doc, "num_fingerprints", len(result.File.Fingerprints))
	doc, _ = sjson.Set(doc, "processing_time_seconds", time.Since(start).Seconds())
	if result.NumSegments > 0 {
		doc, _ = sjson.Set(doc, "num_segments", result.NumSegments)
		doc, _ = sjson.Set(doc, "segment_duration_s", panakocfg.Default().SegmentDurationS)
		doc, _ = sjson.Set(doc, "overlap_duration_s", panakocfg.Default().OverlapDurationS)
	}
	fmt.Println(doc)
}

// emitError converts an error into the structured error document
// spec.md §7 requires: status = "error", human-readable message, no
// stack trace on stdout.
func emitError(err error) {
	doc := "{}"
	doc, _ = sjson.Set(doc, "status", "error")
	doc, _ = sjson.Set(doc, "message", err.Error())
	fmt.Println(doc)
}
