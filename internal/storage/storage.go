// Package storage abstracts where fingerprint files and their
// metadata live, so the matcher and generator don't need to know
// whether a corpus is a plain directory of .fp files or one mirrored
// into a document store for richer querying.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/paraswtf/afsispa/internal/fpfile"
)

// Metadata describes one stored fingerprint file, independent of the
// backend holding it.
type Metadata struct {
	Identifier   string
	OriginalPath string
	Algorithm    string
	SampleRate   uint32
	DurationMS   uint64
	Channels     uint16
}

// Backend is the storage abstraction every corpus-reading component
// depends on. FilesystemBackend is the only backend required for the
// core pipeline to function; other backends are optional mirrors for
// metadata querying.
type Backend interface {
	// Load reads the fingerprint file for identifier.
	Load(ctx context.Context, identifier string) (*fpfile.File, error)
	// LoadAll reads every fingerprint file the backend holds.
	LoadAll(ctx context.Context) (map[string]*fpfile.File, error)
	// Save persists fingerprints for identifier along with metadata.
	Save(ctx context.Context, identifier string, f *fpfile.File, meta Metadata) error
	// GetMetadata returns stored metadata for identifier, if present.
	GetMetadata(ctx context.Context, identifier string) (*Metadata, bool, error)
}

// FilesystemBackend stores one .fp file per reference identifier in a
// flat directory — the only backend the rest of this module requires.
type FilesystemBackend struct {
	baseDir string
}

// NewFilesystemBackend returns a Backend rooted at baseDir. Save creates
// the directory if it is missing; the read methods fail without it.
func NewFilesystemBackend(baseDir string) *FilesystemBackend {
	return &FilesystemBackend{baseDir: baseDir}
}

func (b *FilesystemBackend) pathFor(identifier string) string {
	return filepath.Join(b.baseDir, identifier+".fp")
}

// Load implements Backend.
func (b *FilesystemBackend) Load(_ context.Context, identifier string) (*fpfile.File, error) {
	f, err := fpfile.Read(b.pathFor(identifier))
	if err != nil {
		return nil, errors.Wrapf(err, "storage: load %q", identifier)
	}
	return f, nil
}

// LoadAll implements Backend, reading every ".fp" file under baseDir.
func (b *FilesystemBackend) LoadAll(_ context.Context) (map[string]*fpfile.File, error) {
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: read directory %q", b.baseDir)
	}

	out := make(map[string]*fpfile.File)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".fp") {
			continue
		}
		identifier := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		f, err := fpfile.Read(filepath.Join(b.baseDir, e.Name()))
		if err != nil {
			continue // per-file load failures are recovered by the caller's matchindex loader; skip here too
		}
		out[identifier] = f
	}
	return out, nil
}

// Save implements Backend, writing identifier.fp atomically via
// fpfile.Write. The metadata parameter is accepted for symmetry with
// richer backends but the filesystem format already embeds everything
// it needs in the .fp container itself.
func (b *FilesystemBackend) Save(_ context.Context, identifier string, f *fpfile.File, _ Metadata) error {
	if err := os.MkdirAll(b.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "storage: create base directory")
	}
	return fpfile.Write(b.pathFor(identifier), f)
}

// GetMetadata implements Backend by reading the file and reporting
// its header fields; the filesystem backend has no separate metadata
// store.
func (b *FilesystemBackend) GetMetadata(ctx context.Context, identifier string) (*Metadata, bool, error) {
	f, err := b.Load(ctx, identifier)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &Metadata{
		Identifier:   identifier,
		OriginalPath: f.Metadata.OriginalFilename,
		Algorithm:    f.Metadata.AlgorithmID,
		SampleRate:   f.SampleRate,
		DurationMS:   f.DurationMS,
		Channels:     f.Channels,
	}, true, nil
}
