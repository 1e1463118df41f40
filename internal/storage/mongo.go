package storage

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/paraswtf/afsispa/internal/fpfile"
)

// mongoRecord is the BSON shape of one fingerprint record, mirroring
// fpfile.Record field-for-field.
type mongoRecord struct {
	Hash uint64  `bson:"hash"`
	T1   int32   `bson:"t1"`
	F1   int16   `bson:"f1"`
	M1   float32 `bson:"m1"`
}

// mongoSegment is the BSON shape of one monitor-mode segment entry,
// mirroring fpfile.SegmentMeta.
type mongoSegment struct {
	SegmentID       int     `bson:"segment_id"`
	StartTimeS      float64 `bson:"start_time_s"`
	EndTimeS        float64 `bson:"end_time_s"`
	NumFingerprints int     `bson:"num_fingerprints"`
}

// mongoDoc is the document written to the fingerprint collection. It
// carries the full .fp payload BSON-encoded alongside queryable
// metadata fields (created_at, num_fingerprints) a flat filesystem
// corpus has no natural place to keep.
type mongoDoc struct {
	Identifier      string        `bson:"_id"`
	OriginalPath    string        `bson:"original_path"`
	Algorithm       string        `bson:"algorithm"`
	AlgorithmParams string        `bson:"algorithm_params"`
	SampleRate      uint32        `bson:"sample_rate"`
	DurationMS      uint64        `bson:"duration_ms"`
	Channels        uint16        `bson:"channels"`
	Segments        []mongoSegment `bson:"segments,omitempty"`
	Fingerprints    []mongoRecord `bson:"fingerprints"`
	NumFingerprints int           `bson:"num_fingerprints"`
	CreatedAt       time.Time     `bson:"created_at"`
}

// MongoBackend makes MongoDB the system of record for both fingerprint
// payloads and metadata, mirroring the enrichment the Rust
// reimplementation's PostgresqlBackend provides over a plain file
// corpus: full records round-trip through the database, enabling
// filesystem-free retrieval. Every Save is still echoed to an embedded
// FilesystemBackend so the original audio path remains on disk for
// tag-based enrichment lookups elsewhere in this module.
type MongoBackend struct {
	fs         *FilesystemBackend
	collection *mongo.Collection
}

// NewMongoBackend connects to uri and wraps fsBackend, mirroring every
// Save into the named database/collection.
func NewMongoBackend(ctx context.Context, uri, database, collection string, fsBackend *FilesystemBackend) (*MongoBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "storage: connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "storage: ping mongo")
	}
	return &MongoBackend{
		fs:         fsBackend,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Load reads the fingerprint document from Mongo, reconstructing a
// fpfile.File from its BSON-encoded payload.
func (b *MongoBackend) Load(ctx context.Context, identifier string) (*fpfile.File, error) {
	var doc mongoDoc
	err := b.collection.FindOne(ctx, bson.M{"_id": identifier}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.Wrapf(os.ErrNotExist, "storage: %q not found in mongo", identifier)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "storage: load %q from mongo", identifier)
	}
	return docToFile(doc), nil
}

// LoadAll reads every fingerprint document in the collection.
func (b *MongoBackend) LoadAll(ctx context.Context) (map[string]*fpfile.File, error) {
	cursor, err := b.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "storage: query mongo collection")
	}
	defer cursor.Close(ctx)

	out := make(map[string]*fpfile.File)
	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			continue // a single malformed document shouldn't sink the whole corpus load
		}
		out[doc.Identifier] = docToFile(doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: iterate mongo collection")
	}
	return out, nil
}

// Save mirrors the fingerprint payload to the filesystem backend (so
// the original audio path stays reachable for metadata enrichment),
// then upserts the full BSON-encoded payload and metadata into Mongo.
func (b *MongoBackend) Save(ctx context.Context, identifier string, f *fpfile.File, meta Metadata) error {
	if err := b.fs.Save(ctx, identifier, f, meta); err != nil {
		return err
	}

	records := make([]mongoRecord, len(f.Fingerprints))
	for i, r := range f.Fingerprints {
		records[i] = mongoRecord{Hash: r.Hash, T1: r.T1, F1: r.F1, M1: r.M1}
	}

	segments := make([]mongoSegment, len(f.Metadata.Segments))
	for i, s := range f.Metadata.Segments {
		segments[i] = mongoSegment{
			SegmentID:       s.SegmentID,
			StartTimeS:      s.StartTimeS,
			EndTimeS:        s.EndTimeS,
			NumFingerprints: s.NumFingerprints,
		}
	}

	doc := mongoDoc{
		Identifier:      identifier,
		OriginalPath:    meta.OriginalPath,
		Algorithm:       f.Metadata.AlgorithmID,
		AlgorithmParams: f.Metadata.AlgorithmParams,
		SampleRate:      meta.SampleRate,
		DurationMS:      meta.DurationMS,
		Channels:        meta.Channels,
		Segments:        segments,
		Fingerprints:    records,
		NumFingerprints: len(f.Fingerprints),
		CreatedAt:       time.Now(),
	}

	opts := options.Replace().SetUpsert(true)
	_, err := b.collection.ReplaceOne(ctx, bson.M{"_id": identifier}, doc, opts)
	if err != nil {
		return errors.Wrapf(err, "storage: upsert mongo document for %q", identifier)
	}
	return nil
}

// GetMetadata reads the stored document's metadata fields without
// decoding its fingerprint payload.
func (b *MongoBackend) GetMetadata(ctx context.Context, identifier string) (*Metadata, bool, error) {
	projection := options.FindOne().SetProjection(bson.M{"fingerprints": 0})
	var doc mongoDoc
	err := b.collection.FindOne(ctx, bson.M{"_id": identifier}, projection).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "storage: find mongo metadata for %q", identifier)
	}
	return &Metadata{
		Identifier:   doc.Identifier,
		OriginalPath: doc.OriginalPath,
		Algorithm:    doc.Algorithm,
		SampleRate:   doc.SampleRate,
		DurationMS:   doc.DurationMS,
		Channels:     doc.Channels,
	}, true, nil
}

// docToFile reconstructs a fpfile.File from a decoded mongoDoc.
func docToFile(doc mongoDoc) *fpfile.File {
	records := make([]fpfile.Record, len(doc.Fingerprints))
	for i, r := range doc.Fingerprints {
		records[i] = fpfile.Record{Hash: r.Hash, T1: r.T1, F1: r.F1, M1: r.M1}
	}

	segments := make([]fpfile.SegmentMeta, len(doc.Segments))
	for i, s := range doc.Segments {
		segments[i] = fpfile.SegmentMeta{
			SegmentID:       s.SegmentID,
			StartTimeS:      s.StartTimeS,
			EndTimeS:        s.EndTimeS,
			NumFingerprints: s.NumFingerprints,
		}
	}

	return &fpfile.File{
		SampleRate: doc.SampleRate,
		DurationMS: doc.DurationMS,
		Channels:   doc.Channels,
		Metadata: fpfile.Metadata{
			AlgorithmID:      doc.Algorithm,
			AlgorithmParams:  doc.AlgorithmParams,
			OriginalFilename: doc.OriginalPath,
			Segments:         segments,
		},
		Fingerprints: records,
	}
}
