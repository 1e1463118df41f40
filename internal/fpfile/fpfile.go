// Package fpfile reads and writes the ".fp" fingerprint container
// format: a 64-byte header, a length-prefixed metadata block, and a
// packed payload of fixed-size fingerprint records.
package fpfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/paraswtf/afsispa/internal/fingerprint"
)

// Magic identifies a .fp file: "FPAN".
var Magic = [4]byte{'F', 'P', 'A', 'N'}

// Version is the only format version this package writes or accepts.
const Version uint32 = 1

const headerSize = 64
const recordSize = 20

// Sentinel errors named after the abstract error kinds in the format
// contract; callers match on these with errors.Is.
var (
	ErrInvalidMagic       = errors.New("fpfile: invalid magic")
	ErrUnsupportedVersion = errors.New("fpfile: unsupported version")
	ErrChecksumMismatch   = errors.New("fpfile: checksum mismatch")
	ErrTruncatedFile      = errors.New("fpfile: truncated file")
	ErrMetadataDecodeError = errors.New("fpfile: metadata decode error")
)

// Record is one on-disk fingerprint: hash, anchor time, anchor
// frequency bin, and anchor magnitude. The payload is 20 bytes per
// record: hash u64, t1 i32, f1 i16, padding u16, m1 f32.
type Record struct {
	Hash uint64
	T1   int32
	F1   int16
	M1   float32
}

// SegmentMeta describes one monitor-mode segment for the metadata
// block's segments table.
type SegmentMeta struct {
	SegmentID     int
	StartTimeS    float64
	EndTimeS      float64
	NumFingerprints int
}

// Metadata is the decoded contents of the metadata block.
type Metadata struct {
	AlgorithmID      string
	AlgorithmParams  string // opaque structured text, a small JSON document
	OriginalFilename string
	Segments         []SegmentMeta // empty unless this is a monitor-mode file
}

// File is a fully decoded .fp container.
type File struct {
	SampleRate   uint32
	DurationMS   uint64
	Channels     uint16
	Metadata     Metadata
	Fingerprints []Record
}

// FromFingerprints converts hasher output into the Record slice a File
// carries; t2/t3/f2/f3/m2/m3 are not part of the serialized format.
func FromFingerprints(fps []fingerprint.Fingerprint) []Record {
	out := make([]Record, len(fps))
	for i, fp := range fps {
		out[i] = Record{Hash: fp.Hash, T1: fp.T1, F1: fp.F1, M1: fp.M1}
	}
	return out
}

// Write serializes f to path atomically: it writes to a temporary file
// in the same directory, fsyncs, then renames over the destination.
func Write(path string, f *File) (err error) {
	metaBytes, err := encodeMetadata(f.Metadata)
	if err != nil {
		return errors.Wrap(err, "fpfile: encode metadata")
	}

	payload := encodePayload(f.Fingerprints)

	checksum := crc32.ChecksumIEEE(append(append([]byte{}, metaBytes...), payload...))

	header := encodeHeader(headerFields{
		MetadataSize:    uint32(len(metaBytes)),
		PayloadSize:     uint64(len(payload)),
		NumFingerprints: uint64(len(f.Fingerprints)),
		SampleRate:      f.SampleRate,
		DurationMS:      f.DurationMS,
		Channels:        f.Channels,
		Checksum:        checksum,
	})

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fpfile-*.tmp")
	if err != nil {
		return errors.Wrap(err, "fpfile: create temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(header); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fpfile: write header")
	}
	if _, err = tmp.Write(metaBytes); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fpfile: write metadata")
	}
	if _, err = tmp.Write(payload); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fpfile: write payload")
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fpfile: fsync")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "fpfile: close temp file")
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "fpfile: rename into place")
	}
	return nil
}

// Read parses a .fp container from path, validating magic, version,
// payload size, and checksum before returning.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "fpfile: read file")
	}
	return Decode(data)
}

// Decode parses a .fp container already held in memory.
func Decode(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrTruncatedFile
	}

	hdr, err := decodeHeader(data[:headerSize])
	if err != nil {
		return nil, err
	}

	rest := data[headerSize:]
	if uint64(len(rest)) < uint64(hdr.MetadataSize)+hdr.PayloadSize {
		return nil, ErrTruncatedFile
	}

	metaBytes := rest[:hdr.MetadataSize]
	payload := rest[hdr.MetadataSize : uint64(hdr.MetadataSize)+hdr.PayloadSize]

	if hdr.PayloadSize != hdr.NumFingerprints*recordSize {
		return nil, errors.Wrapf(ErrTruncatedFile, "payload size %d != %d records * %d bytes", hdr.PayloadSize, hdr.NumFingerprints, recordSize)
	}

	gotChecksum := crc32.ChecksumIEEE(append(append([]byte{}, metaBytes...), payload...))
	if gotChecksum != hdr.Checksum {
		return nil, ErrChecksumMismatch
	}

	meta, err := decodeMetadata(metaBytes)
	if err != nil {
		return nil, err
	}

	records, err := decodePayload(payload, int(hdr.NumFingerprints))
	if err != nil {
		return nil, err
	}

	return &File{
		SampleRate:   hdr.SampleRate,
		DurationMS:   hdr.DurationMS,
		Channels:     hdr.Channels,
		Metadata:     meta,
		Fingerprints: records,
	}, nil
}

type headerFields struct {
	MetadataSize    uint32
	PayloadSize     uint64
	NumFingerprints uint64
	SampleRate      uint32
	DurationMS      uint64
	Channels        uint16
	Checksum        uint32
}

// encodeHeader lays out the fixed 64-byte header:
//
//	magic[4] version(u32) metadata_size(u32) payload_size(u64)
//	num_fingerprints(u64) sample_rate(u32) duration_ms(u64)
//	channels(u16) reserved[18] checksum(u32)
func encodeHeader(h headerFields) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.MetadataSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.PayloadSize)
	binary.LittleEndian.PutUint64(buf[20:28], h.NumFingerprints)
	binary.LittleEndian.PutUint32(buf[28:32], h.SampleRate)
	binary.LittleEndian.PutUint64(buf[32:40], h.DurationMS)
	binary.LittleEndian.PutUint16(buf[40:42], h.Channels)
	// buf[42:60] reserved, left zero
	binary.LittleEndian.PutUint32(buf[60:64], h.Checksum)
	return buf
}

func decodeHeader(buf []byte) (headerFields, error) {
	var h headerFields
	if !bytes.Equal(buf[0:4], Magic[:]) {
		return h, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != Version {
		return h, ErrUnsupportedVersion
	}
	h.MetadataSize = binary.LittleEndian.Uint32(buf[8:12])
	h.PayloadSize = binary.LittleEndian.Uint64(buf[12:20])
	h.NumFingerprints = binary.LittleEndian.Uint64(buf[20:28])
	h.SampleRate = binary.LittleEndian.Uint32(buf[28:32])
	h.DurationMS = binary.LittleEndian.Uint64(buf[32:40])
	h.Channels = binary.LittleEndian.Uint16(buf[40:42])
	h.Checksum = binary.LittleEndian.Uint32(buf[60:64])
	return h, nil
}

func encodePayload(records []Record) []byte {
	buf := make([]byte, len(records)*recordSize)
	for i, r := range records {
		off := i * recordSize
		binary.LittleEndian.PutUint64(buf[off:off+8], r.Hash)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(r.T1))
		binary.LittleEndian.PutUint16(buf[off+12:off+14], uint16(r.F1))
		// buf[off+14:off+16] padding, left zero
		binary.LittleEndian.PutUint32(buf[off+16:off+20], math.Float32bits(r.M1))
	}
	return buf
}

func decodePayload(buf []byte, count int) ([]Record, error) {
	if len(buf) < count*recordSize {
		return nil, ErrTruncatedFile
	}
	out := make([]Record, count)
	for i := 0; i < count; i++ {
		off := i * recordSize
		out[i] = Record{
			Hash: binary.LittleEndian.Uint64(buf[off : off+8]),
			T1:   int32(binary.LittleEndian.Uint32(buf[off+8 : off+12])),
			F1:   int16(binary.LittleEndian.Uint16(buf[off+12 : off+14])),
			M1:   math.Float32frombits(binary.LittleEndian.Uint32(buf[off+16 : off+20])),
		}
	}
	return out, nil
}

// encodeMetadata lays out the metadata block as a small sequence of
// length-prefixed strings (algorithm id, algorithm params, original
// filename) followed by an optional segments table, mirroring the
// order the format's reference layout describes.
func encodeMetadata(m Metadata) ([]byte, error) {
	var buf bytes.Buffer
	writeLPString(&buf, m.AlgorithmID)

	params := m.AlgorithmParams
	if params == "" {
		params = "{}"
	}
	writeLPString(&buf, params)
	writeLPString(&buf, m.OriginalFilename)

	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Segments)))
	for _, s := range m.Segments {
		doc, err := sjson.Set("", "segment_id", s.SegmentID)
		if err != nil {
			return nil, err
		}
		doc, err = sjson.Set(doc, "start_time_s", s.StartTimeS)
		if err != nil {
			return nil, err
		}
		doc, err = sjson.Set(doc, "end_time_s", s.EndTimeS)
		if err != nil {
			return nil, err
		}
		doc, err = sjson.Set(doc, "num_fingerprints", s.NumFingerprints)
		if err != nil {
			return nil, err
		}
		writeLPString(&buf, doc)
	}

	return buf.Bytes(), nil
}

func decodeMetadata(buf []byte) (Metadata, error) {
	var m Metadata
	r := bytes.NewReader(buf)

	algoID, err := readLPString(r)
	if err != nil {
		return m, errors.Wrap(ErrMetadataDecodeError, err.Error())
	}
	params, err := readLPString(r)
	if err != nil {
		return m, errors.Wrap(ErrMetadataDecodeError, err.Error())
	}
	filename, err := readLPString(r)
	if err != nil {
		return m, errors.Wrap(ErrMetadataDecodeError, err.Error())
	}

	m.AlgorithmID = algoID
	m.AlgorithmParams = params
	m.OriginalFilename = filename

	var numSegments uint32
	if err := binary.Read(r, binary.LittleEndian, &numSegments); err != nil {
		if err == io.EOF {
			// No segments count at all. Write always emits one (zero for
			// a non-monitor-mode file), but a block that ends after the
			// filename is accepted as having no segments.
			return m, nil
		}
		return m, errors.Wrap(ErrMetadataDecodeError, err.Error())
	}

	for i := uint32(0); i < numSegments; i++ {
		doc, err := readLPString(r)
		if err != nil {
			return m, errors.Wrap(ErrMetadataDecodeError, err.Error())
		}
		parsed := gjson.Parse(doc)
		m.Segments = append(m.Segments, SegmentMeta{
			SegmentID:       int(parsed.Get("segment_id").Int()),
			StartTimeS:      parsed.Get("start_time_s").Float(),
			EndTimeS:        parsed.Get("end_time_s").Float(),
			NumFingerprints: int(parsed.Get("num_fingerprints").Int()),
		})
	}

	return m, nil
}

func writeLPString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readLPString(r *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("reading %d-byte string: %w", length, err)
	}
	return string(b), nil
}
