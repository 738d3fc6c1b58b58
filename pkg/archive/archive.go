// Package archive implements the compact durable store (§4.D): a pair of
// sibling files, `<name>.vecdb` (a ZIP container of per-collection
// artifacts) and `<name>.vecidx` (a JSON manifest describing every packed
// entry with its checksum), written atomically and read with checksum
// verification on first access.
package archive

import (
	"errors"
	"time"
)

// ErrMissingIndex is returned by Open when a .vecdb file exists with no
// sibling .vecidx. The core never recomputes the index by scanning the
// archive alone; that is a separate migration tool's job.
var ErrMissingIndex = errors.New("archive: missing .vecidx sibling")

// ErrCorruptArchive is returned when a read entry's recomputed SHA-256
// does not match the checksum recorded for it in the index.
var ErrCorruptArchive = errors.New("archive: checksum mismatch")

// ErrTruncatedArchive is returned when the index lists an entry the ZIP
// container does not contain.
var ErrTruncatedArchive = errors.New("archive: truncated (entry missing from data file)")

// ErrNotFound is returned when a requested collection or path is absent.
var ErrNotFound = errors.New("archive: not found")

// FileType classifies a packed archive entry.
type FileType string

const (
	FileVectors   FileType = "Vectors"
	FileMetadata  FileType = "Metadata"
	FileConfig    FileType = "Config"
	FileIndex     FileType = "Index"
	FileTokenizer FileType = "Tokenizer"
	FileOther     FileType = "Other"
)

// FileEntry describes one packed artifact: its path inside the .vecdb ZIP,
// its uncompressed and compressed sizes, the SHA-256 of its uncompressed
// content, and its classified type.
type FileEntry struct {
	Path           string   `json:"path"`
	Size           int64    `json:"size"`
	CompressedSize int64    `json:"compressed_size"`
	SHA256         string   `json:"sha256"`
	Type           FileType `json:"type"`
}

// CollectionIndex describes one collection's artifacts inside the archive.
type CollectionIndex struct {
	Name        string                 `json:"name"`
	Files       []FileEntry            `json:"files"`
	VectorCount int                    `json:"vector_count"`
	Dimension   int                    `json:"dimension"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StorageIndex is the `.vecidx` manifest schema (§6).
type StorageIndex struct {
	Version          string            `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Collections      []CollectionIndex `json:"collections"`
	TotalSize        int64             `json:"total_size"`
	CompressedSize   int64             `json:"compressed_size"`
	CompressionRatio float64           `json:"compression_ratio"`
}

// IndexVersion is the manifest schema version this package writes and
// expects to read.
const IndexVersion = "1.0"

// SourceFile is one artifact handed to the writer for packing: a relative
// name within its collection's directory (e.g. "vectors.bin",
// "metadata.json", "tokenizer.json") and its raw bytes. A name ending in
// ".gz" is decompressed before packing (§9: the archive never double
// compresses) and the ".gz" suffix is dropped from the packed path.
type SourceFile struct {
	Name string
	Data []byte
}

// Fragment is what a Collection hands the archive writer for one
// collection: its vector data, metadata, and optional tokenizer state.
type Fragment struct {
	Collection  string
	VectorCount int
	Dimension   int
	Metadata    map[string]interface{}
	Files       []SourceFile
}
