package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// DefaultCacheMaxBytes is the default ceiling on the reader's decompressed
// read cache (§6 storage.cache.max_bytes).
const DefaultCacheMaxBytes = 100 << 20

// Reader opens a `.vecdb`/`.vecidx` pair lazily and verifies each entry's
// checksum on its first read, caching decompressed bytes up to a
// configurable ceiling with coarse (drop-all) eviction.
type Reader struct {
	basePath string
	index    StorageIndex
	byPath   map[string]FileEntry
	byName   map[string]*CollectionIndex
	zr       *zip.ReadCloser

	mu            sync.Mutex
	cache         map[string][]byte
	cacheBytes    int64
	cacheMaxBytes int64
}

// Open opens the archive pair at basePath (without extension). If the
// previous write crashed between its two renames, Open first detects and
// rolls back the orphaned ".prev" backups so the last fully-committed
// pair is what gets opened (§8 property 9).
func Open(basePath string, cacheMaxBytes int64) (*Reader, error) {
	recoverCrashedWrite(basePath)

	dataPath := basePath + ".vecdb"
	idxPath := basePath + ".vecidx"

	dataExists := fileExists(dataPath)
	idxExists := fileExists(idxPath)
	if dataExists && !idxExists {
		return nil, ErrMissingIndex
	}
	if !dataExists {
		return nil, fmt.Errorf("archive: %w: %s", ErrNotFound, dataPath)
	}

	idxBytes, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, fmt.Errorf("archive: read index: %w", err)
	}
	var idx StorageIndex
	if err := json.Unmarshal(idxBytes, &idx); err != nil {
		return nil, fmt.Errorf("archive: parse index: %w", err)
	}

	zr, err := zip.OpenReader(dataPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open data file: %w", err)
	}

	byPath := make(map[string]FileEntry)
	byName := make(map[string]*CollectionIndex)
	for i := range idx.Collections {
		ci := &idx.Collections[i]
		byName[ci.Name] = ci
		for _, fe := range ci.Files {
			byPath[fe.Path] = fe
		}
	}

	if cacheMaxBytes <= 0 {
		cacheMaxBytes = DefaultCacheMaxBytes
	}

	return &Reader{
		basePath:      basePath,
		index:         idx,
		byPath:        byPath,
		byName:        byName,
		zr:            zr,
		cache:         make(map[string][]byte),
		cacheMaxBytes: cacheMaxBytes,
	}, nil
}

// recoverCrashedWrite detects the exact partial-write signature a crash
// between WriteArchive's two renames leaves behind — the new data file
// already renamed into place, but the index rename never completed, with
// both ".prev" backups still present — and rolls the pair back to the
// last coherent state.
func recoverCrashedWrite(basePath string) {
	dataPath := basePath + ".vecdb"
	idxPath := basePath + ".vecidx"
	dataPrev := dataPath + ".prev"
	idxPrev := idxPath + ".prev"

	if fileExists(idxPath) || !fileExists(dataPrev) || !fileExists(idxPrev) {
		return
	}
	log.Printf("archive: detected interrupted write at %s, rolling back to previous pair", basePath)
	os.Remove(dataPath)
	os.Rename(dataPrev, dataPath)
	os.Rename(idxPrev, idxPath)
}

// Index returns the parsed StorageIndex manifest.
func (r *Reader) Index() StorageIndex {
	return r.index
}

// ListCollections returns every collection name described by the index.
func (r *Reader) ListCollections() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// GetCollection returns the named collection's manifest entry.
func (r *Reader) GetCollection(name string) (*CollectionIndex, bool) {
	ci, ok := r.byName[name]
	return ci, ok
}

// ReadFile returns the decompressed, checksum-verified contents of path.
// Results are cached; on cache-budget overflow the entire cache is
// dropped and the new entry is cached in its place.
func (r *Reader) ReadFile(path string) ([]byte, error) {
	cacheKey := cacheKeyFor(path)

	r.mu.Lock()
	if data, ok := r.cache[cacheKey]; ok {
		r.mu.Unlock()
		return data, nil
	}
	r.mu.Unlock()

	entry, ok := r.byPath[path]
	if !ok {
		return nil, fmt.Errorf("archive: %w: %s", ErrNotFound, path)
	}

	zf, err := r.findZipFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w: %s", ErrTruncatedArchive, path)
	}

	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != entry.SHA256 {
		return nil, fmt.Errorf("archive: %w: %s", ErrCorruptArchive, path)
	}

	r.mu.Lock()
	if r.cacheBytes+int64(len(data)) > r.cacheMaxBytes {
		r.cache = make(map[string][]byte)
		r.cacheBytes = 0
	}
	r.cache[cacheKey] = data
	r.cacheBytes += int64(len(data))
	r.mu.Unlock()

	return data, nil
}

func (r *Reader) findZipFile(path string) (*zip.File, error) {
	for _, zf := range r.zr.File {
		if zf.Name == path {
			return zf, nil
		}
	}
	return nil, ErrNotFound
}

// ReadCollectionFiles returns every file belonging to name, keyed by its
// full path inside the archive (e.g. "data/<name>/vectors.bin"), each
// checksum-verified.
func (r *Reader) ReadCollectionFiles(name string) (map[string][]byte, error) {
	ci, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("archive: %w: collection %q", ErrNotFound, name)
	}
	out := make(map[string][]byte, len(ci.Files))
	for _, fe := range ci.Files {
		data, err := r.ReadFile(fe.Path)
		if err != nil {
			return nil, err
		}
		out[fe.Path] = data
	}
	return out, nil
}

// VerifyAll recomputes the checksum of every entry in the index (§8
// property 8), returning the first mismatch encountered.
func (r *Reader) VerifyAll() error {
	for path := range r.byPath {
		if _, err := r.ReadFile(path); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying ZIP file handle.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// cacheKeyFor hashes path with blake2b for the in-memory cache key — a
// fast keyed hash, not a security boundary; SHA-256 remains the on-disk
// integrity checksum (§4.D).
func cacheKeyFor(path string) string {
	sum := blake2b.Sum256([]byte(path))
	return hex.EncodeToString(sum[:16])
}
