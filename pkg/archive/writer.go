package archive

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
)

// Writer produces atomically-swapped `.vecdb`/`.vecidx` pairs.
type Writer struct {
	// CompressionLevel is the DEFLATE level [1,22] recorded in config but
	// clamped to the stdlib flate range [1,9] at the zip boundary — zip
	// only exposes flate's levels, not the wider zstd-style scale config
	// accepts for forward compatibility.
	CompressionLevel int
}

// NewWriter returns a Writer using the given compression level (§6
// storage.compression_level, 1..22).
func NewWriter(compressionLevel int) *Writer {
	return &Writer{CompressionLevel: compressionLevel}
}

func (w *Writer) flateLevel() int {
	l := w.CompressionLevel
	if l < 1 {
		l = 1
	}
	if l > 9 {
		l = 9
	}
	return l
}

// WriteArchive packs fragments into basePath+".vecdb" / basePath+".vecidx",
// replacing any existing pair atomically. It writes to ".tmp" siblings,
// fsyncs them, backs up the current pair (if any) to ".prev" siblings,
// renames the new files into place data-first-then-index, and finally
// removes the backups. A failure at any rename step rolls the backups
// back into place so the previous pair remains authoritative (§4.D, §8
// property 9).
func (w *Writer) WriteArchive(basePath string, fragments []Fragment) (*StorageIndex, error) {
	dataPath := basePath + ".vecdb"
	idxPath := basePath + ".vecidx"
	dataTmp := dataPath + ".tmp"
	idxTmp := idxPath + ".tmp"

	idx, err := w.buildZip(dataTmp, fragments)
	if err != nil {
		os.Remove(dataTmp)
		return nil, fmt.Errorf("archive: build zip: %w", err)
	}

	idxBytes, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		os.Remove(dataTmp)
		return nil, fmt.Errorf("archive: marshal index: %w", err)
	}
	if err := writeSynced(idxTmp, idxBytes); err != nil {
		os.Remove(dataTmp)
		os.Remove(idxTmp)
		return nil, fmt.Errorf("archive: write index temp: %w", err)
	}

	dataHadPrev := fileExists(dataPath)
	idxHadPrev := fileExists(idxPath)
	dataPrev := dataPath + ".prev"
	idxPrev := idxPath + ".prev"

	if dataHadPrev {
		if err := os.Rename(dataPath, dataPrev); err != nil {
			os.Remove(dataTmp)
			os.Remove(idxTmp)
			return nil, fmt.Errorf("archive: back up previous data file: %w", err)
		}
	}
	if idxHadPrev {
		if err := os.Rename(idxPath, idxPrev); err != nil {
			restoreBackup(dataPrev, dataPath, dataHadPrev)
			os.Remove(dataTmp)
			os.Remove(idxTmp)
			return nil, fmt.Errorf("archive: back up previous index file: %w", err)
		}
	}

	if err := os.Rename(dataTmp, dataPath); err != nil {
		restoreBackup(dataPrev, dataPath, dataHadPrev)
		restoreBackup(idxPrev, idxPath, idxHadPrev)
		os.Remove(dataTmp)
		os.Remove(idxTmp)
		return nil, fmt.Errorf("archive: rename data file into place: %w", err)
	}
	if err := os.Rename(idxTmp, idxPath); err != nil {
		// Data is already swapped; undo it so the pair stays coherent.
		os.Remove(dataPath)
		restoreBackup(dataPrev, dataPath, dataHadPrev)
		restoreBackup(idxPrev, idxPath, idxHadPrev)
		os.Remove(idxTmp)
		return nil, fmt.Errorf("archive: rename index file into place: %w", err)
	}

	if dataHadPrev {
		os.Remove(dataPrev)
	}
	if idxHadPrev {
		os.Remove(idxPrev)
	}
	return idx, nil
}

func restoreBackup(backup, canonical string, had bool) {
	if !had {
		return
	}
	os.Rename(backup, canonical)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func writeSynced(p string, data []byte) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// buildZip writes every fragment's files into a ZIP at dataTmp, then
// reopens it to read back the real post-close compressed sizes (§9: the
// writer must record the actual compressed size, not an estimate) before
// assembling the StorageIndex.
func (w *Writer) buildZip(dataTmp string, fragments []Fragment) (*StorageIndex, error) {
	f, err := os.Create(dataTmp)
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flateWriter(out, w.flateLevel())
	})

	type packed struct {
		collection string
		path       string
		size       int64
		sha        string
		typ        FileType
	}
	var entries []packed

	sorted := make([]Fragment, len(fragments))
	copy(sorted, fragments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Collection < sorted[j].Collection })

	for _, frag := range sorted {
		files := make([]SourceFile, len(frag.Files))
		copy(files, frag.Files)
		sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

		for _, sf := range files {
			data := sf.Data
			name := sf.Name
			if strings.HasSuffix(name, ".gz") {
				decompressed, err := gunzip(data)
				if err != nil {
					zw.Close()
					f.Close()
					return nil, fmt.Errorf("decompress gzipped source %q: %w", name, err)
				}
				data = decompressed
				name = strings.TrimSuffix(name, ".gz")
			}

			entryPath := path.Join("data", frag.Collection, name)
			sum := sha256.Sum256(data)

			hdr := &zip.FileHeader{Name: entryPath, Method: zip.Deflate}
			ew, err := zw.CreateHeader(hdr)
			if err != nil {
				zw.Close()
				f.Close()
				return nil, err
			}
			if _, err := ew.Write(data); err != nil {
				zw.Close()
				f.Close()
				return nil, err
			}

			entries = append(entries, packed{
				collection: frag.Collection,
				path:       entryPath,
				size:       int64(len(data)),
				sha:        hex.EncodeToString(sum[:]),
				typ:        classify(name),
			})
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	compressedByPath, err := readCompressedSizes(dataTmp)
	if err != nil {
		return nil, err
	}

	byCollection := make(map[string]*CollectionIndex)
	var order []string
	for _, frag := range sorted {
		byCollection[frag.Collection] = &CollectionIndex{
			Name:        frag.Collection,
			VectorCount: frag.VectorCount,
			Dimension:   frag.Dimension,
			Metadata:    frag.Metadata,
		}
		order = append(order, frag.Collection)
	}

	var totalSize, totalCompressed int64
	for _, e := range entries {
		ci := byCollection[e.collection]
		ci.Files = append(ci.Files, FileEntry{
			Path:           e.path,
			Size:           e.size,
			CompressedSize: compressedByPath[e.path],
			SHA256:         e.sha,
			Type:           e.typ,
		})
		totalSize += e.size
		totalCompressed += compressedByPath[e.path]
	}

	idx := &StorageIndex{
		Version:        IndexVersion,
		TotalSize:      totalSize,
		CompressedSize: totalCompressed,
	}
	if totalSize > 0 {
		idx.CompressionRatio = float64(totalCompressed) / float64(totalSize)
	}
	for _, name := range order {
		idx.Collections = append(idx.Collections, *byCollection[name])
	}
	return idx, nil
}

// readCompressedSizes reopens a just-written ZIP and reads each entry's
// real compressed size from its central-directory record.
func readCompressedSizes(dataPath string) (map[string]int64, error) {
	zr, err := zip.OpenReader(dataPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := make(map[string]int64, len(zr.File))
	for _, zf := range zr.File {
		out[zf.Name] = int64(zf.CompressedSize64)
	}
	return out, nil
}

func gunzip(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// classify implements the file-type naming rule from §4.D: Vectors for
// .bin sources, Metadata for metadata.json / *_metadata.json, Tokenizer for
// tokenizer.json / *_tokenizer.json, Config for other .json/.yaml/.yml,
// else Other.
func classify(name string) FileType {
	switch {
	case strings.HasSuffix(name, ".bin"):
		return FileVectors
	case name == "metadata.json" || strings.HasSuffix(name, "_metadata.json"):
		return FileMetadata
	case name == "tokenizer.json" || strings.HasSuffix(name, "_tokenizer.json"):
		return FileTokenizer
	case strings.HasSuffix(name, ".json"), strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return FileConfig
	default:
		return FileOther
	}
}

// DiscoverFragments groups sibling files in dir whose names share a
// prefix terminated by "_" into per-collection Fragments (§4.D: "Collections
// are discovered by grouping sibling source files whose names share a
// prefix terminated by `_`"). Used by migration/import tooling operating
// on a flat directory rather than live Collection snapshots.
func DiscoverFragments(dir string) ([]Fragment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	byPrefix := make(map[string][]SourceFile)
	var order []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		i := strings.Index(name, "_")
		if i <= 0 {
			continue
		}
		prefix := name[:i]
		rest := name[i+1:]
		data, err := os.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if _, ok := byPrefix[prefix]; !ok {
			order = append(order, prefix)
		}
		byPrefix[prefix] = append(byPrefix[prefix], SourceFile{Name: rest, Data: data})
	}

	sort.Strings(order)
	frags := make([]Fragment, 0, len(order))
	for _, prefix := range order {
		frags = append(frags, Fragment{Collection: prefix, Files: byPrefix[prefix]})
	}
	return frags, nil
}
