package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vecdb-io/vecdb/pkg/archive"
	"github.com/vecdb-io/vecdb/pkg/collection"
	"github.com/vecdb-io/vecdb/pkg/config"
	"github.com/vecdb-io/vecdb/pkg/hnsw"
	"github.com/vecdb-io/vecdb/pkg/vector"
)

// basePathFor returns the archive base path (without .vecdb/.vecidx
// extension) for a data directory: every collection in that directory
// shares one archive pair, named "collections".
func basePathFor(dataDir string) string {
	return dataDir + "/collections"
}

// parseMetric maps a CLI --metric flag value to a vector.Metric.
func parseMetric(name string) (vector.Metric, error) {
	switch strings.ToLower(name) {
	case "cosine", "":
		return vector.MetricCosine, nil
	case "l2":
		return vector.MetricL2, nil
	case "dot":
		return vector.MetricDot, nil
	default:
		return "", fmt.Errorf("vecdb: unknown metric %q (want cosine, l2, or dot)", name)
	}
}

// parseVector parses a vector given either as a comma-separated list of
// floats ("0.1,0.2,0.3") or as a JSON array ("[0.1,0.2,0.3]"), the latter
// convenient when piping a vector straight out of an embedding API's JSON
// response.
func parseVector(s string) ([]float32, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") {
		var raw []interface{}
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("vecdb: invalid vector JSON: %w", err)
		}
		out := make([]float32, 0, len(raw))
		for _, item := range raw {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("vecdb: vector JSON must be an array of numbers")
			}
			out = append(out, float32(f))
		}
		return out, nil
	}

	parts := strings.Split(trimmed, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vecdb: invalid vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// hnswConfigFrom adapts a loaded config.HNSWConfig to an hnsw.Config.
func hnswConfigFrom(c config.HNSWConfig) hnsw.Config {
	return hnsw.Config{
		M:              c.M,
		M0:             c.M0,
		EfConstruction: c.EfConstruction,
		EfSearch:       c.EfSearch,
		LevelMult:      c.LevelMult,
	}
}

// loadArchive opens the data directory's archive pair, tolerating a
// missing archive (a brand-new data-dir with no collections yet).
func loadArchive(dataDir string, cacheMaxBytes int64) (*archive.Reader, bool, error) {
	r, err := archive.Open(basePathFor(dataDir), cacheMaxBytes)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return r, true, nil
}

// collectionExists reports whether name is already recorded in the data
// directory's archive.
func collectionExists(dataDir, name string) (bool, error) {
	r, ok, err := loadArchive(dataDir, 0)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer r.Close()
	_, found := r.GetCollection(name)
	return found, nil
}

// openExistingCollection loads a named collection from the data
// directory's archive, recovering its dimension and metric from the
// archive's own recorded metadata and rebuilding its HNSW backend from
// the snapshotted vectors. It returns (nil, false, nil) if no archive or
// no such collection exists yet.
func openExistingCollection(dataDir, name string, cfg config.HNSWConfig) (*collection.Collection, bool, error) {
	r, ok, err := loadArchive(dataDir, 0)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	defer r.Close()

	ci, ok := r.GetCollection(name)
	if !ok {
		return nil, false, nil
	}

	metric, err := parseMetric(fmt.Sprint(ci.Metadata["metric"]))
	if err != nil {
		return nil, false, fmt.Errorf("vecdb: collection %q: %w", name, err)
	}

	files, err := r.ReadCollectionFiles(name)
	if err != nil {
		return nil, false, fmt.Errorf("vecdb: read collection %q: %w", name, err)
	}

	var frag archive.Fragment
	frag.Collection = name
	frag.VectorCount = ci.VectorCount
	frag.Dimension = ci.Dimension
	frag.Metadata = ci.Metadata
	for _, fe := range ci.Files {
		base := baseName(fe.Path)
		frag.Files = append(frag.Files, archive.SourceFile{Name: base, Data: files[fe.Path]})
	}

	idx := hnsw.New(ci.Dimension, metric, hnswConfigFrom(cfg))
	c := collection.New(name, ci.Dimension, metric, collection.NewHNSWBackend(idx))
	if err := c.Load(frag); err != nil {
		return nil, false, fmt.Errorf("vecdb: load collection %q: %w", name, err)
	}
	return c, true, nil
}

func baseName(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return p
	}
	return p[i+1:]
}

// saveCollection snapshots c and rewrites the data directory's archive,
// preserving every other collection already stored there.
func saveCollection(dataDir string, cfg config.StorageConfig, c *collection.Collection) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("vecdb: create data directory: %w", err)
	}

	r, ok, err := loadArchive(dataDir, 0)
	if err != nil {
		return err
	}

	var fragments []archive.Fragment
	if ok {
		for _, name := range r.ListCollections() {
			if name == c.Name {
				continue
			}
			ci, _ := r.GetCollection(name)
			files, err := r.ReadCollectionFiles(name)
			if err != nil {
				r.Close()
				return fmt.Errorf("vecdb: read collection %q: %w", name, err)
			}
			frag := archive.Fragment{
				Collection:  name,
				VectorCount: ci.VectorCount,
				Dimension:   ci.Dimension,
				Metadata:    ci.Metadata,
			}
			for _, fe := range ci.Files {
				frag.Files = append(frag.Files, archive.SourceFile{Name: baseName(fe.Path), Data: files[fe.Path]})
			}
			fragments = append(fragments, frag)
		}
		r.Close()
	}

	frag, err := c.Snapshot()
	if err != nil {
		return fmt.Errorf("vecdb: snapshot collection %q: %w", c.Name, err)
	}
	fragments = append(fragments, frag)

	w := archive.NewWriter(cfg.CompressionLevel)
	if _, err := w.WriteArchive(basePathFor(dataDir), fragments); err != nil {
		return fmt.Errorf("vecdb: write archive: %w", err)
	}
	return nil
}
