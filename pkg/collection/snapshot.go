package collection

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/vecdb-io/vecdb/pkg/archive"
	"github.com/vecdb-io/vecdb/pkg/embedder"
	"github.com/vecdb-io/vecdb/pkg/vector"
)

// collectionMetadata is the JSON document packed alongside a collection's
// vectors, per §6 ("at minimum {vector_count, dimension, metric, config,
// created_at, updated_at}").
type collectionMetadata struct {
	VectorCount int                    `json:"vector_count"`
	Dimension   int                    `json:"dimension"`
	Metric      string                 `json:"metric"`
	Config      map[string]interface{} `json:"config,omitempty"`
	CreatedAt   string                 `json:"created_at"`
	UpdatedAt   string                 `json:"updated_at"`
}

func metricName(m vector.Metric) string {
	switch m {
	case vector.MetricCosine:
		return "cosine"
	case vector.MetricL2:
		return "l2"
	case vector.MetricDot:
		return "dot"
	default:
		return "unknown"
	}
}

// Snapshot packs every live vector and its payload into an archive
// Fragment, plus a metadata document and, when the bound Embedder (if any)
// implements Buildable, its serialized corpus state as the Tokenizer file
// (§4.D, §4.F).
func (c *Collection) Snapshot() (archive.Fragment, error) {
	entries := c.Backend.All()

	c.payloadMu.RLock()
	payloads := make(map[string]map[string]interface{}, len(c.payloads))
	for k, v := range c.payloads {
		payloads[k] = v
	}
	c.payloadMu.RUnlock()

	vectorsData, err := encodeVectors(entries, payloads)
	if err != nil {
		return archive.Fragment{}, fmt.Errorf("collection %q: encode vectors: %w", c.Name, err)
	}

	meta := collectionMetadata{
		VectorCount: len(entries),
		Dimension:   c.Dimension,
		Metric:      metricName(c.Metric),
		CreatedAt:   c.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   c.UpdatedAt.UTC().Format(timeLayout),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return archive.Fragment{}, fmt.Errorf("collection %q: encode metadata: %w", c.Name, err)
	}

	files := []archive.SourceFile{
		{Name: "vectors.bin", Data: vectorsData},
		{Name: "metadata.json", Data: metaData},
	}

	if b, ok := c.TextEmbedder().(embedder.Buildable); ok {
		tokData, err := b.Save()
		if err != nil {
			return archive.Fragment{}, fmt.Errorf("collection %q: encode tokenizer: %w", c.Name, err)
		}
		files = append(files, archive.SourceFile{Name: "tokenizer.json", Data: tokData})
	}

	return archive.Fragment{
		Collection:  c.Name,
		VectorCount: len(entries),
		Dimension:   c.Dimension,
		Metadata:    map[string]interface{}{"metric": meta.Metric},
		Files:       files,
	}, nil
}

// Load restores the vectors, payloads, and vocabulary the fragment
// describes — the inverse of Snapshot (§8 property 7:
// load(write_archive(C)) ≡ C). The payload map is replaced, and every
// vector is inserted into the backend as it stands: vectors already in the
// backend are not removed, and an id already live there makes Load fail.
func (c *Collection) Load(fragment archive.Fragment) error {
	var vectorsData, tokData []byte
	for _, f := range fragment.Files {
		switch f.Name {
		case "vectors.bin":
			vectorsData = f.Data
		case "tokenizer.json":
			tokData = f.Data
		}
	}
	if vectorsData == nil {
		return fmt.Errorf("collection %q: fragment missing vectors.bin", c.Name)
	}

	entries, payloads, err := decodeVectors(vectorsData, c.Dimension)
	if err != nil {
		return fmt.Errorf("collection %q: decode vectors: %w", c.Name, err)
	}

	c.payloadMu.Lock()
	c.payloads = make(map[string]map[string]interface{}, len(entries))
	c.payloadMu.Unlock()

	for _, e := range entries {
		if len(e.Vector) != c.Dimension {
			return &DimensionMismatchError{Collection: c.Name, Expected: c.Dimension, Actual: len(e.Vector)}
		}
		if _, err := c.Backend.Insert(e.ID, e.Vector); err != nil {
			return fmt.Errorf("collection %q: reinsert %q: %w", c.Name, e.ID, err)
		}
		c.payloadMu.Lock()
		c.payloads[e.ID] = payloads[e.ID]
		c.payloadMu.Unlock()
	}

	if tokData != nil {
		b, ok := c.TextEmbedder().(embedder.Buildable)
		if !ok {
			return fmt.Errorf("collection %q: fragment has a tokenizer file but no Buildable embedder is bound", c.Name)
		}
		if err := b.Load(tokData); err != nil {
			return fmt.Errorf("collection %q: load tokenizer: %w", c.Name, err)
		}
	}

	c.touch()
	return nil
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// encodeVectors packs (id, vector, payload) triples into a flat binary
// record stream: a 4-byte id length, the id bytes, D little-endian
// float32 components, a 4-byte payload length, then the payload's JSON
// bytes (empty when there is no payload).
func encodeVectors(entries []BackendEntry, payloads map[string]map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		idBytes := []byte(e.ID)
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return nil, err
		}
		buf.Write(idBytes)

		for _, v := range e.Vector {
			if err := binary.Write(&buf, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return nil, err
			}
		}

		var payloadData []byte
		if p := payloads[e.ID]; p != nil {
			data, err := json.Marshal(p)
			if err != nil {
				return nil, err
			}
			payloadData = data
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(payloadData))); err != nil {
			return nil, err
		}
		buf.Write(payloadData)
	}
	return buf.Bytes(), nil
}

func decodeVectors(data []byte, dim int) ([]BackendEntry, map[string]map[string]interface{}, error) {
	r := bytes.NewReader(data)
	var entries []BackendEntry
	payloads := make(map[string]map[string]interface{})

	for r.Len() > 0 {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, nil, err
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, nil, err
		}
		id := string(idBytes)

		vec := make([]float32, dim)
		for i := range vec {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, nil, err
			}
			vec[i] = math.Float32frombits(bits)
		}

		var payloadLen uint32
		if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
			return nil, nil, err
		}
		if payloadLen > 0 {
			payloadBytes := make([]byte, payloadLen)
			if _, err := io.ReadFull(r, payloadBytes); err != nil {
				return nil, nil, err
			}
			var p map[string]interface{}
			if err := json.Unmarshal(payloadBytes, &p); err != nil {
				return nil, nil, err
			}
			payloads[id] = p
		}

		entries = append(entries, BackendEntry{ID: id, Vector: vec})
	}
	return entries, payloads, nil
}
