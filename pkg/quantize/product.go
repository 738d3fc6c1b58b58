package quantize

import (
	"math"
	"math/rand"
)

// Product splits a D-dimensional vector into M equal subvectors and runs
// k-means independently in each subspace, storing one byte (a centroid
// id, K <= 256) per subvector. Codebook size is M*K*(D/M)*4 bytes.
type Product struct {
	subquantizers int // M
	centroids     int // K
	dimensions    int
	subDim        int
	codebooks     [][][]float32 // [M][K][subDim]
	trained       bool
	maxIterations int
}

// NewProduct returns a codec with m subquantizers and k centroids per
// subspace. dimensions must be divisible by m when Train is called.
func NewProduct(m, k int) *Product {
	return &Product{subquantizers: m, centroids: k, maxIterations: 25}
}

// Train runs k-means per subspace against the given sample. The
// initialization and assignment/update loop follows the same shape as a
// CPU k-means pass: pick k seeds, alternate assignment and centroid mean
// recomputation until no assignment changes or maxIterations is reached.
func (p *Product) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errNoTrainingData
	}
	p.dimensions = len(vectors[0])
	if p.dimensions%p.subquantizers != 0 {
		return &trainError{"dimensions must be divisible by the subquantizer count"}
	}
	p.subDim = p.dimensions / p.subquantizers

	k := p.centroids
	if k > len(vectors) {
		k = len(vectors)
	}
	if k < 1 {
		return &trainError{"need at least one centroid"}
	}
	p.centroids = k

	p.codebooks = make([][][]float32, p.subquantizers)
	for m := 0; m < p.subquantizers; m++ {
		sub := make([][]float32, len(vectors))
		for i, v := range vectors {
			if len(v) != p.dimensions {
				return ErrDimensionMismatch
			}
			sub[i] = v[m*p.subDim : (m+1)*p.subDim]
		}
		p.codebooks[m] = kmeans(sub, k, p.maxIterations)
	}

	p.trained = true
	return nil
}

// kmeans clusters vectors into k centroids with a random-seed init and an
// assignment/update loop that stops early on zero reassignment.
func kmeans(vectors [][]float32, k, maxIterations int) [][]float32 {
	dim := len(vectors[0])
	centroids := make([][]float32, k)
	chosen := make(map[int]bool)
	for c := 0; c < k; c++ {
		idx := rand.Intn(len(vectors))
		for chosen[idx] {
			idx = rand.Intn(len(vectors))
		}
		chosen[idx] = true
		centroids[c] = append([]float32{}, vectors[idx]...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIterations; iter++ {
		changed := 0
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := squaredDistance(v, centroid)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed++
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}

		if changed == 0 {
			break
		}
	}

	return centroids
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Encode assigns each subvector to its nearest centroid id.
func (p *Product) Encode(v []float32) ([]byte, error) {
	if !p.trained {
		return nil, ErrNotTrained
	}
	if len(v) != p.dimensions {
		return nil, ErrDimensionMismatch
	}

	out := make([]byte, p.subquantizers)
	for m := 0; m < p.subquantizers; m++ {
		sub := v[m*p.subDim : (m+1)*p.subDim]
		best, bestDist := 0, math.Inf(1)
		for c, centroid := range p.codebooks[m] {
			d := squaredDistance(sub, centroid)
			if d < bestDist {
				bestDist = d
				best = c
			}
		}
		out[m] = byte(best)
	}
	return out, nil
}

// Decode reconstructs a vector by concatenating each subquantizer's
// chosen centroid.
func (p *Product) Decode(code []byte) ([]float32, error) {
	if !p.trained {
		return nil, ErrNotTrained
	}
	if len(code) != p.subquantizers {
		return nil, ErrDimensionMismatch
	}

	out := make([]float32, p.dimensions)
	for m, id := range code {
		copy(out[m*p.subDim:(m+1)*p.subDim], p.codebooks[m][id])
	}
	return out, nil
}

// BytesPerVector returns M, one centroid id byte per subquantizer.
func (p *Product) BytesPerVector() int {
	if !p.trained {
		return 0
	}
	return p.subquantizers
}

// CodebookBytes returns the shared codebook size: M*K*(D/M)*4.
func (p *Product) CodebookBytes() int64 {
	if !p.trained {
		return 0
	}
	return int64(p.subquantizers) * int64(p.centroids) * int64(p.subDim) * 4
}
