package quantize

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rand.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestScalarRoundTripWithinLevelError(t *testing.T) {
	vectors := randomVectors(64, 8)
	s := NewScalar(8)
	require.NoError(t, s.Train(vectors))
	require.Equal(t, 8, s.BytesPerVector())

	for _, v := range vectors {
		code, err := s.Encode(v)
		require.NoError(t, err)
		require.Len(t, code, 8)
		decoded, err := s.Decode(code)
		require.NoError(t, err)
		for i := range v {
			require.InDelta(t, v[i], decoded[i], 0.02)
		}
	}
}

func TestScalarRejectsUntrainedAndWrongDimension(t *testing.T) {
	s := NewScalar(4)
	_, err := s.Encode([]float32{1, 2})
	require.ErrorIs(t, err, ErrNotTrained)

	require.NoError(t, s.Train(randomVectors(4, 3)))
	_, err = s.Encode([]float32{1, 2})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBinaryRoundTripPreservesSign(t *testing.T) {
	vectors := randomVectors(32, 12)
	b := NewBinary()
	require.NoError(t, b.Train(vectors))
	require.Equal(t, 2, b.BytesPerVector()) // ceil(12/8)

	for _, v := range vectors {
		code, err := b.Encode(v)
		require.NoError(t, err)
		decoded, err := b.Decode(code)
		require.NoError(t, err)
		for i, x := range v {
			// The sign bit is taken against the trained median, not zero.
			if x >= b.threshold {
				require.GreaterOrEqual(t, decoded[i], float32(0))
			}
		}
	}
}

func TestProductRoundTripRecoversNearbyCentroid(t *testing.T) {
	vectors := randomVectors(256, 8)
	p := NewProduct(4, 16)
	require.NoError(t, p.Train(vectors))
	require.Equal(t, 4, p.BytesPerVector())
	require.Equal(t, int64(4*16*2*4), p.CodebookBytes())

	for _, v := range vectors[:16] {
		code, err := p.Encode(v)
		require.NoError(t, err)
		require.Len(t, code, 4)
		decoded, err := p.Decode(code)
		require.NoError(t, err)
		require.Len(t, decoded, 8)

		var dist float64
		for i := range v {
			d := float64(v[i]) - float64(decoded[i])
			dist += d * d
		}
		require.Less(t, dist, 2.0)
	}
}

func TestProductRejectsIndivisibleDimensions(t *testing.T) {
	p := NewProduct(3, 8)
	err := p.Train(randomVectors(8, 8))
	require.Error(t, err)
}

func TestProductClampsCentroidsToSampleSize(t *testing.T) {
	p := NewProduct(2, 256)
	require.NoError(t, p.Train(randomVectors(4, 4)))
	require.Equal(t, 4, p.centroids)
}
