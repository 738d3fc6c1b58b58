package vector

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
		epsilon  float64
	}{
		{
			name:     "identical unit vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{1.0, 0.0, 0.0},
			expected: 0.0,
			epsilon:  1e-6,
		},
		{
			name:     "orthogonal unit vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{0.0, 1.0, 0.0},
			expected: 1.0,
			epsilon:  1e-6,
		},
		{
			name:     "opposite unit vectors",
			a:        []float32{1.0, 0.0, 0.0},
			b:        []float32{-1.0, 0.0, 0.0},
			expected: 2.0,
			epsilon:  1e-6,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Cosine(tc.a, tc.b)
			if math.Abs(got-tc.expected) > tc.epsilon {
				t.Errorf("Cosine(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.expected)
			}
		})
	}
}

func TestL2SqAndL2(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{3, 4, 0}

	if got := L2Sq(a, b); got != 25 {
		t.Errorf("L2Sq = %v, want 25", got)
	}
	if got := L2(a, b); math.Abs(got-5) > 1e-9 {
		t.Errorf("L2 = %v, want 5", got)
	}
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	if got := Dot(a, b); got != 32 {
		t.Errorf("Dot = %v, want 32", got)
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	got := Normalize(v)

	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("Normalize(%v) = %v, want [0.6 0.8]", v, got)
	}
	if v[0] != 3 || v[1] != 4 {
		t.Error("Normalize must not mutate its input")
	}
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	NormalizeInPlace(v)

	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("NormalizeInPlace result = %v, want [0.6 0.8]", v)
	}
}

func TestDegenerateVector(t *testing.T) {
	zero := []float32{0, 0, 0}
	if !Degenerate(zero) {
		t.Error("zero vector should be degenerate")
	}

	nonzero := []float32{1, 0, 0}
	if Degenerate(nonzero) {
		t.Error("unit vector should not be degenerate")
	}

	// Normalize must not divide by a near-zero norm: a degenerate vector
	// comes back as a zero vector, not NaN/Inf components.
	out := Normalize(zero)
	for _, x := range out {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			t.Fatalf("Normalize(degenerate) produced non-finite component: %v", out)
		}
	}
}

func TestNormUnitVector(t *testing.T) {
	v := Normalize([]float32{5, 0, 0})
	if math.Abs(Norm(v)-1.0) > 1e-6 {
		t.Errorf("Norm(Normalize(v)) = %v, want 1.0", Norm(v))
	}
}

func TestDistanceDispatch(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if _, err := Distance(MetricCosine, a, b); err != nil {
		t.Fatalf("unexpected error for cosine: %v", err)
	}
	if _, err := Distance(MetricL2, a, b); err != nil {
		t.Fatalf("unexpected error for l2: %v", err)
	}
	if _, err := Distance(MetricDot, a, b); err != nil {
		t.Fatalf("unexpected error for dot: %v", err)
	}
	if _, err := Distance(Metric("euclidean-ish"), a, b); err == nil {
		t.Fatal("expected error for unknown metric")
	}
}
