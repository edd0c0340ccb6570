package vector

import (
	"math"
	"math/rand"
	"testing"
)

func TestCosine_identicalIsOne(t *testing.T) {
	a := []float32{0.3, -1.2, 4}
	if got := Cosine(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("Cosine(a,a) = %v, want 1", got)
	}
}

func TestCosine_orthogonalAndOpposite(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal: got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-2, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite: got %v, want -1", got)
	}
}

func TestCosine_emptyIsZero(t *testing.T) {
	others := [][]float32{nil, {}, {1, 2, 3}, {0, 0}}
	for _, o := range others {
		if got := Cosine(nil, o); got != 0 {
			t.Errorf("Cosine(nil, %v) = %v, want 0", o, got)
		}
		if got := Cosine(o, []float32{}); got != 0 {
			t.Errorf("Cosine(%v, empty) = %v, want 0", o, got)
		}
	}
}

func TestCosine_zeroNormIsZero(t *testing.T) {
	got := Cosine([]float32{0, 0, 0}, []float32{1, 2, 3})
	if got != 0 || math.IsNaN(got) {
		t.Errorf("zero norm: got %v, want 0", got)
	}
}

func TestCosine_dimensionMismatchIsZero(t *testing.T) {
	if got := Cosine([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("mismatch: got %v, want 0", got)
	}
}

func TestCosine_symmetric(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for n := 0; n < 200; n++ {
		dim := 1 + r.Intn(16)
		a := make([]float32, dim)
		b := make([]float32, dim)
		for i := range a {
			a[i] = float32(r.NormFloat64())
			b[i] = float32(r.NormFloat64())
		}
		if ab, ba := Cosine(a, b), Cosine(b, a); ab != ba {
			t.Fatalf("Cosine not symmetric: %v vs %v", ab, ba)
		}
	}
}

func TestInnerProductAndNorm(t *testing.T) {
	if got := InnerProduct([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("InnerProduct = %v, want 11", got)
	}
	if got := L2Norm([]float32{3, 4}); got != 5 {
		t.Errorf("L2Norm = %v, want 5", got)
	}
}

func TestCodec_roundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, float32(math.Inf(1))}
	out := DecodeFloat32s(EncodeFloat32s(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}
