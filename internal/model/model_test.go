package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-smooth/internal/tensor"
)

func randomBatch(name string, rows, cols int, seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	t := tensor.New(name, rows, cols)
	data := t.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return t
}

func TestLinearForward(t *testing.T) {
	l := NewLinear("lin", 2, 3, true)
	copy(l.Weight.Data(), []float32{1, 0, 0, 0, 1, 1})
	l.Bias[0] = 10
	l.Bias[1] = -1

	x := tensor.FromData("x", 1, 3, []float32{2, 3, 4})
	out := l.Forward(x)

	if out.Rows() != 1 || out.Cols() != 2 {
		t.Fatalf("output shape %dx%d, want 1x2", out.Rows(), out.Cols())
	}
	if out.Row(0)[0] != 12 {
		t.Errorf("out[0] = %f, want 12", out.Row(0)[0])
	}
	if out.Row(0)[1] != 6 {
		t.Errorf("out[1] = %f, want 7-1=6", out.Row(0)[1])
	}
}

func TestRMSNormForward(t *testing.T) {
	n := NewRMSNorm("norm", 4)
	n.Gain = []float32{1, 2, 1, 0.5}

	x := tensor.FromData("x", 1, 4, []float32{1, -2, 3, -4})
	out := n.Forward(x)

	sumSq := float32(1 + 4 + 9 + 16)
	rms := float32(math.Sqrt(float64(sumSq/4) + 1e-5))
	want := []float32{1 / rms, -4 / rms, 3 / rms, -2 / rms}
	for i, v := range out.Row(0) {
		if math.Abs(float64(v-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %f, want %f", i, v, want[i])
		}
	}
}

func TestNewRandomDeterministic(t *testing.T) {
	a := NewRandom(16, 32, 2, 99)
	b := NewRandom(16, 32, 2, 99)

	aw := a.Blocks[1].FfnGate.Weight.Data()
	bw := b.Blocks[1].FfnGate.Weight.Data()
	for i := range aw {
		if aw[i] != bw[i] {
			t.Fatalf("same seed produced different weights at %d", i)
		}
	}
}

func TestForEachLinearVisitsAll(t *testing.T) {
	m := New(8, 16, 3)
	count := 0
	m.ForEachLinear(func(l *Linear) { count++ })
	if count != 3*7 {
		t.Errorf("visited %d linears, want %d", count, 3*7)
	}
}

func TestUnquantizedForwardDoesNotCopyInput(t *testing.T) {
	l := NewLinear("lin", 2, 2, false)
	copy(l.Weight.Data(), []float32{1, 0, 0, 1})

	x := tensor.FromData("x", 1, 2, []float32{0.3, 0.7})
	out := l.Forward(x)

	if out.Row(0)[0] != 0.3 || out.Row(0)[1] != 0.7 {
		t.Errorf("identity forward = %v", out.Row(0))
	}
	if x.Row(0)[0] != 0.3 || x.Row(0)[1] != 0.7 {
		t.Errorf("input mutated: %v", x.Row(0))
	}
}
