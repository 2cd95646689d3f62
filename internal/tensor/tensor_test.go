package tensor

import (
	"math"
	"testing"
)

func TestNewAndAccessors(t *testing.T) {
	tt := New("w", 3, 4)
	if tt.Rows() != 3 || tt.Cols() != 4 || tt.NumElements() != 12 {
		t.Errorf("shape accessors wrong: %dx%d (%d)", tt.Rows(), tt.Cols(), tt.NumElements())
	}
	if tt.Name() != "w" {
		t.Errorf("name = %s", tt.Name())
	}

	row := tt.Row(1)
	row[2] = 7
	if tt.Data()[1*4+2] != 7 {
		t.Error("Row must be a mutable view into Data")
	}
}

func TestFromDataPanicsOnSizeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	FromData("bad", 2, 3, make([]float32, 5))
}

func TestAbsMax(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float32
	}{
		{"mixed", []float32{1, -5, 3}, 5},
		{"empty", nil, 0},
		{"zeros", []float32{0, 0}, 0},
		{"negative only", []float32{-2, -1}, 2},
	}
	for _, tt := range tests {
		if got := AbsMax(tt.in); got != tt.want {
			t.Errorf("%s: AbsMax = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestColAbsMaxFolds(t *testing.T) {
	a := FromData("a", 2, 3, []float32{1, -4, 2, 3, 0, -1})
	b := FromData("b", 1, 3, []float32{-5, 1, 0})

	dst := make([]float32, 3)
	a.ColAbsMax(dst)
	want := []float32{3, 4, 2}
	for c := range dst {
		if dst[c] != want[c] {
			t.Errorf("after a: col %d = %f, want %f", c, dst[c], want[c])
		}
	}

	b.ColAbsMax(dst)
	want = []float32{5, 4, 2}
	for c := range dst {
		if dst[c] != want[c] {
			t.Errorf("after fold: col %d = %f, want %f", c, dst[c], want[c])
		}
	}
}

func TestClone(t *testing.T) {
	a := FromData("a", 1, 2, []float32{1, 2})
	c := a.Clone("c")
	c.Data()[0] = 9
	if a.Data()[0] != 1 {
		t.Error("clone aliases source storage")
	}
}

func TestComputeActivationStats(t *testing.T) {
	data := []float32{1, -2, 0, 3, float32(math.NaN()), float32(math.Inf(1))}
	stats := ComputeActivationStats(data)

	if stats.Max != 3 || stats.Min != -2 {
		t.Errorf("max/min = %f/%f, want 3/-2", stats.Max, stats.Min)
	}
	if stats.AbsMax != 3 {
		t.Errorf("absmax = %f, want 3", stats.AbsMax)
	}
	if stats.NaNs != 1 || stats.Infs != 1 {
		t.Errorf("nans/infs = %d/%d, want 1/1", stats.NaNs, stats.Infs)
	}
	if stats.Zeros != 1 {
		t.Errorf("zeros = %d, want 1", stats.Zeros)
	}
	if math.Abs(float64(stats.Mean-0.5)) > 1e-6 {
		t.Errorf("mean = %f, want 0.5", stats.Mean)
	}
	wantRMS := math.Sqrt((1 + 4 + 0 + 9) / 4.0)
	if math.Abs(float64(stats.RMS)-wantRMS) > 1e-6 {
		t.Errorf("rms = %f, want %f", stats.RMS, wantRMS)
	}
}

func TestComputeActivationStatsEmpty(t *testing.T) {
	stats := ComputeActivationStats(nil)
	if stats.Max != 0 || stats.Min != 0 || stats.Mean != 0 {
		t.Errorf("empty stats not zero: %+v", stats)
	}
}
