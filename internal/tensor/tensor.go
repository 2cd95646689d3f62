package tensor

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Tensor is a row-major float32 matrix. Linear layer weights are stored as
// (out_features, in_features); activations as (tokens, features). A vector is
// a 1 x n tensor.
type Tensor struct {
	data []float32
	rows int
	cols int
	name string
}

func New(name string, rows, cols int) *Tensor {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("tensor %s: invalid shape %dx%d", name, rows, cols))
	}
	RecordMemory(int64(rows*cols) * 4)
	return &Tensor{
		data: make([]float32, rows*cols),
		rows: rows,
		cols: cols,
		name: name,
	}
}

// FromData wraps an existing slice without copying. The caller keeps
// ownership of the backing storage.
func FromData(name string, rows, cols int, data []float32) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor %s: data length %d != %dx%d", name, len(data), rows, cols))
	}
	return &Tensor{
		data: data,
		rows: rows,
		cols: cols,
		name: name,
	}
}

func (t *Tensor) Rows() int {
	return t.rows
}

func (t *Tensor) Cols() int {
	return t.cols
}

func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) Name() string {
	return t.name
}

func (t *Tensor) NumElements() int {
	return t.rows * t.cols
}

// Row returns a mutable view of row i.
func (t *Tensor) Row(i int) []float32 {
	return t.data[i*t.cols : (i+1)*t.cols]
}

func (t *Tensor) Clone(name string) *Tensor {
	c := New(name, t.rows, t.cols)
	copy(c.data, t.data)
	return c
}

func (t *Tensor) Free() {
	if t.data != nil {
		RecordMemory(-int64(len(t.data)) * 4)
	}
	t.data = nil
}

// AbsMax returns max(|v|) over the slice, 0 for an empty slice.
func AbsMax(data []float32) float32 {
	amax := float32(0)
	for _, v := range data {
		if v < 0 {
			v = -v
		}
		if v > amax {
			amax = v
		}
	}
	return amax
}

// ColAbsMax folds per-column absolute maxima into dst, which must have
// length t.Cols(). Existing dst values participate in the max, so repeated
// calls accumulate across tensors sharing the same column count.
func (t *Tensor) ColAbsMax(dst []float32) {
	if len(dst) != t.cols {
		panic(fmt.Sprintf("tensor %s: ColAbsMax dst length %d != cols %d", t.name, len(dst), t.cols))
	}
	for r := 0; r < t.rows; r++ {
		row := t.Row(r)
		for c, v := range row {
			if v < 0 {
				v = -v
			}
			if v > dst[c] {
				dst[c] = v
			}
		}
	}
}

// ActivationStats summarizes a tensor for calibration and debug logging.
type ActivationStats struct {
	Max    float32
	Min    float32
	AbsMax float32
	Mean   float32
	RMS    float32
	Zeros  int
	NaNs   int
	Infs   int
}

func ComputeActivationStats(data []float32) ActivationStats {
	var stats ActivationStats
	if len(data) == 0 {
		return stats
	}

	stats.Max = data[0]
	stats.Min = data[0]
	sum := float64(0)
	sumSq := float64(0)

	for _, v := range data {
		if math.IsNaN(float64(v)) {
			stats.NaNs++
			continue
		}
		if math.IsInf(float64(v), 0) {
			stats.Infs++
			continue
		}
		if v == 0 {
			stats.Zeros++
		}
		if v > stats.Max {
			stats.Max = v
		}
		if v < stats.Min {
			stats.Min = v
		}
		av := v
		if av < 0 {
			av = -av
		}
		if av > stats.AbsMax {
			stats.AbsMax = av
		}
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}

	n := len(data) - stats.NaNs - stats.Infs
	if n > 0 {
		stats.Mean = float32(sum / float64(n))
		stats.RMS = float32(math.Sqrt(sumSq / float64(n)))
	}
	return stats
}

var allocatedBytes int64

func AllocatedBytes() int64 {
	return atomic.LoadInt64(&allocatedBytes)
}

func RecordMemory(n int64) {
	atomic.AddInt64(&allocatedBytes, n)
}
