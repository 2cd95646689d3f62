// Package quant implements symmetric fake quantization: tensors are rounded
// onto the integer grid a low-bit kernel would see, then mapped straight back
// to float32. Shapes and dtypes never change, only precision is lost.
package quant

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Granularity selects the scope over which one quantization scale is shared.
type Granularity int

const (
	// PerTensor uses a single scale from the whole tensor's abs-max.
	PerTensor Granularity = iota
	// PerChannel uses one scale per output row. Weight outliers are
	// row-local, so this is the weight default.
	PerChannel
	// PerToken uses one scale per leading (batch x sequence) row,
	// recomputed on every call. Activation default.
	PerToken
)

func (g Granularity) String() string {
	switch g {
	case PerTensor:
		return "per_tensor"
	case PerChannel:
		return "per_channel"
	case PerToken:
		return "per_token"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "per_tensor":
		return PerTensor, nil
	case "per_channel":
		return PerChannel, nil
	case "per_token":
		return PerToken, nil
	default:
		return 0, fmt.Errorf("unknown granularity %q (want per_tensor, per_channel or per_token)", s)
	}
}

// MaxQ returns the largest representable magnitude for a symmetric grid,
// 2^(bits-1)-1. The grid is symmetric around zero: the -2^(bits-1) code is
// never produced, so zero stays exactly representable.
func MaxQ(bits int) float32 {
	if bits <= 1 || bits > 16 {
		panic(fmt.Sprintf("quant: invalid bit width %d", bits))
	}
	return float32(int32(1)<<(bits-1)) - 1
}

// ScaleFor derives the quantization scale for a given abs-max. A zero
// abs-max maps to scale 1 so an all-zero tensor round-trips unchanged.
func ScaleFor(absMax, qmax float32) float32 {
	if absMax == 0 {
		return 1
	}
	return absMax / qmax
}

// rows below this run serially; per-token quantization of a big batch fans
// out across cores.
const parallelRowThreshold = 64

// QuantizeDequant snaps data to the bits-wide symmetric grid in place.
// data is interpreted as a row-major (rows, cols) matrix. Rounding is
// round-half-away-from-zero (math.Round); out-of-range values saturate at
// the grid edge.
func QuantizeDequant(data []float32, rows, cols, bits int, g Granularity) {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("quant: data length %d != %dx%d", len(data), rows, cols))
	}
	qmax := MaxQ(bits)

	switch g {
	case PerTensor:
		scale := ScaleFor(absMax(data), qmax)
		quantizeSlice(data, scale, qmax)
	case PerChannel, PerToken:
		// Both are row-wise over the row-major layout: weight tensors
		// are (out_features, in_features), activations (tokens, features).
		quantizeRows(data, rows, cols, qmax)
	default:
		panic(fmt.Sprintf("quant: unknown granularity %d", int(g)))
	}
}

// QuantizeDequantScale is the per-tensor variant that reports the scale it
// used, for callers that pin weight scales at transformation time.
func QuantizeDequantScale(data []float32, bits int) float32 {
	qmax := MaxQ(bits)
	scale := ScaleFor(absMax(data), qmax)
	quantizeSlice(data, scale, qmax)
	return scale
}

// RowScalesQuantize quantize-dequantizes each row with its own scale and
// returns the per-row scales. Used once per weight tensor after smoothing;
// the returned scales are what a true int8 kernel would carry.
func RowScalesQuantize(data []float32, rows, cols, bits int) []float32 {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("quant: data length %d != %dx%d", len(data), rows, cols))
	}
	qmax := MaxQ(bits)
	scales := make([]float32, rows)
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		scales[r] = ScaleFor(absMax(row), qmax)
		quantizeSlice(row, scales[r], qmax)
	}
	return scales
}

func quantizeRows(data []float32, rows, cols int, qmax float32) {
	if rows < parallelRowThreshold {
		for r := 0; r < rows; r++ {
			row := data[r*cols : (r+1)*cols]
			quantizeSlice(row, ScaleFor(absMax(row), qmax), qmax)
		}
		return
	}

	workers := runtime.NumCPU()
	if workers > rows {
		workers = rows
	}
	var wg sync.WaitGroup
	chunk := (rows + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > rows {
			end = rows
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				row := data[r*cols : (r+1)*cols]
				quantizeSlice(row, ScaleFor(absMax(row), qmax), qmax)
			}
		}(start, end)
	}
	wg.Wait()
}

func quantizeSlice(data []float32, scale, qmax float32) {
	inv := 1 / scale
	for i, v := range data {
		q := float32(math.Round(float64(v * inv)))
		if q > qmax {
			q = qmax
		} else if q < -qmax {
			q = -qmax
		}
		data[i] = q * scale
	}
}

func absMax(data []float32) float32 {
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
