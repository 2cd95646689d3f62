// Package smooth computes and applies per-channel smoothing factors that
// migrate quantization difficulty from a linear layer's input activations
// into its weights. The rescale is algebraically neutral: the producer's
// per-channel output is divided by the factor and every consumer's weight
// columns are multiplied by it, so the composed function is unchanged.
package smooth

import (
	"errors"
	"fmt"
	"math"

	"github.com/23skdu/longbow-smooth/internal/config"
	"github.com/23skdu/longbow-smooth/internal/logger"
	"github.com/23skdu/longbow-smooth/internal/metrics"
	"github.com/23skdu/longbow-smooth/internal/tensor"
)

// ChannelStatistics maps a boundary name to the per-input-channel activation
// abs-max observed while running calibration data through the unmodified
// model. Entry length must equal the consuming layers' in_features.
type ChannelStatistics map[string][]float32

var (
	ErrShapeMismatch     = errors.New("channel count mismatch")
	ErrInvalidConfig     = errors.New("invalid smoothing configuration")
	ErrInvalidStatistics = errors.New("invalid calibration statistics")
	ErrMissingStatistics = errors.New("missing calibration statistics")
)

// Epsilon is the clamp applied to degenerate channels on both the
// activation and weight side, and to the final scale.
const Epsilon = 1e-5

// EstimateScales computes one smoothing vector for a boundary shared by all
// consumers:
//
//	scale[c] = actMax[c]^alpha / weightMax[c]^(1-alpha)
//
// where weightMax[c] is the abs-max over the out_features dimension of every
// consumer jointly. Math runs in float64 regardless of working precision.
// The returned vector is finite and strictly positive.
func EstimateScales(boundary string, actMax []float32, consumers []*tensor.Tensor, cfg config.Config) ([]float32, error) {
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("%w: alpha %f outside [0,1]", ErrInvalidConfig, cfg.Alpha)
	}
	if len(consumers) == 0 {
		return nil, fmt.Errorf("%w: boundary %s has no consumers", ErrShapeMismatch, boundary)
	}

	channels := consumers[0].Cols()
	for _, w := range consumers {
		if w.Cols() != channels {
			return nil, fmt.Errorf("%w: boundary %s consumer %s has %d input channels, want %d",
				ErrShapeMismatch, boundary, w.Name(), w.Cols(), channels)
		}
	}
	if len(actMax) != channels {
		return nil, fmt.Errorf("%w: boundary %s statistics have %d channels, consumers have %d",
			ErrShapeMismatch, boundary, len(actMax), channels)
	}
	for c, v := range actMax {
		if v < 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: boundary %s channel %d abs-max %f", ErrInvalidStatistics, boundary, c, v)
		}
	}

	weightMax := make([]float32, channels)
	for _, w := range consumers {
		w.ColAbsMax(weightMax)
	}

	alpha := float64(cfg.Alpha)
	scales := make([]float32, channels)
	clamped := 0
	for c := 0; c < channels; c++ {
		a := float64(actMax[c])
		w := float64(weightMax[c])
		hit := false
		if a < Epsilon {
			a = Epsilon
			hit = true
		}
		if w < Epsilon {
			w = Epsilon
			hit = true
		}
		s := math.Pow(a, alpha) / math.Pow(w, 1-alpha)
		if s < Epsilon {
			s = Epsilon
			hit = true
		}
		if hit {
			clamped++
		}
		metrics.RecordSmoothingScale(s)
		scales[c] = float32(s)
	}

	fraction := float64(clamped) / float64(channels)
	metrics.RecordBoundary(fraction, clamped)
	if fraction > cfg.ClampWarnFraction {
		metrics.RecordDegenerateBoundary()
		logger.Log.Warn("degenerate calibration statistics",
			"boundary", boundary,
			"clamped_channels", clamped,
			"channels", channels,
			"fraction", fraction)
	}

	return scales, nil
}

// ApplyNorm applies a smoothing vector at a normalization -> linear
// boundary: the norm's affine parameters are divided by the vector and every
// consumer's weight columns are multiplied by it, in place. bias may be nil
// for gain-only norms (RMSNorm). All shapes are validated before the first
// mutation so a failure never leaves the boundary half-applied.
func ApplyNorm(gain, bias []float32, consumers []*tensor.Tensor, scales []float32) error {
	if len(gain) != len(scales) {
		return fmt.Errorf("%w: norm gain has %d channels, scales have %d", ErrShapeMismatch, len(gain), len(scales))
	}
	if bias != nil && len(bias) != len(scales) {
		return fmt.Errorf("%w: norm bias has %d channels, scales have %d", ErrShapeMismatch, len(bias), len(scales))
	}
	if err := checkConsumers(consumers, len(scales)); err != nil {
		return err
	}

	for c, s := range scales {
		gain[c] /= s
	}
	if bias != nil {
		for c, s := range scales {
			bias[c] /= s
		}
	}
	scaleConsumerColumns(consumers, scales)
	return nil
}

// ApplyLinearProducer applies a smoothing vector at a linear -> linear
// boundary. The producer's weight rows and bias are both divided; omitting
// the bias would break the identity. bias may be nil only when the producer
// has none.
func ApplyLinearProducer(producer *tensor.Tensor, bias []float32, consumers []*tensor.Tensor, scales []float32) error {
	if producer.Rows() != len(scales) {
		return fmt.Errorf("%w: producer %s has %d output channels, scales have %d",
			ErrShapeMismatch, producer.Name(), producer.Rows(), len(scales))
	}
	if bias != nil && len(bias) != len(scales) {
		return fmt.Errorf("%w: producer %s bias has %d channels, scales have %d",
			ErrShapeMismatch, producer.Name(), len(bias), len(scales))
	}
	if err := checkConsumers(consumers, len(scales)); err != nil {
		return err
	}

	for c, s := range scales {
		row := producer.Row(c)
		for i := range row {
			row[i] /= s
		}
	}
	if bias != nil {
		for c, s := range scales {
			bias[c] /= s
		}
	}
	scaleConsumerColumns(consumers, scales)
	return nil
}

func checkConsumers(consumers []*tensor.Tensor, channels int) error {
	if len(consumers) == 0 {
		return fmt.Errorf("%w: no consumers", ErrShapeMismatch)
	}
	for _, w := range consumers {
		if w.Cols() != channels {
			return fmt.Errorf("%w: consumer %s has %d input channels, scales have %d",
				ErrShapeMismatch, w.Name(), w.Cols(), channels)
		}
	}
	return nil
}

func scaleConsumerColumns(consumers []*tensor.Tensor, scales []float32) {
	for _, w := range consumers {
		for r := 0; r < w.Rows(); r++ {
			row := w.Row(r)
			for c, s := range scales {
				row[c] *= s
			}
		}
	}
}
