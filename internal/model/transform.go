package model

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-smooth/internal/config"
	"github.com/23skdu/longbow-smooth/internal/logger"
	"github.com/23skdu/longbow-smooth/internal/metrics"
	"github.com/23skdu/longbow-smooth/internal/quant"
	"github.com/23skdu/longbow-smooth/internal/smooth"
	"github.com/23skdu/longbow-smooth/internal/tensor"
)

type boundaryKind int

const (
	normBoundary boundaryKind = iota
	linearBoundary
)

// boundary is one producer -> consumers interface sharing input channels.
// The registry is built once from the model structure, not from runtime type
// inspection.
type boundary struct {
	name      string
	kind      boundaryKind
	norm      *RMSNorm // producer when kind == normBoundary
	producer  *Linear  // producer when kind == linearBoundary
	consumers []*Linear
}

func (m *Model) boundaries(cfg config.Config) []boundary {
	var bounds []boundary
	for i, b := range m.Blocks {
		p := fmt.Sprintf("blk.%d.", i)
		bounds = append(bounds, boundary{
			name:      p + "attn_qkv",
			kind:      normBoundary,
			norm:      b.AttnNorm,
			consumers: []*Linear{b.AttnQ, b.AttnK, b.AttnV},
		})
		if cfg.SmoothAttnOutput {
			// Valid through the attention mix: the output projection's
			// input channels are convex combinations of V channels, so a
			// per-channel rescale of V commutes with it.
			bounds = append(bounds, boundary{
				name:      p + "attn_v_out",
				kind:      linearBoundary,
				producer:  b.AttnV,
				consumers: []*Linear{b.AttnO},
			})
		}
		bounds = append(bounds, boundary{
			name:      p + "ffn_gate_up",
			kind:      normBoundary,
			norm:      b.FfnNorm,
			consumers: []*Linear{b.FfnGate, b.FfnUp},
		})
	}
	return bounds
}

func consumerWeights(consumers []*Linear) []*tensor.Tensor {
	ws := make([]*tensor.Tensor, len(consumers))
	for i, c := range consumers {
		ws[i] = c.Weight
	}
	return ws
}

// SmoothAndQuantize runs the one-shot transformation pass: estimate a
// smoothing vector per boundary, apply all of them, then fake-quantize
// weights and arm per-call activation quantization. Validation is complete
// before the first parameter is touched, so an error never leaves the model
// partially smoothed. The caller must hold exclusive access to the model
// for the duration.
func SmoothAndQuantize(m *Model, stats smooth.ChannelStatistics, cfg config.Config) error {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		metrics.RecordTransformError("invalid_configuration")
		return fmt.Errorf("%w: %v", smooth.ErrInvalidConfig, err)
	}

	bounds := m.boundaries(cfg)

	// Estimate every scale vector and check producer shapes up front.
	planned := make([][]float32, len(bounds))
	for i, b := range bounds {
		actMax, ok := stats[b.name]
		if !ok {
			metrics.RecordTransformError("missing_statistics")
			return fmt.Errorf("%w: boundary %s", smooth.ErrMissingStatistics, b.name)
		}
		scales, err := smooth.EstimateScales(b.name, actMax, consumerWeights(b.consumers), cfg)
		if err != nil {
			metrics.RecordTransformError("shape_mismatch")
			return err
		}
		switch b.kind {
		case normBoundary:
			if len(b.norm.Gain) != len(scales) {
				metrics.RecordTransformError("shape_mismatch")
				return fmt.Errorf("%w: boundary %s norm gain has %d channels, scales have %d",
					smooth.ErrShapeMismatch, b.name, len(b.norm.Gain), len(scales))
			}
		case linearBoundary:
			if b.producer.Weight.Rows() != len(scales) {
				metrics.RecordTransformError("shape_mismatch")
				return fmt.Errorf("%w: boundary %s producer has %d output channels, scales have %d",
					smooth.ErrShapeMismatch, b.name, b.producer.Weight.Rows(), len(scales))
			}
		}
		planned[i] = scales
	}

	// Apply. Both sides of each boundary go together; nothing below can
	// fail after the validation pass above.
	for i, b := range bounds {
		var err error
		switch b.kind {
		case normBoundary:
			err = smooth.ApplyNorm(b.norm.Gain, nil, consumerWeights(b.consumers), planned[i])
		case linearBoundary:
			err = smooth.ApplyLinearProducer(b.producer.Weight, b.producer.Bias, consumerWeights(b.consumers), planned[i])
		}
		if err != nil {
			return fmt.Errorf("boundary %s: %w", b.name, err)
		}
		if cfg.DebugScales {
			logger.Log.Debug("boundary smoothed", "boundary", b.name,
				"channels", len(planned[i]), "scale_max", tensor.AbsMax(planned[i]))
		}
	}

	// Weights quantize once, now that they carry the migrated range.
	m.ForEachLinear(func(l *Linear) {
		w := l.Weight
		switch cfg.WeightGranularity {
		case quant.PerTensor:
			l.weightScale = quant.QuantizeDequantScale(w.Data(), cfg.WeightBits)
		default:
			// Per-channel rows; per-token has no meaning for weights and
			// degrades to the same row-wise grid.
			l.weightScales = quant.RowScalesQuantize(w.Data(), w.Rows(), w.Cols(), cfg.WeightBits)
		}
		l.actBits = cfg.ActivationBits
		l.actGranularity = cfg.ActivationGranularity
		metrics.RecordWeightQuantized()
	})

	if cfg.QuantizeBMMInput {
		// Q/K/V feed the attention batched matmuls directly, so their
		// outputs get snapped to the activation grid too.
		for _, b := range m.Blocks {
			b.AttnQ.quantizeOutput = true
			b.AttnK.quantizeOutput = true
			b.AttnV.quantizeOutput = true
		}
	}

	metrics.RecordTransform(time.Since(start))
	logger.Log.Info("model smoothed and quantized",
		"boundaries", len(bounds),
		"layers", len(m.Blocks),
		"alpha", cfg.Alpha,
		"weight_bits", cfg.WeightBits,
		"activation_bits", cfg.ActivationBits,
		"duration", time.Since(start))
	return nil
}
