package model

import (
	"fmt"

	"github.com/23skdu/longbow-smooth/internal/config"
	"github.com/23skdu/longbow-smooth/internal/smooth"
	"github.com/23skdu/longbow-smooth/internal/tensor"
)

// CaptureStatistics runs calibration batches through the model's boundary
// producers and records the per-channel activation abs-max at every linear
// input boundary, folding a running max across batches. It must be called
// before SmoothAndQuantize; statistics taken from a smoothed model are not
// valid calibration data.
//
// Each block's producers see the raw batch. The full residual stream
// (attention mix, FFN output) lives in the host computation graph, which is
// expected to feed per-block inputs when calibrating a real checkpoint.
func CaptureStatistics(m *Model, batches []*tensor.Tensor, cfg config.Config) (smooth.ChannelStatistics, error) {
	stats := make(smooth.ChannelStatistics)
	for _, batch := range batches {
		if batch.Cols() != m.Dim {
			return nil, fmt.Errorf("%w: calibration batch has %d features, model dim is %d",
				smooth.ErrShapeMismatch, batch.Cols(), m.Dim)
		}
		for i, b := range m.Blocks {
			p := fmt.Sprintf("blk.%d.", i)

			attnIn := b.AttnNorm.Forward(batch)
			foldAbsMax(stats, p+"attn_qkv", attnIn)

			if cfg.SmoothAttnOutput {
				v := b.AttnV.Forward(attnIn)
				foldAbsMax(stats, p+"attn_v_out", v)
				v.Free()
			}
			attnIn.Free()

			ffnIn := b.FfnNorm.Forward(batch)
			foldAbsMax(stats, p+"ffn_gate_up", ffnIn)
			ffnIn.Free()
		}
	}
	return stats, nil
}

func foldAbsMax(stats smooth.ChannelStatistics, name string, t *tensor.Tensor) {
	dst, ok := stats[name]
	if !ok {
		dst = make([]float32, t.Cols())
		stats[name] = dst
	}
	t.ColAbsMax(dst)
}
