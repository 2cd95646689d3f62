package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-smooth/internal/metrics"
	"github.com/23skdu/longbow-smooth/internal/quant"
	"github.com/23skdu/longbow-smooth/internal/tensor"
)

// Linear is a fully connected layer owning its weight storage. Weight is
// (out_features, in_features); Bias may be nil. After SmoothAndQuantize the
// layer fake-quantizes its input on every Forward call while the weight grid
// was fixed once at transformation time.
type Linear struct {
	Name   string
	Weight *tensor.Tensor
	Bias   []float32

	weightScales   []float32 // per-row, pinned at transformation time
	weightScale    float32   // per-tensor alternative
	actBits        int       // 0 = activations pass through unquantized
	actGranularity quant.Granularity
	quantizeOutput bool
}

func NewLinear(name string, outFeatures, inFeatures int, bias bool) *Linear {
	l := &Linear{
		Name:   name,
		Weight: tensor.New(name+".weight", outFeatures, inFeatures),
	}
	if bias {
		l.Bias = make([]float32, outFeatures)
	}
	return l
}

// WeightScales returns the per-row quantization scales pinned at
// transformation time, nil before quantization or for per-tensor weights.
func (l *Linear) WeightScales() []float32 {
	return l.weightScales
}

// Forward computes x @ W^T + b for a (tokens, in_features) input. When the
// layer has been quantized, the input is snapped to the activation grid
// first; the caller's tensor is never mutated.
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Cols() != l.Weight.Cols() {
		panic(fmt.Sprintf("linear %s: input has %d features, want %d", l.Name, x.Cols(), l.Weight.Cols()))
	}

	in := x
	if l.actBits > 0 {
		in = x.Clone(x.Name() + ".q")
		quant.QuantizeDequant(in.Data(), in.Rows(), in.Cols(), l.actBits, l.actGranularity)
		metrics.RecordQuantOp(l.actGranularity.String())
	}

	out := tensor.New(l.Name+".out", in.Rows(), l.Weight.Rows())
	for t := 0; t < in.Rows(); t++ {
		src := in.Row(t)
		dst := out.Row(t)
		for j := 0; j < l.Weight.Rows(); j++ {
			w := l.Weight.Row(j)
			sum := float32(0)
			for k, v := range src {
				sum += v * w[k]
			}
			if l.Bias != nil {
				sum += l.Bias[j]
			}
			dst[j] = sum
		}
	}

	if l.quantizeOutput && l.actBits > 0 {
		quant.QuantizeDequant(out.Data(), out.Rows(), out.Cols(), l.actBits, l.actGranularity)
		metrics.RecordQuantOp(l.actGranularity.String())
	}
	return out
}

// RMSNorm is root-mean-square normalization with a learned gain.
type RMSNorm struct {
	Name string
	Gain []float32
	Eps  float32
}

func NewRMSNorm(name string, dim int) *RMSNorm {
	gain := make([]float32, dim)
	for i := range gain {
		gain[i] = 1
	}
	return &RMSNorm{Name: name, Gain: gain, Eps: 1e-5}
}

func (n *RMSNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Cols() != len(n.Gain) {
		panic(fmt.Sprintf("rmsnorm %s: input has %d features, want %d", n.Name, x.Cols(), len(n.Gain)))
	}
	out := tensor.New(n.Name+".out", x.Rows(), x.Cols())
	for t := 0; t < x.Rows(); t++ {
		src := x.Row(t)
		dst := out.Row(t)
		sumSq := float32(0)
		for _, v := range src {
			sumSq += v * v
		}
		rms := float32(math.Sqrt(float64(sumSq/float32(len(src))) + float64(n.Eps)))
		for i, v := range src {
			dst[i] = (v / rms) * n.Gain[i]
		}
	}
	return out
}

// Block holds the parameters of one transformer layer that participate in
// smoothing. Attention and FFN arithmetic beyond the linear projections is
// outside this package.
type Block struct {
	AttnNorm *RMSNorm
	AttnQ    *Linear
	AttnK    *Linear
	AttnV    *Linear
	AttnO    *Linear

	FfnNorm *RMSNorm
	FfnGate *Linear
	FfnUp   *Linear
	FfnDown *Linear
}

type Model struct {
	Dim       int
	HiddenDim int
	Blocks    []*Block
}

func New(dim, hiddenDim, layers int) *Model {
	if dim <= 0 || hiddenDim <= 0 || layers <= 0 {
		panic(fmt.Sprintf("model: invalid shape dim=%d hidden=%d layers=%d", dim, hiddenDim, layers))
	}
	m := &Model{Dim: dim, HiddenDim: hiddenDim}
	for i := 0; i < layers; i++ {
		p := fmt.Sprintf("blk.%d.", i)
		m.Blocks = append(m.Blocks, &Block{
			AttnNorm: NewRMSNorm(p+"attn_norm", dim),
			AttnQ:    NewLinear(p+"attn_q", dim, dim, false),
			AttnK:    NewLinear(p+"attn_k", dim, dim, false),
			AttnV:    NewLinear(p+"attn_v", dim, dim, true),
			AttnO:    NewLinear(p+"attn_output", dim, dim, false),
			FfnNorm:  NewRMSNorm(p+"ffn_norm", dim),
			FfnGate:  NewLinear(p+"ffn_gate", hiddenDim, dim, false),
			FfnUp:    NewLinear(p+"ffn_up", hiddenDim, dim, false),
			FfnDown:  NewLinear(p+"ffn_down", dim, hiddenDim, false),
		})
	}
	return m
}

// NewRandom builds a model with gaussian weights, used by the driver and
// tests when no checkpoint is wired in.
func NewRandom(dim, hiddenDim, layers int, seed int64) *Model {
	m := New(dim, hiddenDim, layers)
	rng := rand.New(rand.NewSource(seed))
	m.ForEachLinear(func(l *Linear) {
		data := l.Weight.Data()
		std := 1 / float32(math.Sqrt(float64(l.Weight.Cols())))
		for i := range data {
			data[i] = float32(rng.NormFloat64()) * std
		}
		for i := range l.Bias {
			l.Bias[i] = float32(rng.NormFloat64()) * 0.01
		}
	})
	for _, b := range m.Blocks {
		for i := range b.AttnNorm.Gain {
			b.AttnNorm.Gain[i] = 1 + 0.1*float32(rng.NormFloat64())
		}
		for i := range b.FfnNorm.Gain {
			b.FfnNorm.Gain[i] = 1 + 0.1*float32(rng.NormFloat64())
		}
	}
	return m
}

func (m *Model) ForEachLinear(fn func(l *Linear)) {
	for _, b := range m.Blocks {
		fn(b.AttnQ)
		fn(b.AttnK)
		fn(b.AttnV)
		fn(b.AttnO)
		fn(b.FfnGate)
		fn(b.FfnUp)
		fn(b.FfnDown)
	}
}
