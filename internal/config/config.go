package config

import (
	"fmt"

	"github.com/23skdu/longbow-smooth/internal/quant"
)

// Config controls the one-shot smoothing + quantization pass and the
// per-call activation quantization it installs.
type Config struct {
	// Alpha balances how much quantization difficulty moves from
	// activations to weights. 0 pushes everything to weights, 1 to
	// activations. Valid range [0,1].
	Alpha float32

	WeightBits     int
	ActivationBits int

	WeightGranularity     quant.Granularity
	ActivationGranularity quant.Granularity

	// SmoothAttnOutput also smooths the value projection -> output
	// projection boundary. The rescale commutes through the attention
	// mix because attention weights depend only on Q and K.
	SmoothAttnOutput bool

	// QuantizeBMMInput additionally fake-quantizes each boundary's
	// projection outputs (e.g. Q/K/V) right after they are produced.
	QuantizeBMMInput bool

	// ClampWarnFraction is the fraction of epsilon-clamped channels per
	// boundary above which the calibration data is flagged as likely
	// unrepresentative.
	ClampWarnFraction float64

	DebugScales bool
}

func (c *Config) Validate() error {
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("invalid alpha: %f (must be in [0,1])", c.Alpha)
	}
	if c.WeightBits <= 1 || c.WeightBits > 16 {
		return fmt.Errorf("invalid weight_bits: %d (must be in [2,16])", c.WeightBits)
	}
	if c.ActivationBits <= 1 || c.ActivationBits > 16 {
		return fmt.Errorf("invalid activation_bits: %d (must be in [2,16])", c.ActivationBits)
	}
	if err := validGranularity(c.WeightGranularity); err != nil {
		return fmt.Errorf("invalid weight granularity: %w", err)
	}
	if err := validGranularity(c.ActivationGranularity); err != nil {
		return fmt.Errorf("invalid activation granularity: %w", err)
	}
	if c.ClampWarnFraction < 0 || c.ClampWarnFraction > 1 {
		return fmt.Errorf("invalid clamp_warn_fraction: %f (must be in [0,1])", c.ClampWarnFraction)
	}
	return nil
}

func validGranularity(g quant.Granularity) error {
	switch g {
	case quant.PerTensor, quant.PerChannel, quant.PerToken:
		return nil
	}
	return fmt.Errorf("unknown granularity %d", int(g))
}

func Default() Config {
	return Config{
		Alpha:                 0.5,
		WeightBits:            8,
		ActivationBits:        8,
		WeightGranularity:     quant.PerChannel,
		ActivationGranularity: quant.PerToken,
		SmoothAttnOutput:      true,
		ClampWarnFraction:     0.5,
	}
}
