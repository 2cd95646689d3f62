package config

import (
	"testing"

	"github.com/23skdu/longbow-smooth/internal/quant"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Alpha != 0.5 {
		t.Errorf("default alpha = %f, want 0.5", cfg.Alpha)
	}
	if cfg.WeightBits != 8 || cfg.ActivationBits != 8 {
		t.Errorf("default bits = %d/%d, want 8/8", cfg.WeightBits, cfg.ActivationBits)
	}
	if cfg.WeightGranularity != quant.PerChannel {
		t.Errorf("default weight granularity = %v, want per_channel", cfg.WeightGranularity)
	}
	if cfg.ActivationGranularity != quant.PerToken {
		t.Errorf("default activation granularity = %v, want per_token", cfg.ActivationGranularity)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"alpha zero", func(c *Config) { c.Alpha = 0 }, false},
		{"alpha one", func(c *Config) { c.Alpha = 1 }, false},
		{"alpha negative", func(c *Config) { c.Alpha = -0.1 }, true},
		{"alpha above one", func(c *Config) { c.Alpha = 1.1 }, true},
		{"weight bits one", func(c *Config) { c.WeightBits = 1 }, true},
		{"weight bits zero", func(c *Config) { c.WeightBits = 0 }, true},
		{"weight bits huge", func(c *Config) { c.WeightBits = 32 }, true},
		{"act bits one", func(c *Config) { c.ActivationBits = 1 }, true},
		{"act bits four", func(c *Config) { c.ActivationBits = 4 }, false},
		{"bad weight granularity", func(c *Config) { c.WeightGranularity = quant.Granularity(9) }, true},
		{"bad act granularity", func(c *Config) { c.ActivationGranularity = quant.Granularity(-1) }, true},
		{"clamp fraction high", func(c *Config) { c.ClampWarnFraction = 1.5 }, true},
		{"clamp fraction negative", func(c *Config) { c.ClampWarnFraction = -0.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
