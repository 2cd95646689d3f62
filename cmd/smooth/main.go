package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-smooth/internal/config"
	"github.com/23skdu/longbow-smooth/internal/model"
	"github.com/23skdu/longbow-smooth/internal/quant"
	"github.com/23skdu/longbow-smooth/internal/smooth"
	"github.com/23skdu/longbow-smooth/internal/statstore"
	"github.com/23skdu/longbow-smooth/internal/tensor"
)

var (
	statsPath   = flag.String("stats", "", "Path to a calibration statistics blob (Arrow IPC)")
	savePath    = flag.String("save-stats", "", "Write captured statistics to this path")
	collector   = flag.String("collector", "", "Fetch statistics from a Flight collector (host:port)")
	alpha       = flag.Float64("alpha", 0.5, "Smoothing migration strength, 0..1")
	weightBits  = flag.Int("weight-bits", 8, "Weight quantization bit width")
	actBits     = flag.Int("act-bits", 8, "Activation quantization bit width")
	actGran     = flag.String("act-granularity", "per_token", "Activation granularity: per_tensor, per_channel, per_token")
	quantBMM    = flag.Bool("quantize-bmm-input", false, "Also quantize Q/K/V projection outputs")
	dim         = flag.Int("dim", 256, "Model dimension")
	hiddenDim   = flag.Int("hidden", 1024, "FFN hidden dimension")
	layers      = flag.Int("layers", 4, "Number of transformer blocks")
	seed        = flag.Int64("seed", 42, "Weight init seed")
	calibTokens = flag.Int("calib-tokens", 512, "Synthetic calibration tokens when no stats are supplied")
	metricsAddr = flag.String("metrics", "", "Address to serve Prometheus metrics (empty = off)")
)

func main() {
	flag.Parse()

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Printf("Metrics serving on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	cfg := config.Default()
	cfg.Alpha = float32(*alpha)
	cfg.WeightBits = *weightBits
	cfg.ActivationBits = *actBits
	cfg.QuantizeBMMInput = *quantBMM
	g, err := quant.ParseGranularity(*actGran)
	if err != nil {
		log.Fatalf("Invalid --act-granularity: %v", err)
	}
	cfg.ActivationGranularity = g
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Building model dim=%d hidden=%d layers=%d seed=%d", *dim, *hiddenDim, *layers, *seed)
	m := model.NewRandom(*dim, *hiddenDim, *layers, *seed)
	ref := model.NewRandom(*dim, *hiddenDim, *layers, *seed)

	stats, err := resolveStatistics(m, cfg)
	if err != nil {
		log.Fatalf("Failed to obtain calibration statistics: %v", err)
	}
	log.Printf("Calibration statistics cover %d boundaries", len(stats))

	if *savePath != "" {
		if err := statstore.Save(*savePath, stats); err != nil {
			log.Fatalf("Failed to save statistics: %v", err)
		}
		log.Printf("Statistics saved to %s", *savePath)
	}

	if err := model.SmoothAndQuantize(m, stats, cfg); err != nil {
		log.Fatalf("Transformation failed: %v", err)
	}

	reportReconstruction(ref, m, *seed)
}

func resolveStatistics(m *model.Model, cfg config.Config) (smooth.ChannelStatistics, error) {
	if *statsPath != "" {
		log.Printf("Loading statistics from %s", *statsPath)
		return statstore.Load(*statsPath)
	}
	if *collector != "" {
		log.Printf("Fetching statistics from collector %s", *collector)
		host, port := *collector, 0
		if h, p, err := net.SplitHostPort(*collector); err == nil {
			host = h
			port, _ = strconv.Atoi(p)
		}
		fc := statstore.NewFlightClient(host, port)
		ctx := context.Background()
		if err := fc.Connect(ctx); err != nil {
			return nil, err
		}
		defer fc.Close()
		return fc.Fetch(ctx)
	}

	log.Printf("No statistics supplied, capturing from %d synthetic calibration tokens", *calibTokens)
	rng := rand.New(rand.NewSource(*seed + 1))
	batch := tensor.New("calib", *calibTokens, m.Dim)
	data := batch.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	// A few outlier channels, the regime smoothing exists for.
	for t := 0; t < *calibTokens; t++ {
		row := batch.Row(t)
		for c := 0; c < m.Dim; c += 37 {
			row[c] *= 20
		}
	}
	return model.CaptureStatistics(m, []*tensor.Tensor{batch}, cfg)
}

// reportReconstruction compares the float reference against the smoothed and
// quantized model on a fresh batch, per first-block projection.
func reportReconstruction(ref, q *model.Model, seed int64) {
	rng := rand.New(rand.NewSource(seed + 2))
	x := tensor.New("probe", 32, ref.Dim)
	data := x.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}

	rb, qb := ref.Blocks[0], q.Blocks[0]
	refIn := rb.AttnNorm.Forward(x)
	qIn := qb.AttnNorm.Forward(x)

	pairs := []struct {
		name     string
		ref, got *tensor.Tensor
	}{
		{"attn_q", rb.AttnQ.Forward(refIn), qb.AttnQ.Forward(qIn)},
		{"attn_k", rb.AttnK.Forward(refIn), qb.AttnK.Forward(qIn)},
		{"attn_v", rb.AttnV.Forward(refIn), qb.AttnV.Forward(qIn)},
	}

	fmt.Println("=== Reconstruction error (quantized vs float reference) ===")
	for _, p := range pairs {
		fmt.Printf("%-12s rel_err=%.6f\n", p.name, relError(p.ref.Data(), p.got.Data()))
	}

	if relErr := relError(pairs[0].ref.Data(), pairs[0].got.Data()); relErr > 0.1 {
		fmt.Println("WARNING: reconstruction error is high, check calibration data")
		os.Exit(1)
	}
}

func relError(ref, got []float32) float64 {
	var num, den float64
	for i := range ref {
		d := float64(ref[i] - got[i])
		num += d * d
		den += float64(ref[i]) * float64(ref[i])
	}
	if den == 0 {
		return 0
	}
	return math.Sqrt(num / den)
}
