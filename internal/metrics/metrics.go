package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalQuantOps atomic.Int64

var (
	BoundariesSmoothedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smoothing_boundaries_total",
		Help: "The total number of layer boundaries smoothed",
	})

	ChannelsClampedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smoothing_channels_clamped_total",
		Help: "Total channels whose smoothing scale hit the epsilon clamp",
	})

	DegenerateBoundariesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smoothing_degenerate_boundaries_total",
		Help: "Boundaries where the clamped-channel fraction exceeded the warning threshold",
	})

	ClampedFraction = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smoothing_clamped_fraction",
		Help:    "Per-boundary fraction of epsilon-clamped channels",
		Buckets: []float64{0, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1},
	})

	SmoothingScale = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smoothing_scale",
		Help:    "Distribution of per-channel smoothing factors",
		Buckets: prometheus.ExponentialBuckets(0.001, 10, 8),
	})

	TransformDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "smoothing_transform_duration_seconds",
		Help: "Duration of the full smooth-and-quantize pass",
	})

	WeightsQuantizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quant_weights_total",
		Help: "Weight tensors fake-quantized at transformation time",
	})

	QuantOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_ops_total",
		Help: "Fake quantization invocations by granularity",
	}, []string{"granularity"})

	TransformErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smoothing_transform_errors_total",
		Help: "Transformation errors by type, all raised before any mutation",
	}, []string{"error_type"})
)

// RecordBoundary records one smoothed boundary and its clamp fraction.
func RecordBoundary(clampedFraction float64, clamped int) {
	BoundariesSmoothedTotal.Inc()
	ClampedFraction.Observe(clampedFraction)
	if clamped > 0 {
		ChannelsClampedTotal.Add(float64(clamped))
	}
}

func RecordDegenerateBoundary() {
	DegenerateBoundariesTotal.Inc()
}

func RecordSmoothingScale(scale float64) {
	SmoothingScale.Observe(scale)
}

func RecordTransform(d time.Duration) {
	TransformDuration.Observe(d.Seconds())
}

func RecordWeightQuantized() {
	WeightsQuantizedTotal.Inc()
}

func RecordQuantOp(granularity string) {
	totalQuantOps.Add(1)
	QuantOpsTotal.WithLabelValues(granularity).Inc()
}

func RecordTransformError(errorType string) {
	TransformErrors.WithLabelValues(errorType).Inc()
}

// TotalQuantOps returns the process-local quant op count, independent of the
// prometheus registry, for cheap assertions and debug logging.
func TotalQuantOps() int64 {
	return totalQuantOps.Load()
}
