// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "code"},
	)

	// VolumeDepth is a histogram of the number of slices per segmented volume
	VolumeDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segmentation_volume_depth_slices",
			Help:    "Histogram of the depth (slice count) of segmented volumes.",
			Buckets: []float64{1, 8, 16, 32, 48, 64, 96, 128, 256, 512},
		},
	)

	// BatchSize is a histogram of volumes per BatchSegment request
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segmentation_batch_size",
			Help:    "Histogram of volumes per batch segmentation request.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// SliceLatencySeconds is a histogram for a single slice's forward pass and argmax
	SliceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segmentation_slice_latency_seconds",
			Help:    "Histogram of per-slice inference latency (seconds).",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// VolumeLatencySeconds is a histogram for whole-volume inference latency
	VolumeLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segmentation_volume_latency_seconds",
			Help:    "Histogram of whole-volume inference latency (seconds) excluding gRPC overhead.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// DegenerateSlicesTotal counts slices whose maximum intensity was zero
	DegenerateSlicesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "segmentation_degenerate_slices_total",
			Help: "Number of slices with a zero maximum intensity.",
		},
	)

	// CacheRequestsTotal counts mask cache lookups by result
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentation_cache_requests_total",
			Help: "Mask cache lookups partitioned by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordVolume records the depth and total latency of one segmented volume
func RecordVolume(depth int, seconds float64) {
	VolumeDepth.Observe(float64(depth))
	VolumeLatencySeconds.Observe(seconds)
}

// RecordBatch records the number of volumes in a batch request
func RecordBatch(size int) {
	BatchSize.Observe(float64(size))
}

// RecordSliceLatency records the latency of one slice
func RecordSliceLatency(seconds float64) {
	SliceLatencySeconds.Observe(seconds)
}

// RecordDegenerateSlice counts one zero-maximum slice
func RecordDegenerateSlice() {
	DegenerateSlicesTotal.Inc()
}

// RecordCacheResult counts a mask cache lookup: "hit", "miss" or "error"
func RecordCacheResult(result string) {
	CacheRequestsTotal.WithLabelValues(result).Inc()
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
