package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	optimizationStartedTotal   atomic.Uint64
	optimizationCompletedTotal atomic.Uint64
	optimizationFailedTotal    atomic.Uint64

	optimizationJobsReceivedTotal      atomic.Uint64
	optimizationJobsCompletedTotal     atomic.Uint64
	optimizationJobsFailedTotal        atomic.Uint64
	optimizationJobsUnrecoverableTotal atomic.Uint64

	optimizationDuration   = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
	optimizationIterations = newHistogram([]float64{1, 2, 3, 4, 5, 7, 10})
)

// IncOptimizationJobsReceived increments the worker received counter.
func IncOptimizationJobsReceived() {
	optimizationJobsReceivedTotal.Add(1)
}

// IncOptimizationJobsCompleted increments the worker completed counter.
func IncOptimizationJobsCompleted() {
	optimizationJobsCompletedTotal.Add(1)
}

// IncOptimizationJobsFailed increments the worker failed counter.
func IncOptimizationJobsFailed() {
	optimizationJobsFailedTotal.Add(1)
}

// IncOptimizationJobsDeletedUnrecoverable counts malformed messages dropped from the queue.
func IncOptimizationJobsDeletedUnrecoverable() {
	optimizationJobsUnrecoverableTotal.Add(1)
}

// IncOptimizationStarted increments the started counter.
func IncOptimizationStarted() {
	optimizationStartedTotal.Add(1)
}

// IncOptimizationCompleted increments the completed counter.
func IncOptimizationCompleted() {
	optimizationCompletedTotal.Add(1)
}

// IncOptimizationFailed increments the failed counter.
func IncOptimizationFailed() {
	optimizationFailedTotal.Add(1)
}

// ObserveOptimizationDurationMs records an optimization duration in milliseconds.
func ObserveOptimizationDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	optimizationDuration.Observe(value)
}

// ObserveOptimizationIterations records how many generate/evaluate cycles a run took.
func ObserveOptimizationIterations(value float64) {
	if value < 0 {
		value = 0
	}
	optimizationIterations.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "optimization_started_total", "Total optimizations started", optimizationStartedTotal.Load())
	writeCounter(&buf, "optimization_completed_total", "Total optimizations completed", optimizationCompletedTotal.Load())
	writeCounter(&buf, "optimization_failed_total", "Total optimizations failed", optimizationFailedTotal.Load())
	writeCounter(&buf, "optimization_jobs_received_total", "Total queue jobs received", optimizationJobsReceivedTotal.Load())
	writeCounter(&buf, "optimization_jobs_completed_total", "Total queue jobs completed", optimizationJobsCompletedTotal.Load())
	writeCounter(&buf, "optimization_jobs_failed_total", "Total queue jobs failed", optimizationJobsFailedTotal.Load())
	writeCounter(&buf, "optimization_jobs_deleted_unrecoverable_total", "Total malformed queue jobs dropped", optimizationJobsUnrecoverableTotal.Load())
	writeHistogram(&buf, "optimization_duration_ms", "Optimization duration in milliseconds", optimizationDuration.Snapshot())
	writeHistogram(&buf, "optimization_iterations", "Generate/evaluate cycles per optimization", optimizationIterations.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
