package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SignalMetrics counts engine outcomes and times signal handling.
type SignalMetrics struct {
	SignalLatency *LatencyHistogram

	signalsHandled  atomic.Uint64
	signalsFailed   atomic.Uint64
	duplicates      atomic.Uint64
	ordersSubmitted atomic.Uint64
	ordersRejected  atomic.Uint64
	bracketFailures atomic.Uint64
	alertFailures   atomic.Uint64

	started time.Time
}

// LatencyHistogram tracks latency samples over a sliding window.
// Stats are recomputed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSignalMetrics creates an empty metrics set.
func NewSignalMetrics() *SignalMetrics {
	return &SignalMetrics{
		SignalLatency: NewLatencyHistogram(1000),
		started:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SignalMetrics) IncrementHandled()   { m.signalsHandled.Add(1) }
func (m *SignalMetrics) IncrementFailed()    { m.signalsFailed.Add(1) }
func (m *SignalMetrics) IncrementDuplicate() { m.duplicates.Add(1) }
func (m *SignalMetrics) IncrementSubmitted() { m.ordersSubmitted.Add(1) }
func (m *SignalMetrics) IncrementRejected()  { m.ordersRejected.Add(1) }
func (m *SignalMetrics) IncrementBracket()   { m.bracketFailures.Add(1) }
func (m *SignalMetrics) IncrementAlertErr()  { m.alertFailures.Add(1) }

// MetricsSnapshot is a point-in-time view of SignalMetrics.
type MetricsSnapshot struct {
	SignalLatency   LatencyStats `json:"signal_latency"`
	SignalsHandled  uint64       `json:"signals_handled"`
	SignalsFailed   uint64       `json:"signals_failed"`
	Duplicates      uint64       `json:"duplicates"`
	OrdersSubmitted uint64       `json:"orders_submitted"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	BracketFailures uint64       `json:"bracket_failures"`
	AlertFailures   uint64       `json:"alert_failures"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Uptime          string       `json:"uptime"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SignalMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		SignalLatency:   m.SignalLatency.Stats(),
		SignalsHandled:  m.signalsHandled.Load(),
		SignalsFailed:   m.signalsFailed.Load(),
		Duplicates:      m.duplicates.Load(),
		OrdersSubmitted: m.ordersSubmitted.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		BracketFailures: m.bracketFailures.Load(),
		AlertFailures:   m.alertFailures.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Uptime:          time.Since(m.started).Round(time.Second).String(),
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
