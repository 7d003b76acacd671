// Package metrics aggregates response latencies and counters for a scenario.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects latency percentiles and counters for one scenario.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and
// histograms are guarded by a mutex, since HDR histograms are not safe for
// concurrent writes.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// Per-request-name histograms
	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.RWMutex

	responses   atomic.Int64
	passed      atomic.Int64
	failed      atomic.Int64
	bytesSent   atomic.Int64
	bytesRecv   atomic.Int64
	runs        atomic.Int64
	connections atomic.Int64

	startTime time.Time
	config    EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists: make(map[string]*hdrhistogram.Histogram),
		startTime:    time.Now(),
		config:       config,
	}
}

// RecordResponse records one validated response.
//
// Parameters:
//   - latency: time from the group flush to the response being read
//   - requestName: name for the per-request breakdown (empty string to skip)
//   - passed: whether the response passed validation
//   - bytes: number of body bytes received
func (e *Engine) RecordResponse(latency time.Duration, requestName string, passed bool, bytes int64) {
	latencyMicros := e.clamp(latency.Microseconds())

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	if requestName != "" {
		e.recordRequestHistogram(requestName, latencyMicros)
	}

	e.responses.Add(1)
	e.bytesRecv.Add(bytes)
	if passed {
		e.passed.Add(1)
	} else {
		e.failed.Add(1)
	}
}

// RecordRun records a finished run that sent the given number of request
// bytes over the given number of connections.
func (e *Engine) RecordRun(bytesSent int64, connections int) {
	e.runs.Add(1)
	e.bytesSent.Add(bytesSent)
	e.connections.Add(int64(connections))
}

func (e *Engine) clamp(v int64) int64 {
	if v < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return v
}

// recordRequestHistogram records a latency in a per-request histogram.
func (e *Engine) recordRequestHistogram(name string, latencyMicros int64) {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	hist, exists := e.requestHists[name]
	if !exists {
		hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
		e.requestHists[name] = hist
	}
	hist.RecordValue(latencyMicros)
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	responses := e.responses.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(responses) / elapsed.Seconds()
	}
	failRate := 0.0
	if responses > 0 {
		failRate = float64(e.failed.Load()) / float64(responses)
	}

	return &Snapshot{
		Runs:        e.runs.Load(),
		Connections: e.connections.Load(),
		Responses:   responses,
		Passed:      e.passed.Load(),
		Failed:      e.failed.Load(),
		BytesSent:   e.bytesSent.Load(),
		BytesRecv:   e.bytesRecv.Load(),
		Latency:     latency,
		Requests:    e.RequestStats(),
		RPS:         rps,
		FailRate:    failRate,
		Elapsed:     elapsed,
	}
}

// RequestStats returns per-request statistics.
func (e *Engine) RequestStats() map[string]LatencyStats {
	e.requestHistsMu.RLock()
	defer e.requestHistsMu.RUnlock()

	result := make(map[string]LatencyStats, len(e.requestHists))
	for name, hist := range e.requestHists {
		result[name] = statsOf(hist)
	}
	return result
}

func statsOf(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	Runs        int64                   `json:"runs"`
	Connections int64                   `json:"connections"`
	Responses   int64                   `json:"responses"`
	Passed      int64                   `json:"passed"`
	Failed      int64                   `json:"failed"`
	BytesSent   int64                   `json:"bytesSent"`
	BytesRecv   int64                   `json:"bytesReceived"`
	Latency     LatencyStats            `json:"latency"`
	Requests    map[string]LatencyStats `json:"requests,omitempty"`
	RPS         float64                 `json:"rps"`
	FailRate    float64                 `json:"failRate"`
	Elapsed     time.Duration           `json:"elapsed"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
