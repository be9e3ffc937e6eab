// Package metrics provides runtime statistics: in-memory operation timings for
// status output and a Prometheus registry for scraping.
package metrics

import (
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the collector's statistics at a point in time.
type Snapshot struct {
	UptimeSeconds  float64                       `json:"uptime_seconds"`
	Operations     map[string]*OperationSnapshot `json:"operations"`
	ItemsProcessed int64                         `json:"items_processed"`
	ItemsFailed    int64                         `json:"items_failed"`
	QuotaWaits     int64                         `json:"quota_waits"`
}

// Operation names for the collector.
const (
	OpSearch    = "search"
	OpDownload  = "download"
	OpNormalize = "normalize"
	OpConvert   = "convert"
	OpRender    = "render"
	OpStore     = "store"
	OpDBQuery   = "db_query"
	OpProcess   = "process"
	OpClassify  = "classify"
	OpQuotaWait = "quota_wait"
	OpHTTP      = "http"
)

// Collector aggregates runtime statistics and mirrors them into Prometheus.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	processed int64
	failed    int64
	waits     int64

	registry  *prometheus.Registry
	duration  *prometheus.HistogramVec
	opErrors  *prometheus.CounterVec
	items     *prometheus.CounterVec
	quotaWait prometheus.Counter
	runs      *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		registry:  prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apiharvest_operation_duration_seconds",
				Help:    "Duration of pipeline and crawler operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		opErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiharvest_operation_errors_total",
				Help: "Failed operations by type",
			},
			[]string{"operation"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiharvest_items_total",
				Help: "Items that went through the conversion pipeline",
			},
			[]string{"source", "result"},
		),
		quotaWait: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apiharvest_quota_wait_seconds_total",
			Help: "Time spent waiting for search quota resets",
		}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiharvest_runs_total",
				Help: "Finished batch runs by status",
			},
			[]string{"source", "status"},
		),
	}
	c.registry.MustRegister(c.duration, c.opErrors, c.items, c.quotaWait, c.runs)
	return c
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, false)
}

// RecordError records timing for a failed operation.
func (c *Collector) RecordError(op string, duration time.Duration) {
	c.record(op, duration, true)
}

func (c *Collector) record(op string, duration time.Duration, failed bool) {
	c.mu.Lock()
	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
	if failed {
		m.Errors++
	}
	c.mu.Unlock()

	c.duration.WithLabelValues(op).Observe(duration.Seconds())
	if failed {
		c.opErrors.WithLabelValues(op).Inc()
	}
}

// RecordItem counts one pipeline result for source.
func (c *Collector) RecordItem(source string, success bool) {
	result := "success"
	c.mu.Lock()
	if success {
		c.processed++
	} else {
		c.failed++
		result = "failure"
	}
	c.mu.Unlock()
	c.items.WithLabelValues(source, result).Inc()
}

// RecordQuotaWait records one suspension for a quota reset.
func (c *Collector) RecordQuotaWait(d time.Duration) {
	c.mu.Lock()
	c.waits++
	c.mu.Unlock()
	c.quotaWait.Add(d.Seconds())
	c.RecordTiming(OpQuotaWait, d)
}

// RecordRun counts a finished run.
func (c *Collector) RecordRun(source, status string) {
	c.runs.WithLabelValues(source, status).Inc()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]*OperationSnapshot, len(c.ops))
	for name, m := range c.ops {
		if s := snapshotOp(m); s != nil {
			ops[name] = s
		}
	}
	return Snapshot{
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
		Operations:     ops,
		ItemsProcessed: c.processed,
		ItemsFailed:    c.failed,
		QuotaWaits:     c.waits,
	}
}

// OperationNames returns the names of all recorded operations, sorted.
func (s Snapshot) OperationNames() []string {
	names := make([]string, 0, len(s.Operations))
	for n := range s.Operations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
