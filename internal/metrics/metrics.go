// Package metrics holds process-wide counters for the engine, exposed
// both as lock-free atomics (for the engine's own hot path) and as
// Prometheus collectors (for external scraping).
package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// MaxLatencyMicros bounds the per-request latency histogram: track up
	// to 100ms with 1us precision.
	MaxLatencyMicros = 100000
)

// Metrics holds thread-safe counters for the engine. The engine's serial
// loop is the only writer; Prometheus scrapes read the same atomics.
type Metrics struct {
	StartTime        time.Time
	OrdersReceived   atomic.Int64
	OrdersMatched    atomic.Int64
	OrdersCancelled  atomic.Int64
	OrdersInBook     atomic.Int64
	TradesExecuted   atomic.Int64
	OnRampsApplied   atomic.Int64
	OnRampsDeduped   atomic.Int64
	ErrorsReturned   atomic.Int64
	TotalLatency     atomic.Int64 // microseconds

	// LatencyHistogram[i] counts requests taking i microseconds; the last
	// index absorbs everything >= MaxLatencyMicros.
	LatencyHistogram [MaxLatencyMicros + 1]atomic.Int64
}

// NewMetrics creates a new Metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime: time.Now(),
	}
}

func (m *Metrics) IncOrdersReceived() { m.OrdersReceived.Add(1) }

func (m *Metrics) IncOrdersMatched(count int64) { m.OrdersMatched.Add(count) }

func (m *Metrics) IncOrdersCancelled() { m.OrdersCancelled.Add(1) }

func (m *Metrics) IncOrdersInBook() { m.OrdersInBook.Add(1) }

func (m *Metrics) DecOrdersInBook() { m.OrdersInBook.Add(-1) }

func (m *Metrics) IncTradesExecuted(count int64) { m.TradesExecuted.Add(count) }

func (m *Metrics) IncOnRampsApplied() { m.OnRampsApplied.Add(1) }

func (m *Metrics) IncOnRampsDeduped() { m.OnRampsDeduped.Add(1) }

func (m *Metrics) IncErrorsReturned() { m.ErrorsReturned.Add(1) }

// AddLatency adds to the total latency and updates the histogram.
func (m *Metrics) AddLatency(microseconds int64) {
	m.TotalLatency.Add(microseconds)
	idx := microseconds
	if idx > MaxLatencyMicros {
		idx = MaxLatencyMicros
	}
	if idx < 0 {
		idx = 0
	}
	m.LatencyHistogram[idx].Add(1)
}

func (m *Metrics) percentile(p float64, totalCount int64) float64 {
	if totalCount == 0 {
		return 0
	}
	targetCount := int64(math.Ceil(float64(totalCount) * p))
	var currentCount int64
	for i := 0; i <= MaxLatencyMicros; i++ {
		currentCount += m.LatencyHistogram[i].Load()
		if currentCount >= targetCount {
			return float64(i) / 1000.0 // micros -> ms
		}
	}
	return float64(MaxLatencyMicros) / 1000.0
}

// Collector adapts Metrics to prometheus.Collector, so the admin HTTP
// server can register it on its own Prometheus registry.
type Collector struct {
	m *Metrics

	ordersReceived  *prometheus.Desc
	ordersMatched   *prometheus.Desc
	ordersCancelled *prometheus.Desc
	ordersInBook    *prometheus.Desc
	tradesExecuted  *prometheus.Desc
	onRampsApplied  *prometheus.Desc
	onRampsDeduped  *prometheus.Desc
	errorsReturned  *prometheus.Desc
	latencyP50      *prometheus.Desc
	latencyP99      *prometheus.Desc
	latencyP999     *prometheus.Desc
}

// NewCollector wraps m for Prometheus registration.
func NewCollector(m *Metrics) *Collector {
	ns := "exchange_engine"
	return &Collector{
		m:               m,
		ordersReceived:  prometheus.NewDesc(ns+"_orders_received_total", "Total requests received, of every kind.", nil, nil),
		ordersMatched:   prometheus.NewDesc(ns+"_orders_matched_total", "Total order-to-order matches performed.", nil, nil),
		ordersCancelled: prometheus.NewDesc(ns+"_orders_cancelled_total", "Total orders cancelled.", nil, nil),
		ordersInBook:    prometheus.NewDesc(ns+"_orders_in_book", "Current count of resting orders.", nil, nil),
		tradesExecuted:  prometheus.NewDesc(ns+"_trades_executed_total", "Total fills executed.", nil, nil),
		onRampsApplied:  prometheus.NewDesc(ns+"_on_ramps_applied_total", "Total on-ramp credits applied.", nil, nil),
		onRampsDeduped:  prometheus.NewDesc(ns+"_on_ramps_deduped_total", "Total on-ramp requests rejected as duplicate txn_id.", nil, nil),
		errorsReturned:  prometheus.NewDesc(ns+"_errors_returned_total", "Total ERROR replies returned.", nil, nil),
		latencyP50:      prometheus.NewDesc(ns+"_request_latency_p50_ms", "Request latency, 50th percentile.", nil, nil),
		latencyP99:      prometheus.NewDesc(ns+"_request_latency_p99_ms", "Request latency, 99th percentile.", nil, nil),
		latencyP999:     prometheus.NewDesc(ns+"_request_latency_p999_ms", "Request latency, 99.9th percentile.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ordersReceived
	ch <- c.ordersMatched
	ch <- c.ordersCancelled
	ch <- c.ordersInBook
	ch <- c.tradesExecuted
	ch <- c.onRampsApplied
	ch <- c.onRampsDeduped
	ch <- c.errorsReturned
	ch <- c.latencyP50
	ch <- c.latencyP99
	ch <- c.latencyP999
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.m
	total := m.OrdersReceived.Load()
	ch <- prometheus.MustNewConstMetric(c.ordersReceived, prometheus.CounterValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.ordersMatched, prometheus.CounterValue, float64(m.OrdersMatched.Load()))
	ch <- prometheus.MustNewConstMetric(c.ordersCancelled, prometheus.CounterValue, float64(m.OrdersCancelled.Load()))
	ch <- prometheus.MustNewConstMetric(c.ordersInBook, prometheus.GaugeValue, float64(m.OrdersInBook.Load()))
	ch <- prometheus.MustNewConstMetric(c.tradesExecuted, prometheus.CounterValue, float64(m.TradesExecuted.Load()))
	ch <- prometheus.MustNewConstMetric(c.onRampsApplied, prometheus.CounterValue, float64(m.OnRampsApplied.Load()))
	ch <- prometheus.MustNewConstMetric(c.onRampsDeduped, prometheus.CounterValue, float64(m.OnRampsDeduped.Load()))
	ch <- prometheus.MustNewConstMetric(c.errorsReturned, prometheus.CounterValue, float64(m.ErrorsReturned.Load()))
	ch <- prometheus.MustNewConstMetric(c.latencyP50, prometheus.GaugeValue, m.percentile(0.50, total))
	ch <- prometheus.MustNewConstMetric(c.latencyP99, prometheus.GaugeValue, m.percentile(0.99, total))
	ch <- prometheus.MustNewConstMetric(c.latencyP999, prometheus.GaugeValue, m.percentile(0.999, total))
}
