package discovery

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a Stats value as prometheus metrics. Values are read from
// a snapshot at scrape time.
type Collector struct {
	stats *Stats

	requests  *prometheus.Desc
	succeeded *prometheus.Desc
	failed    *prometheus.Desc
	responses *prometheus.Desc
	latency   *prometheus.Desc
}

// NewCollector creates a Collector over stats under the given namespace.
func NewCollector(namespace string, stats *Stats) *Collector {
	return &Collector{
		stats: stats,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "api", "requests_total"),
			"Total number of request attempts sent to the backend.", nil, nil),
		succeeded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "api", "requests_successful_total"),
			"Request attempts that returned a 2xx status.", nil, nil),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "api", "requests_failed_total"),
			"Request attempts that failed in transport or returned a non-2xx status.", nil, nil),
		responses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "api", "responses_total"),
			"Responses received, by HTTP status code.", []string{"code"}, nil),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "api", "request_latency_seconds_total"),
			"Cumulative request latency.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.succeeded
	ch <- c.failed
	ch <- c.responses
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.succeeded, prometheus.CounterValue, float64(snap.SuccessfulRequests))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap.FailedRequests))
	for code, n := range snap.StatusCodes {
		ch <- prometheus.MustNewConstMetric(c.responses, prometheus.CounterValue, float64(n), strconv.Itoa(code))
	}
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, snap.TotalLatency.Seconds())
}
