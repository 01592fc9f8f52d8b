package metrics

import (
	"strconv"
	"time"
)

var latencyBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// InFlight tracks requests currently being served.
var InFlight = Collector.Gauge("scriptgate_requests_in_flight", "Requests currently being served", "")

// ObserveRequest records one completed HTTP request.
func (c *MetricsCollector) ObserveRequest(route, method string, status int, d time.Duration) {
	c.Counter("scriptgate_http_requests_total", "Total HTTP requests by route and status",
		Labels("route", route, "method", method, "status", strconv.Itoa(status))).Inc()
	c.Histogram("scriptgate_http_request_duration_seconds", "HTTP request latency in seconds",
		Labels("route", route), latencyBuckets).Observe(d.Seconds())
}

// ObserveInvocation records one finished external computation by outcome kind.
func (c *MetricsCollector) ObserveInvocation(target, kind string, d time.Duration) {
	c.Counter("scriptgate_invocations_total", "Total target invocations by outcome",
		Labels("target", target, "result", kind)).Inc()
	c.Histogram("scriptgate_invocation_duration_seconds", "Target invocation latency in seconds",
		Labels("target", target), latencyBuckets).Observe(d.Seconds())
}

// ObserveGeneration records one text generation call.
func (c *MetricsCollector) ObserveGeneration(provider string, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.Counter("scriptgate_generation_requests_total", "Total text generation calls by provider",
		Labels("provider", provider, "result", result)).Inc()
	c.Histogram("scriptgate_generation_latency_seconds", "Text generation latency in seconds",
		Labels("provider", provider), latencyBuckets).Observe(d.Seconds())
}

// ObserveClassification counts detected industries and booking offers.
func (c *MetricsCollector) ObserveClassification(industry string, booking bool) {
	c.Counter("scriptgate_chat_industry_total", "Chat replies by detected industry",
		Labels("industry", industry)).Inc()
	if booking {
		c.Counter("scriptgate_chat_booking_offers_total", "Chat replies that offered a booking", "").Inc()
	}
}
