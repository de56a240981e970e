// Package metrics exposes the Prometheus collectors shared by the bot.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// conversationsLen is read on every scrape so expiry and eviction show up
// without a write having to happen first.
var conversationsLen atomic.Pointer[func() int]

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "betbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"method", "route"},
	)
	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "betbot_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
	events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betbot_events_total",
			Help: "Inbound chat events by platform, kind and outcome",
		},
		[]string{"platform", "kind", "outcome"},
	)
	eventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "betbot_event_duration_seconds",
			Help:    "Time spent handling one inbound chat event",
			Buckets: latencyBuckets,
		},
		[]string{"platform", "kind"},
	)
	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betbot_wager_transitions_total",
			Help: "Conversation stage transitions",
		},
		[]string{"from", "to"},
	)
	ordersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betbot_orders_placed_total",
			Help: "Orders persisted, by stock",
		},
		[]string{"stock"},
	)
	storeWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betbot_store_writes_total",
			Help: "Record store appends by backend, record kind and result",
		},
		[]string{"backend", "kind", "result"},
	)
	storeWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "betbot_store_write_duration_seconds",
			Help:    "Record store append latency",
			Buckets: latencyBuckets,
		},
		[]string{"backend"},
	)
	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "betbot_conversations_active",
			Help: "Conversations held by the in-memory tracker",
		},
		func() float64 {
			if n := conversationsLen.Load(); n != nil {
				return float64((*n)())
			}
			return 0
		},
	)
	published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betbot_order_events_published_total",
			Help: "OrderPlaced events handed to the broker, by result",
		},
		[]string{"result"},
	)
	outbound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betbot_outbound_messages_total",
			Help: "Messages sent to chat platforms, by platform and result",
		},
		[]string{"platform", "result"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one served request. route is the matched route template, not the raw path.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// HTTPInFlight adjusts the in-flight request gauge by delta.
func HTTPInFlight(delta float64) {
	httpInFlight.Add(delta)
}

// ObserveEvent records the outcome of one dispatched chat event.
func ObserveEvent(platform, kind, outcome string, d time.Duration) {
	events.WithLabelValues(platform, kind, outcome).Inc()
	eventDuration.WithLabelValues(platform, kind).Observe(d.Seconds())
}

// Transition counts a conversation stage change.
func Transition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

// OrderPlaced counts a persisted order.
func OrderPlaced(stock string) {
	ordersPlaced.WithLabelValues(stock).Inc()
}

// StoreWrite records one append attempt against a store backend.
func StoreWrite(backend, kind string, err error, d time.Duration) {
	storeWrites.WithLabelValues(backend, kind, result(err)).Inc()
	storeWriteDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// TrackConversations makes the active conversations gauge report n() at scrape time.
// The latest call wins.
func TrackConversations(n func() int) {
	conversationsLen.Store(&n)
}

// Published counts an OrderPlaced publication attempt.
func Published(err error) {
	published.WithLabelValues(result(err)).Inc()
}

// Outbound counts a reply or push sent to a chat platform.
func Outbound(platform string, err error) {
	outbound.WithLabelValues(platform, result(err)).Inc()
}
