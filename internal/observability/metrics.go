package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlproto",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"socket", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wlproto",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"socket", "method", "route", "status"},
	)
	wireMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlproto",
			Subsystem: "wire",
			Name:      "messages_total",
			Help:      "Protocol messages sent and received.",
		},
		[]string{"direction", "interface"},
	)
	wireFDs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlproto",
			Subsystem: "wire",
			Name:      "fds_total",
			Help:      "File descriptors passed with protocol messages.",
		},
		[]string{"direction"},
	)
	dispatchDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wlproto",
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Messages discarded instead of delivered to a handler.",
		},
		[]string{"reason"},
	)
	objectsLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wlproto",
			Subsystem: "objects",
			Name:      "live",
			Help:      "Alive objects in the most recently updated connection map.",
		},
		[]string{"side"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, wireMessages, wireFDs, dispatchDropped, objectsLive)
	})
}

// RecordHTTPRequest counts one admin request for the monitored socket.
func RecordHTTPRequest(socket, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(socket, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(socket, method, route, statusLabel).Observe(duration.Seconds())
}

// RecordWireMessage counts one message moving in direction ("in" or "out").
func RecordWireMessage(direction, iface string, fds int) {
	RegisterMetrics()
	if iface == "" {
		iface = "anonymous"
	}
	wireMessages.WithLabelValues(direction, iface).Inc()
	if fds > 0 {
		wireFDs.WithLabelValues(direction).Add(float64(fds))
	}
}

func RecordDropped(reason string) {
	RegisterMetrics()
	dispatchDropped.WithLabelValues(reason).Inc()
}

func SetLiveObjects(side string, n int) {
	RegisterMetrics()
	objectsLive.WithLabelValues(side).Set(float64(n))
}
