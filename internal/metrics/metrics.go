// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cryptara"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	stakeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "stake_total",
			Help:      "Stake attempts by token and result kind.",
		},
		[]string{"token", "result"},
	)

	unstakeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "unstake_total",
			Help:      "Unstake attempts by token and outcome.",
		},
		[]string{"token", "outcome"},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a ledger key lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notifications by delivery result.",
		},
		[]string{"result"},
	)

	archivedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "records_total",
			Help:      "Transaction records written to cold storage.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		stakeOps,
		unstakeOps,
		lockWait,
		notifications,
		archivedRecords,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP metrics collection. Routes are
// labelled by the matched mux pattern so path parameters do not explode
// cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routeLabel(r.Pattern)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordStake counts a stake attempt. result is "ok" or an error kind.
func RecordStake(token, result string) {
	stakeOps.WithLabelValues(tokenLabel(token), result).Inc()
}

// RecordUnstake counts an unstake attempt. outcome is "early", "completed"
// or an error kind.
func RecordUnstake(token, outcome string) {
	unstakeOps.WithLabelValues(tokenLabel(token), outcome).Inc()
}

// ObserveLockWait records how long a caller waited for a key lock.
func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

// RecordNotification counts a notification by result: "sent", "dropped"
// or "failed".
func RecordNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

// AddArchived counts records written by the archiver.
func AddArchived(n int64) {
	if n > 0 {
		archivedRecords.Add(float64(n))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the instrumentation.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func routeLabel(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	// "GET /api/x/{id}" -> "/api/x/{id}"
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

func tokenLabel(token string) string {
	if token == "" {
		return "unknown"
	}
	return token
}
