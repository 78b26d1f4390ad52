package observability

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysync", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staysync", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ImportRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysync", Name: "import_rows_total", Help: "Import rows by outcome."},
		[]string{"outcome"}, // created|unchanged|auto_resolved|conflict|error
	)
	ConflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysync", Name: "conflicts_detected_total", Help: "Detected conflicts by type."},
		[]string{"type"},
	)
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysync", Name: "resolutions_total", Help: "Applied resolutions."},
		[]string{"action", "outcome"}, // outcome: ok|error
	)
	CodesAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysync", Name: "codes_allocated_total", Help: "External codes allocated."},
		[]string{"suffixed"}, // "true" when a #n suffix was needed
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysync", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ImportRows, ConflictsDetected, Resolutions, CodesAllocated, CacheEvents)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveRow(outcome string) {
	ImportRows.WithLabelValues(outcome).Inc()
}

func ObserveConflict(conflictType string) {
	ConflictsDetected.WithLabelValues(conflictType).Inc()
}

func ObserveResolution(action, outcome string) {
	Resolutions.WithLabelValues(action, outcome).Inc()
}

func ObserveCodeAllocated(suffixed bool) {
	CodesAllocated.WithLabelValues(strconv.FormatBool(suffixed)).Inc()
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
