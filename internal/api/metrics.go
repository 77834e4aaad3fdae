package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	snapshotsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshots_stored_total",
			Help: "Total number of metric snapshots persisted",
		},
	)

	versionRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "version_rejections_total",
			Help: "Total number of requests rejected by the version gate",
		},
	)
)

func init() {
	prometheus.MustRegister(totalRequests)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(snapshotsStored)
	prometheus.MustRegister(versionRejections)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and durations per endpoint.
// The endpoint label is the route template, not the request path, so
// parameterized routes stay a single label value no matter how many
// devices exist.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := endpointLabel(r)
		totalRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// endpointLabel returns the matched route's template, falling back to
// the raw path for requests that matched no route.
func endpointLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
