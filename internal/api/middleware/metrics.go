package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agentoven/taskrouter/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// Metrics records request counts and latencies labelled by route pattern.
// Unmatched paths share the "unmatched" label to keep cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
