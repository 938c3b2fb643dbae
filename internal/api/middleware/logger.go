package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Response headers the chat handler sets so the access log can report the
// routing outcome without decoding the body.
const (
	HeaderCapability = "X-Taskrouter-Capability"
	HeaderTier       = "X-Taskrouter-Tier"
	HeaderCache      = "X-Taskrouter-Cache"
)

// quietPaths are polled by infrastructure and logged at debug level.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Logger writes one access log line per request. Chat requests also carry
// the agent type and the capability, tier and cache result the pipeline
// reported.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		event := logEvent(r.URL.Path, rw.status)
		if !event.Enabled() {
			return
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		event = event.
			Str("method", r.Method).
			Str("route", route).
			Int("status", rw.status).
			Int("bytes", rw.bytes).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Str("request_id", chimw.GetReqID(r.Context()))

		if agent := agentTypeFrom(r); agent != "" {
			event = event.Str("agent_type", agent)
		}
		h := rw.Header()
		if c := h.Get(HeaderCapability); c != "" {
			event = event.Str("capability", c).Str("tier", h.Get(HeaderTier))
		}
		if c := h.Get(HeaderCache); c != "" {
			event = event.Str("cache", c)
		}
		event.Msg("request")
	})
}

func logEvent(path string, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	case quietPaths[path]:
		return log.Debug()
	default:
		return log.Info()
	}
}
