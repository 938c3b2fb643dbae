// Package api assembles the HTTP surface of taskrouter.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/taskrouter/internal/api/handlers"
	"github.com/agentoven/taskrouter/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Info is what /health and /version report.
type Info struct {
	Service      string
	Version      string
	Capabilities int
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers, info Info) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Metrics)
	r.Use(middleware.Telemetry)
	r.Use(middleware.AgentType)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Agent-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health & info
	r.Get("/health", healthHandler(info))
	r.Get("/version", versionHandler(info))
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/route", h.Route)
		r.Get("/capabilities", h.ListCapabilities)
	})

	// MCP Gateway: JSON-RPC 2.0 over the tool registry
	r.Post("/mcp", h.MCPEndpoint)

	return r
}

func healthHandler(info Info) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if info.Capabilities == 0 {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       status,
			"service":      info.Service,
			"capabilities": info.Capabilities,
		})
	}
}

func versionHandler(info Info) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": info.Version,
			"service": info.Service,
		})
	}
}
