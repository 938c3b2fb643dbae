// Package handlers implements the HTTP handlers for the taskrouter API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/agentoven/taskrouter/internal/api/middleware"
	"github.com/agentoven/taskrouter/internal/capability"
	"github.com/agentoven/taskrouter/internal/mcpgw"
	"github.com/agentoven/taskrouter/internal/orchestrator"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// LatencySource reports the latency average per capability.
type LatencySource interface {
	Latency(id string) int64
}

// Handlers holds all handler dependencies. Registry and Latencies may be nil
// when no capability is configured.
type Handlers struct {
	Service    *orchestrator.Service
	Registry   *capability.Registry
	Latencies  LatencySource
	MCPGateway *mcpgw.Gateway
}

// New creates a new Handlers instance with all dependencies.
func New(svc *orchestrator.Service, reg *capability.Registry, lat LatencySource, gw *mcpgw.Gateway) *Handlers {
	return &Handlers{
		Service:    svc,
		Registry:   reg,
		Latencies:  lat,
		MCPGateway: gw,
	}
}

// ── Chat ────────────────────────────────────────────────────

// Chat answers one conversation turn.
// POST /api/v1/chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Hint:  `expected {"messages":[{"role":"user","content":"..."}]}`,
		})
		return
	}
	if req.AgentType == "" {
		req.AgentType = middleware.GetAgentType(r.Context())
	}

	resp, err := h.Service.Handle(r.Context(), req)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	if resp.RequestID != "" {
		w.Header().Set("X-Request-Id", resp.RequestID)
	}
	w.Header().Set(middleware.HeaderCapability, resp.UsedCapability)
	w.Header().Set(middleware.HeaderTier, string(resp.Tier))
	cacheResult := "miss"
	switch {
	case resp.Cached:
		cacheResult = "hit"
	case req.ForceCapability != "":
		cacheResult = "bypass"
	}
	w.Header().Set(middleware.HeaderCache, cacheResult)
	respondJSON(w, http.StatusOK, resp)
}

// Route returns the routing decision for a text without calling providers.
// POST /api/v1/route
func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, models.ErrorResponse{Error: "text is required"})
		return
	}

	info, err := h.Service.Route(req.Text, req.ForceCapability)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// ── Capabilities ────────────────────────────────────────────

// ListCapabilities returns the registry with the latency average of each
// capability.
// GET /api/v1/capabilities
func (h *Handlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	out := []models.CapabilityInfo{}
	if h.Registry != nil {
		for _, d := range h.Registry.Descriptors() {
			info := models.CapabilityInfo{
				ID:        d.ID,
				Kind:      d.Kind,
				Model:     d.Model,
				Tier:      d.Tier,
				CostPer1K: d.CostPer1K,
			}
			if h.Latencies != nil {
				info.LatencyMs = h.Latencies.Latency(d.ID)
			}
			out = append(out, info)
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// ── MCP Gateway ─────────────────────────────────────────────

// MCPEndpoint serves JSON-RPC 2.0 tool calls.
// POST /mcp
func (h *Handlers) MCPEndpoint(w http.ResponseWriter, r *http.Request) {
	var req models.MCPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondJSON(w, http.StatusOK, models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32700,
				Message: "Parse error",
				Data:    err.Error(),
			},
		})
		return
	}

	log.Debug().Str("method", req.Method).Msg("MCP request received")

	resp := h.MCPGateway.HandleJSONRPC(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Helpers ─────────────────────────────────────────────────

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Encode response")
	}
}

func respondError(w http.ResponseWriter, status int, body models.ErrorResponse) {
	if body.AttemptedCapabilities == nil {
		body.AttemptedCapabilities = []string{}
	}
	respondJSON(w, status, body)
}

func respondRequestError(w http.ResponseWriter, err error) {
	var re *orchestrator.RequestError
	if !errors.As(err, &re) {
		respondError(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal error"})
		return
	}
	respondError(w, re.Status, re.Response())
}
