// Package mcpgw exposes the tool registry over MCP (Model Context Protocol).
//
// The gateway lets external agents discover and invoke the same closed tool
// set the planner uses, through JSON-RPC 2.0 over HTTP. It supports:
//   - initialize and ping
//   - tools/list with JSON input schemas
//   - tools/call dispatched to the tool registry
package mcpgw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentoven/taskrouter/internal/tools"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
)

const protocolVersion = "2024-11-05"

// Gateway answers MCP requests against a tool registry.
type Gateway struct {
	tools   *tools.Registry
	version string
}

// NewGateway creates a new MCP gateway.
func NewGateway(reg *tools.Registry, version string) *Gateway {
	return &Gateway{tools: reg, version: version}
}

// HandleJSONRPC processes an MCP JSON-RPC 2.0 request. Notifications return
// nil.
func (gw *Gateway) HandleJSONRPC(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	if req.Jsonrpc != "2.0" {
		return errorResponse(req.ID, -32600, "Invalid Request", "jsonrpc must be \"2.0\"")
	}

	switch req.Method {

	// ── Discovery ────────────────────────────────────
	case "initialize":
		return gw.handleInitialize(req)

	case "tools/list":
		return gw.handleToolsList(req)

	// ── Tool Invocation ──────────────────────────────
	case "tools/call":
		return gw.handleToolsCall(ctx, req)

	// ── Notifications (no response) ──────────────────
	case "notifications/initialized":
		log.Debug().Msg("MCP client initialized")
		return nil

	case "ping":
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Result:  map[string]string{"status": "pong"},
			ID:      req.ID,
		}

	default:
		return errorResponse(req.ID, -32601, "Method not found",
			fmt.Sprintf("Method '%s' is not supported by the MCP gateway", req.Method))
	}
}

func (gw *Gateway) handleInitialize(req *models.MCPRequest) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]bool{
					"listChanged": false,
				},
			},
			"serverInfo": map[string]string{
				"name":    "taskrouter-mcp-gateway",
				"version": gw.version,
			},
		},
		ID: req.ID,
	}
}

// handleToolsList returns the tools that have a real handler.
func (gw *Gateway) handleToolsList(req *models.MCPRequest) *models.MCPResponse {
	specs := gw.tools.AvailableSpecs()
	mcpTools := make([]models.MCPToolInfo, 0, len(specs))
	for _, s := range specs {
		mcpTools = append(mcpTools, models.MCPToolInfo{
			Name:        string(s.ID),
			Description: s.Description,
			InputSchema: s.InputSchema(),
		})
	}

	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"tools": mcpTools,
		},
		ID: req.ID,
	}
}

func (gw *Gateway) handleToolsCall(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params models.MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	id := models.ToolID(params.Name)
	if !gw.tools.Has(id) {
		return errorResponse(req.ID, -32001, "Tool not found",
			fmt.Sprintf("Tool '%s' is not registered", params.Name))
	}
	if !gw.tools.Available(id) {
		return errorResponse(req.ID, -32002, "Tool disabled",
			fmt.Sprintf("Tool '%s' is not configured", params.Name))
	}

	res := gw.tools.Invoke(ctx, id, params.Arguments)
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result:  toMCPResult(res),
		ID:      req.ID,
	}
}

// toMCPResult renders a tool result as MCP content.
func toMCPResult(res models.ToolResult) models.MCPToolResult {
	if res.Error != "" {
		return models.MCPToolResult{
			Content: []models.MCPContent{{
				Type: "text",
				Text: fmt.Sprintf("Tool execution error: %s", res.Error),
			}},
			IsError: true,
		}
	}

	if img, ok := res.Payload.(tools.Image); ok && img.B64JSON != "" {
		return models.MCPToolResult{
			Content: []models.MCPContent{{Type: "image", Data: img.B64JSON, MimeType: "image/png"}},
		}
	}
	return models.MCPToolResult{
		Content: []models.MCPContent{{Type: "text", Text: res.Text()}},
	}
}

func errorResponse(id interface{}, code int, msg string, data interface{}) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Error: &models.MCPError{
			Code:    code,
			Message: msg,
			Data:    data,
		},
		ID: id,
	}
}
