// Package tools holds the closed set of tools a plan step may dispatch to.
//
// Every known tool always has a handler. Tools that are not configured are
// bound to an Unavailable handler at startup, so dispatch never has to probe
// whether a collaborator exists.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("taskrouter/tools")

// Handler executes one tool call. Failures are reported in ToolResult.Error,
// never as a Go error or a panic.
type Handler interface {
	Invoke(ctx context.Context, args map[string]any) models.ToolResult
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, args map[string]any) models.ToolResult

func (f HandlerFunc) Invoke(ctx context.Context, args map[string]any) models.ToolResult {
	return f(ctx, args)
}

// Param describes one argument of a tool.
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Spec is the static description of a tool, used in the planner prompt and
// in MCP tools/list.
type Spec struct {
	ID          models.ToolID
	Description string
	Params      []Param
}

// InputSchema renders the params as a JSON schema object.
func (s Spec) InputSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Params))
	var required []string
	for _, p := range s.Params {
		props[p.Name] = map[string]interface{}{
			"type":        "string",
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Specs for the known tools.
var (
	ImageGenerateSpec = Spec{
		ID:          models.ToolImageGenerate,
		Description: "Generate an image from a text prompt. Returns an image URL.",
		Params: []Param{
			{Name: "prompt", Description: "what the image should show", Required: true},
			{Name: "size", Description: "image size such as 1024x1024"},
		},
	}
	WebSearchSpec = Spec{
		ID:          models.ToolWebSearch,
		Description: "Search the web. Returns a list of results with title, url and snippet.",
		Params: []Param{
			{Name: "query", Description: "search query", Required: true},
			{Name: "count", Description: "number of results, default 5"},
		},
	}
	CodeSynthesizeSpec = Spec{
		ID:          models.ToolCodeSynthesize,
		Description: "Write source code for a precise requirement. Returns the code as text.",
		Params: []Param{
			{Name: "requirement", Description: "what the code must do", Required: true},
			{Name: "language", Description: "programming language"},
		},
	}
)

func specFor(id models.ToolID) (Spec, bool) {
	switch id {
	case models.ToolImageGenerate:
		return ImageGenerateSpec, true
	case models.ToolWebSearch:
		return WebSearchSpec, true
	case models.ToolCodeSynthesize:
		return CodeSynthesizeSpec, true
	}
	return Spec{}, false
}

// IsKnown reports whether id belongs to the closed tool set.
func IsKnown(id models.ToolID) bool {
	_, ok := specFor(id)
	return ok
}

type entry struct {
	spec      Spec
	handler   Handler
	available bool
}

// Registry maps every known tool id to a handler. It is immutable after
// NewRegistry returns.
type Registry struct {
	entries map[models.ToolID]entry
}

// NewRegistry binds handlers to the known tools. Tools missing from handlers
// are bound to Unavailable. Handlers for unknown ids are rejected.
func NewRegistry(handlers map[models.ToolID]Handler) (*Registry, error) {
	r := &Registry{entries: make(map[models.ToolID]entry, len(models.KnownTools))}
	for id := range handlers {
		if !IsKnown(id) {
			return nil, fmt.Errorf("unknown tool %q", id)
		}
	}
	for _, id := range models.KnownTools {
		spec, _ := specFor(id)
		h, ok := handlers[id]
		if !ok || h == nil {
			r.entries[id] = entry{spec: spec, handler: Unavailable(id, "not configured")}
			log.Info().Str("tool", string(id)).Msg("Tool unavailable")
			continue
		}
		r.entries[id] = entry{spec: spec, handler: h, available: true}
	}
	return r, nil
}

// Has reports whether id is a known tool.
func (r *Registry) Has(id models.ToolID) bool {
	_, ok := r.entries[id]
	return ok
}

// Available reports whether id has a real handler.
func (r *Registry) Available(id models.ToolID) bool {
	return r.entries[id].available
}

// Specs returns the specs of all known tools in their fixed order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(models.KnownTools))
	for _, id := range models.KnownTools {
		out = append(out, r.entries[id].spec)
	}
	return out
}

// AvailableSpecs returns the specs of tools with a real handler.
func (r *Registry) AvailableSpecs() []Spec {
	var out []Spec
	for _, id := range models.KnownTools {
		if e := r.entries[id]; e.available {
			out = append(out, e.spec)
		}
	}
	return out
}

// Invoke dispatches to the handler bound to id.
func (r *Registry) Invoke(ctx context.Context, id models.ToolID, args map[string]any) models.ToolResult {
	e, ok := r.entries[id]
	if !ok {
		return models.ToolResult{Type: models.ToolResultText, Error: fmt.Sprintf("unknown tool %q", id)}
	}

	ctx, span := tracer.Start(ctx, "tool.invoke")
	span.SetAttributes(attribute.String("taskrouter.tool", string(id)))
	defer span.End()

	start := time.Now()
	res := e.handler.Invoke(ctx, args)
	log.Debug().
		Str("tool", string(id)).
		Dur("duration", time.Since(start)).
		Str("error", res.Error).
		Msg("Tool invoked")
	return res
}

// Unavailable returns a handler that always reports the tool as unavailable.
func Unavailable(id models.ToolID, reason string) Handler {
	return HandlerFunc(func(context.Context, map[string]any) models.ToolResult {
		return models.ToolResult{
			Type:  models.ToolResultText,
			Error: fmt.Sprintf("tool %s is unavailable: %s", id, reason),
		}
	})
}

// stringArg reads a string argument, accepting any scalar.
func stringArg(args map[string]any, name string) string {
	v, ok := args[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// intArg reads an integer argument that may arrive as a JSON number or string.
func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func failed(format string, a ...any) models.ToolResult {
	return models.ToolResult{Type: models.ToolResultText, Error: fmt.Sprintf(format, a...)}
}
