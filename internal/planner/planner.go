// Package planner turns a request into a sequential step plan.
//
// The plan comes from a capability as JSON. Anything that does not parse or
// fails validation is replaced by the single-step trivial plan, so Plan never
// returns an error.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/internal/metrics"
	"github.com/agentoven/taskrouter/internal/tools"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("taskrouter/planner")

// DefaultMaxSteps bounds plan length when no limit is configured.
const DefaultMaxSteps = 8

// Planner asks a capability for a plan and validates it.
type Planner struct {
	caller   fallback.Caller
	catalog  []tools.Spec
	maxSteps int
}

// New creates a planner. catalog lists the tools offered to the model.
func New(caller fallback.Caller, catalog []tools.Spec, maxSteps int) *Planner {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Planner{caller: caller, catalog: catalog, maxSteps: maxSteps}
}

// Plan produces a validated plan for userInput. It never fails; on any
// capability, parse or validation error it returns models.TrivialPlan.
func (p *Planner) Plan(ctx context.Context, userInput string, candidates []string) models.Plan {
	ctx, span := tracer.Start(ctx, "planner.plan")
	defer span.End()

	start := time.Now()
	plan, err := p.plan(ctx, userInput, candidates)
	if err != nil {
		log.Warn().Err(err).Msg("Planning failed, using trivial plan")
		plan = models.TrivialPlan(userInput)
	}

	span.SetAttributes(
		attribute.Int("taskrouter.plan.steps", len(plan.Steps)),
		attribute.Bool("taskrouter.plan.degraded", plan.Degraded),
	)
	metrics.PlansCreated.WithLabelValues(fmt.Sprint(plan.Degraded)).Inc()
	log.Info().
		Int("steps", len(plan.Steps)).
		Bool("degraded", plan.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Plan ready")
	return plan
}

func (p *Planner) plan(ctx context.Context, userInput string, candidates []string) (models.Plan, error) {
	res, err := p.caller.Execute(ctx, candidates,
		[]models.ChatMessage{{Role: models.RoleUser, Content: userInput}},
		p.systemPrompt())
	if err != nil {
		return models.Plan{}, fmt.Errorf("generate plan: %w", err)
	}
	return Parse(res.Output, p.maxSteps)
}

func (p *Planner) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You are a planning agent. Break the user's task into a short sequence of concrete steps that are executed strictly in order.

A step either reasons directly (set "tool" to null) or calls exactly one tool.
`)
	if len(p.catalog) > 0 {
		sb.WriteString("\nAVAILABLE TOOLS:\n")
		for _, s := range p.catalog {
			fmt.Fprintf(&sb, "- %s: %s", s.ID, s.Description)
			if len(s.Params) > 0 {
				names := make([]string, 0, len(s.Params))
				for _, prm := range s.Params {
					n := prm.Name
					if prm.Required {
						n += " (required)"
					}
					names = append(names, n)
				}
				fmt.Fprintf(&sb, " Args: %s.", strings.Join(names, ", "))
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\nNo tools are available; every step must set \"tool\" to null.\n")
	}
	fmt.Fprintf(&sb, `
RULES:
1. Use at most %d steps. Prefer fewer.
2. Every step needs a non-empty "action".
3. Only use the tools listed above.

OUTPUT FORMAT (JSON only, no prose):
{
  "taskAnalysis": "one sentence describing the task",
  "complexity": "simple" | "medium" | "complex",
  "steps": [
    {"index": 1, "action": "what to do", "tool": null, "args": {}, "expectedOutput": "what this step yields"}
  ],
  "finalDeliverable": "what the user receives at the end"
}`, p.maxSteps)
	return sb.String()
}

// Parse extracts, decodes and validates a plan from raw model output.
func Parse(raw string, maxSteps int) (models.Plan, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return models.Plan{}, err
	}
	var plan models.Plan
	if err := json.Unmarshal([]byte(obj), &plan); err != nil {
		return models.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if err := Validate(&plan, maxSteps); err != nil {
		return models.Plan{}, err
	}
	return plan, nil
}

var errNoJSON = errors.New("no JSON object found in response")

// extractJSON returns the first balanced JSON object in s, looking inside a
// fenced block first when one is present.
func extractJSON(s string) (string, error) {
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			if obj, ok := firstObject(rest[:j]); ok {
				return obj, nil
			}
		}
	}
	if obj, ok := firstObject(s); ok {
		return obj, nil
	}
	return "", errNoJSON
}

// firstObject scans for the first balanced {...}, ignoring braces inside
// JSON strings.
func firstObject(s string) (string, bool) {
	start, depth := -1, 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// Validate checks the plan and normalizes it in place: steps are renumbered
// 1..N and an unknown complexity is derived from the step count.
func Validate(plan *models.Plan, maxSteps int) error {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if len(plan.Steps) == 0 {
		return errors.New("plan has no steps")
	}
	if len(plan.Steps) > maxSteps {
		return fmt.Errorf("plan has %d steps, limit is %d", len(plan.Steps), maxSteps)
	}
	for i := range plan.Steps {
		st := &plan.Steps[i]
		st.Action = strings.TrimSpace(st.Action)
		if st.Action == "" {
			return fmt.Errorf("step %d: empty action", i+1)
		}
		if st.Call.Kind == models.CallTool && !tools.IsKnown(st.Call.Tool) {
			return fmt.Errorf("step %d: unknown tool %q", i+1, st.Call.Tool)
		}
		st.Index = i + 1
	}

	switch plan.Complexity {
	case models.PlanSimple, models.PlanMedium, models.PlanComplex:
	default:
		switch n := len(plan.Steps); {
		case n <= 1:
			plan.Complexity = models.PlanSimple
		case n <= 3:
			plan.Complexity = models.PlanMedium
		default:
			plan.Complexity = models.PlanComplex
		}
	}
	plan.Degraded = false
	return nil
}
