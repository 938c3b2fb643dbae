package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/internal/metrics"
	"github.com/agentoven/taskrouter/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Defaults for the context handed to direct steps.
const (
	DefaultWindow      = 3
	DefaultResultChars = 2000
)

// ToolInvoker dispatches tool steps. *tools.Registry implements it.
type ToolInvoker interface {
	Invoke(ctx context.Context, id models.ToolID, args map[string]any) models.ToolResult
}

const stepSystemPrompt = `You are executing one step of a larger plan. Do only what the current step asks.
Use the results of previous steps when they are relevant. Reply with the step's output only.`

// StepExecutor runs a single plan step.
type StepExecutor struct {
	caller      fallback.Caller
	tools       ToolInvoker
	window      int
	resultChars int
}

func NewStepExecutor(caller fallback.Caller, tools ToolInvoker, window, resultChars int) *StepExecutor {
	if window <= 0 {
		window = DefaultWindow
	}
	if resultChars <= 0 {
		resultChars = DefaultResultChars
	}
	return &StepExecutor{caller: caller, tools: tools, window: window, resultChars: resultChars}
}

// Window is the number of recent results passed to direct steps.
func (s *StepExecutor) Window() int { return s.window }

// ExecuteStep runs step and returns exactly one result. Failures are
// returned as a result with Success false, never as an error.
func (s *StepExecutor) ExecuteStep(ctx context.Context, step models.PlanStep, task string, recent []models.StepResult, candidates []string) models.StepResult {
	ctx, span := tracer.Start(ctx, "executor.step")
	span.SetAttributes(
		attribute.Int("taskrouter.step.index", step.Index),
		attribute.String("taskrouter.step.action", step.Action),
	)
	defer span.End()

	start := time.Now()
	var res models.StepResult
	kind := "direct"
	switch step.Call.Kind {
	case models.CallTool:
		kind = "tool"
		res = s.toolStep(ctx, step)
	default:
		res = s.directStep(ctx, step, task, recent, candidates)
	}
	res.Index = step.Index
	res.Action = step.Action
	res.DurationMs = time.Since(start).Milliseconds()

	outcome := "success"
	if !res.Success {
		outcome = "failure"
		if res.Error == "" {
			res.Error = "step failed"
		}
		span.SetStatus(codes.Error, res.Error)
	}
	metrics.StepsExecuted.WithLabelValues(kind, outcome).Inc()
	return res
}

func (s *StepExecutor) toolStep(ctx context.Context, step models.PlanStep) models.StepResult {
	if s.tools == nil {
		return models.StepResult{Error: fmt.Sprintf("no tool registry for %s", step.Call.Tool)}
	}
	tr := s.tools.Invoke(ctx, step.Call.Tool, step.Call.Args)
	if tr.Error != "" {
		return models.StepResult{Tool: &tr, Error: tr.Error}
	}
	return models.StepResult{Output: tr.Text(), Tool: &tr, Success: true}
}

func (s *StepExecutor) directStep(ctx context.Context, step models.PlanStep, task string, recent []models.StepResult, candidates []string) models.StepResult {
	prompt := s.stepPrompt(step, task, recent)
	res, err := s.caller.Execute(ctx, candidates, []models.ChatMessage{{Role: models.RoleUser, Content: prompt}}, stepSystemPrompt)
	if err != nil {
		return models.StepResult{Error: err.Error()}
	}
	return models.StepResult{Output: res.Output, Success: true, Capability: res.UsedCapability}
}

func (s *StepExecutor) stepPrompt(step models.PlanStep, task string, recent []models.StepResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TASK:\n%s\n", task)

	if len(recent) > s.window {
		recent = recent[len(recent)-s.window:]
	}
	if len(recent) > 0 {
		sb.WriteString("\nPREVIOUS RESULTS:\n")
		for _, r := range recent {
			if r.Success {
				fmt.Fprintf(&sb, "[step %d: %s]\n%s\n", r.Index, r.Action, truncate(r.Output, s.resultChars))
			} else {
				fmt.Fprintf(&sb, "[step %d: %s] FAILED: %s\n", r.Index, r.Action, truncate(r.Error, s.resultChars))
			}
		}
	}

	fmt.Fprintf(&sb, "\nCURRENT STEP %d:\n%s\n", step.Index, step.Action)
	if step.ExpectedOutput != "" {
		fmt.Fprintf(&sb, "\nEXPECTED OUTPUT:\n%s\n", step.ExpectedOutput)
	}
	return sb.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
