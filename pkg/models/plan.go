package models

import (
	"encoding/json"
	"fmt"
)

// ── Plans ───────────────────────────────────────────────────

type PlanComplexity string

const (
	PlanSimple  PlanComplexity = "simple"
	PlanMedium  PlanComplexity = "medium"
	PlanComplex PlanComplexity = "complex"
)

// ToolID names one of the closed set of dispatchable tools.
type ToolID string

const (
	ToolImageGenerate  ToolID = "image_generate"
	ToolWebSearch      ToolID = "web_search"
	ToolCodeSynthesize ToolID = "code_synthesize"
)

// KnownTools is the closed, versioned tool set.
var KnownTools = []ToolID{ToolImageGenerate, ToolWebSearch, ToolCodeSynthesize}

// Plan is a task decomposition. Steps are 1-indexed and run strictly in order.
type Plan struct {
	TaskAnalysis     string         `json:"taskAnalysis"`
	Complexity       PlanComplexity `json:"complexity"`
	Steps            []PlanStep     `json:"steps"`
	FinalDeliverable string         `json:"finalDeliverable"`

	// Degraded is set when the planner substituted the trivial plan.
	Degraded bool `json:"degraded,omitempty"`
}

// TrivialPlan is the single direct-response plan used whenever planning fails.
func TrivialPlan(task string) Plan {
	return Plan{
		TaskAnalysis: task,
		Complexity:   PlanSimple,
		Steps: []PlanStep{{
			Index:  1,
			Action: "respond directly",
			Call:   DirectCall(),
		}},
		FinalDeliverable: "a direct answer",
		Degraded:         true,
	}
}

// CallKind discriminates StepCall.
type CallKind int

const (
	CallDirect CallKind = iota
	CallTool
)

// StepCall is a closed tagged union: either reason directly with a
// capability, or dispatch to a named tool with arguments.
type StepCall struct {
	Kind CallKind
	Tool ToolID
	Args map[string]any
}

func DirectCall() StepCall { return StepCall{Kind: CallDirect} }

func ToolCall(id ToolID, args map[string]any) StepCall {
	return StepCall{Kind: CallTool, Tool: id, Args: args}
}

type PlanStep struct {
	Index          int
	Action         string
	Call           StepCall
	ExpectedOutput string
}

// planStepJSON is the wire form. A null or missing tool means a direct step.
type planStepJSON struct {
	Index          int            `json:"index"`
	Action         string         `json:"action"`
	Tool           *string        `json:"tool"`
	Args           map[string]any `json:"args,omitempty"`
	ExpectedOutput string         `json:"expectedOutput,omitempty"`
}

func (s PlanStep) MarshalJSON() ([]byte, error) {
	w := planStepJSON{
		Index:          s.Index,
		Action:         s.Action,
		ExpectedOutput: s.ExpectedOutput,
	}
	if s.Call.Kind == CallTool {
		id := string(s.Call.Tool)
		w.Tool = &id
		w.Args = s.Call.Args
	}
	return json.Marshal(w)
}

func (s *PlanStep) UnmarshalJSON(data []byte) error {
	var w planStepJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Index = w.Index
	s.Action = w.Action
	s.ExpectedOutput = w.ExpectedOutput
	if w.Tool == nil || *w.Tool == "" || *w.Tool == "null" {
		s.Call = DirectCall()
		return nil
	}
	s.Call = ToolCall(ToolID(*w.Tool), w.Args)
	return nil
}

// ── Execution ───────────────────────────────────────────────

type ToolResultType string

const (
	ToolResultText       ToolResultType = "text"
	ToolResultImage      ToolResultType = "image"
	ToolResultStructured ToolResultType = "structured"
)

// ToolResult is what a tool handler returns. Error is set on failure.
type ToolResult struct {
	Type    ToolResultType `json:"type"`
	Payload any            `json:"payload"`
	Error   string         `json:"error,omitempty"`
}

// Text renders the payload for inclusion in prompts.
func (r ToolResult) Text() string {
	switch p := r.Payload.(type) {
	case nil:
		return ""
	case string:
		return p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprint(p)
		}
		return string(b)
	}
}

// StepResult is one entry of the execution trace. It is never mutated after
// being appended. A failed result always carries a non-empty Error.
type StepResult struct {
	Index      int         `json:"index"`
	Action     string      `json:"action,omitempty"`
	Output     string      `json:"output"`
	Tool       *ToolResult `json:"toolResult,omitempty"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Recovery   bool        `json:"recovery,omitempty"`
	Note       string      `json:"note,omitempty"`
	Capability string      `json:"capability,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

// ExecutionTrace is the append-only ledger of one plan run. It holds at most
// one result per step plus one recovery entry per failed step.
type ExecutionTrace struct {
	ID      string       `json:"id"`
	Results []StepResult `json:"results"`
}

// Append adds r to the ledger.
func (t *ExecutionTrace) Append(r StepResult) {
	t.Results = append(t.Results, r)
}

// Recent returns up to n of the most recent non-recovery results.
func (t *ExecutionTrace) Recent(n int) []StepResult {
	var out []StepResult
	for i := len(t.Results) - 1; i >= 0 && len(out) < n; i-- {
		if t.Results[i].Recovery {
			continue
		}
		out = append(out, t.Results[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
