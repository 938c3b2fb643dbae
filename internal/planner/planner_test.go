package planner_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/internal/planner"
	"github.com/agentoven/taskrouter/internal/tools"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCaller struct {
	out    string
	err    error
	prompt string
}

func (s *stubCaller) Execute(_ context.Context, candidates []string, _ []models.ChatMessage, systemPrompt string) (fallback.Result, error) {
	s.prompt = systemPrompt
	if s.err != nil {
		return fallback.Result{}, s.err
	}
	return fallback.Result{Output: s.out, UsedCapability: "stub"}, nil
}

const goodPlan = `{
  "taskAnalysis": "refactor a function",
  "complexity": "medium",
  "steps": [
    {"index": 4, "action": "read the code", "tool": null},
    {"index": 9, "action": "write the new version", "tool": "code_synthesize", "args": {"requirement": "cleaner loop"}}
  ],
  "finalDeliverable": "refactored code"
}`

func TestPlan_Valid(t *testing.T) {
	sc := &stubCaller{out: goodPlan}
	p := planner.New(sc, []tools.Spec{tools.CodeSynthesizeSpec}, 8)

	plan := p.Plan(context.Background(), "refactor this", []string{"a"})
	assert.False(t, plan.Degraded)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, 1, plan.Steps[0].Index)
	assert.Equal(t, 2, plan.Steps[1].Index)
	assert.Equal(t, models.CallDirect, plan.Steps[0].Call.Kind)
	assert.Equal(t, models.CallTool, plan.Steps[1].Call.Kind)
	assert.Equal(t, models.ToolCodeSynthesize, plan.Steps[1].Call.Tool)
	assert.Equal(t, "cleaner loop", plan.Steps[1].Call.Args["requirement"])
	assert.Equal(t, models.PlanMedium, plan.Complexity)

	assert.Contains(t, sc.prompt, "code_synthesize")
	assert.NotContains(t, sc.prompt, "web_search")
}

func TestPlan_Fenced(t *testing.T) {
	sc := &stubCaller{out: "Here is the plan:\n```json\n" + goodPlan + "\n```\nGood luck {not json}"}
	plan := planner.New(sc, nil, 8).Plan(context.Background(), "x", []string{"a"})
	assert.False(t, plan.Degraded)
	assert.Len(t, plan.Steps, 2)
}

func TestPlan_BracesInStrings(t *testing.T) {
	raw := `Sure! {"steps":[{"action":"print \"}\" and {x}","tool":null}]}`
	plan, err := planner.Parse(raw, 8)
	require.NoError(t, err)
	assert.Equal(t, `print "}" and {x}`, plan.Steps[0].Action)
	assert.Equal(t, models.PlanSimple, plan.Complexity)
}

func TestPlan_NeverFails(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
	}{
		{"not json", "I cannot plan this, sorry.", nil},
		{"empty", "", nil},
		{"empty steps", `{"steps": []}`, nil},
		{"unknown tool", `{"steps":[{"action":"run it","tool":"shell"}]}`, nil},
		{"empty action", `{"steps":[{"action":"  ","tool":null}]}`, nil},
		{"too many steps", `{"steps":[` + strings.TrimSuffix(strings.Repeat(`{"action":"a","tool":null},`, 9), ",") + `]}`, nil},
		{"truncated", `{"steps":[{"action":"a"`, nil},
		{"caller failed", "", &fallback.AllFailedError{Attempted: []string{"a"}, LastError: errors.New("down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &stubCaller{out: tt.out, err: tt.err}
			plan := planner.New(sc, nil, 8).Plan(context.Background(), "the task", []string{"a"})
			assert.True(t, plan.Degraded)
			require.Len(t, plan.Steps, 1)
			assert.Equal(t, 1, plan.Steps[0].Index)
			assert.Equal(t, "respond directly", plan.Steps[0].Action)
			assert.Equal(t, models.CallDirect, plan.Steps[0].Call.Kind)
			assert.Equal(t, "the task", plan.TaskAnalysis)
		})
	}
}

func TestValidate_MaxSteps(t *testing.T) {
	plan := models.Plan{Steps: []models.PlanStep{
		{Action: "a"}, {Action: "b"}, {Action: "c"},
	}}
	assert.Error(t, planner.Validate(&plan, 2))
	require.NoError(t, planner.Validate(&plan, 3))
	assert.Equal(t, models.PlanMedium, plan.Complexity)
	assert.Equal(t, 3, plan.Steps[2].Index)
}
