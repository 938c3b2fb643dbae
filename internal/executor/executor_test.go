package executor_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/agentoven/taskrouter/internal/executor"
	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted answers calls by kind, recognized from the system prompt.
type scripted struct {
	mu        sync.Mutex
	step      func(prompt string) (string, error)
	recover   func() (string, error)
	synth     func(prompt string) (string, error)
	stepCalls int
	recCalls  int
}

func (s *scripted) Execute(_ context.Context, candidates []string, msgs []models.ChatMessage, systemPrompt string) (fallback.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompt := msgs[len(msgs)-1].Content
	var (
		out string
		err error
	)
	switch {
	case strings.Contains(systemPrompt, "executing one step"):
		s.stepCalls++
		out, err = s.step(prompt)
	case strings.Contains(systemPrompt, "step of a multi-step plan failed"):
		s.recCalls++
		out, err = s.recover()
	case strings.Contains(systemPrompt, "combine the results"):
		out, err = s.synth(prompt)
	default:
		return fallback.Result{}, fmt.Errorf("unexpected call")
	}
	if err != nil {
		return fallback.Result{}, &fallback.AllFailedError{Attempted: candidates, LastError: err}
	}
	return fallback.Result{Output: out, UsedCapability: candidates[0]}, nil
}

type toolStub map[models.ToolID]models.ToolResult

func (t toolStub) Invoke(_ context.Context, id models.ToolID, _ map[string]any) models.ToolResult {
	if r, ok := t[id]; ok {
		return r
	}
	return models.ToolResult{Type: models.ToolResultText, Error: "no such tool"}
}

func newEngine(sc *scripted, tools executor.ToolInvoker, plan models.Plan) *executor.Engine {
	return executor.NewEngine(
		executor.PlanFunc(func(context.Context, string, []string) models.Plan { return plan }),
		executor.NewStepExecutor(sc, tools, 3, 2000),
		executor.NewSupervisor(sc, []string{"cheap"}),
		executor.NewSynthesizer(sc, 2000),
	)
}

func directPlan(n int) models.Plan {
	p := models.Plan{Complexity: models.PlanMedium}
	for i := 1; i <= n; i++ {
		p.Steps = append(p.Steps, models.PlanStep{Index: i, Action: fmt.Sprintf("do part %d", i), Call: models.DirectCall()})
	}
	return p
}

func okSynth(string) (string, error) { return "final answer", nil }

func TestRun_PlansBeforeExecuting(t *testing.T) {
	sc := &scripted{
		step:  func(string) (string, error) { return "ok", nil },
		synth: okSynth,
	}
	var gotTask string
	var gotCandidates []string
	planner := executor.PlanFunc(func(_ context.Context, task string, candidates []string) models.Plan {
		gotTask, gotCandidates = task, candidates
		require.Zero(t, sc.stepCalls, "planning happens before any step runs")
		return directPlan(2)
	})
	engine := executor.NewEngine(planner,
		executor.NewStepExecutor(sc, nil, 3, 2000),
		executor.NewSupervisor(sc, []string{"cheap"}),
		executor.NewSynthesizer(sc, 2000),
	)

	out := engine.Run(context.Background(), "task", []string{"deep", "cheap"})
	assert.Equal(t, "task", gotTask)
	assert.Equal(t, []string{"deep", "cheap"}, gotCandidates)
	assert.Len(t, out.Plan.Steps, 2)
	assert.Len(t, out.Trace.Results, 2)
}

func TestRun_EmptyPlanRunsTrivialPlan(t *testing.T) {
	sc := &scripted{
		step:  func(string) (string, error) { return "ok", nil },
		synth: okSynth,
	}
	for name, e := range map[string]*executor.Engine{
		"empty plan": newEngine(sc, nil, models.Plan{}),
		"no planner": executor.NewEngine(nil,
			executor.NewStepExecutor(sc, nil, 3, 2000),
			executor.NewSupervisor(sc, []string{"cheap"}),
			executor.NewSynthesizer(sc, 2000),
		),
	} {
		t.Run(name, func(t *testing.T) {
			out := e.Run(context.Background(), "task", []string{"deep"})
			require.Len(t, out.Plan.Steps, 1)
			assert.Equal(t, models.TrivialPlan("task").Steps, out.Plan.Steps)
			assert.Len(t, out.Trace.Results, 1)
			assert.Equal(t, executor.StateCompleted, out.State)
		})
	}
}

func TestRun_AllStepsSucceed(t *testing.T) {
	for _, n := range []int{1, 3, 8} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			sc := &scripted{
				step:  func(string) (string, error) { return "ok", nil },
				synth: okSynth,
			}
			out := newEngine(sc, nil, directPlan(n)).Run(context.Background(), "task", []string{"deep"})

			assert.Len(t, out.Trace.Results, n)
			assert.Equal(t, executor.StateCompleted, out.State)
			assert.False(t, out.Aborted)
			assert.Equal(t, "final answer", out.Response)
			assert.Equal(t, "deep", out.UsedCapability)
			assert.NotEmpty(t, out.Trace.ID)
			for i, r := range out.Trace.Results {
				assert.Equal(t, i+1, r.Index)
				assert.True(t, r.Success)
			}
		})
	}
}

func TestRun_SlidingWindow(t *testing.T) {
	var prompts []string
	sc := &scripted{
		step: func(p string) (string, error) {
			prompts = append(prompts, p)
			return fmt.Sprintf("result-%d", len(prompts)), nil
		},
		synth: okSynth,
	}
	newEngine(sc, nil, directPlan(5)).Run(context.Background(), "task", []string{"deep"})

	require.Len(t, prompts, 5)
	assert.NotContains(t, prompts[0], "PREVIOUS RESULTS")
	last := prompts[4]
	assert.NotContains(t, last, "result-1")
	for _, want := range []string{"result-2", "result-3", "result-4"} {
		assert.Contains(t, last, want)
	}
}

func TestRun_ToolStep(t *testing.T) {
	sc := &scripted{
		step:  func(string) (string, error) { return "summary", nil },
		synth: okSynth,
	}
	tools := toolStub{models.ToolWebSearch: {Type: models.ToolResultText, Payload: "three links"}}
	plan := models.Plan{Steps: []models.PlanStep{
		{Index: 1, Action: "search", Call: models.ToolCall(models.ToolWebSearch, map[string]any{"query": "x"})},
		{Index: 2, Action: "summarize", Call: models.DirectCall()},
	}}

	out := newEngine(sc, tools, plan).Run(context.Background(), "task", []string{"deep"})
	require.Len(t, out.Trace.Results, 2)
	assert.Equal(t, "three links", out.Trace.Results[0].Output)
	require.NotNil(t, out.Trace.Results[0].Tool)
	assert.Equal(t, 1, sc.stepCalls)
}

func TestRun_RecoveryContinue(t *testing.T) {
	sc := &scripted{
		step: func(p string) (string, error) {
			if strings.Contains(p, "CURRENT STEP 2") {
				return "", errors.New("provider down")
			}
			return "ok", nil
		},
		recover: func() (string, error) { return `{"action":"continue","note":"skip it"}`, nil },
		synth:   okSynth,
	}
	out := newEngine(sc, nil, directPlan(3)).Run(context.Background(), "task", []string{"deep"})

	assert.Equal(t, executor.StateCompleted, out.State)
	require.Len(t, out.Trace.Results, 4)
	failed := out.Trace.Results[1]
	assert.False(t, failed.Success)
	assert.NotEmpty(t, failed.Error)
	rec := out.Trace.Results[2]
	assert.True(t, rec.Recovery)
	assert.Equal(t, "skip it", rec.Note)
	assert.Equal(t, 3, out.Trace.Results[3].Index)
	assert.Equal(t, 1, sc.recCalls)
}

func TestRun_RecoveryAbort(t *testing.T) {
	sc := &scripted{
		step: func(p string) (string, error) {
			if strings.Contains(p, "CURRENT STEP 1") {
				return "", errors.New("provider down")
			}
			return "ok", nil
		},
		recover: func() (string, error) { return "ABORT: nothing left to do", nil },
		synth:   okSynth,
	}
	out := newEngine(sc, nil, directPlan(3)).Run(context.Background(), "task", []string{"deep"})

	assert.Equal(t, executor.StateError, out.State)
	assert.True(t, out.Aborted)
	assert.Len(t, out.Trace.Results, 2)
	assert.Equal(t, 1, sc.stepCalls)
	assert.Equal(t, "final answer", out.Response)
}

func TestRun_DoubleFailureReachesSynthesis(t *testing.T) {
	var synthPrompt string
	sc := &scripted{
		step: func(p string) (string, error) {
			if strings.Contains(p, "CURRENT STEP 2") {
				return "", errors.New("step failed")
			}
			return "partial", nil
		},
		recover: func() (string, error) { return "", errors.New("recovery failed too") },
		synth: func(p string) (string, error) {
			synthPrompt = p
			return "best effort", nil
		},
	}

	out := newEngine(sc, nil, directPlan(4)).Run(context.Background(), "task", []string{"deep"})

	assert.Equal(t, executor.StateError, out.State)
	assert.True(t, out.Aborted)
	assert.Equal(t, "best effort", out.Response)
	require.Len(t, out.Trace.Results, 3)
	rec := out.Trace.Results[2]
	assert.True(t, rec.Recovery)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "recovery failed too")
	assert.Contains(t, synthPrompt, "FAILED")
	assert.Equal(t, 2, sc.stepCalls)
}

func TestRun_SynthesisFailureApologizes(t *testing.T) {
	sc := &scripted{
		step:  func(string) (string, error) { return "ok", nil },
		synth: func(string) (string, error) { return "", errors.New("all down") },
	}
	out := newEngine(sc, nil, directPlan(2)).Run(context.Background(), "task", []string{"deep"})

	assert.Equal(t, executor.StateCompleted, out.State)
	assert.Contains(t, out.Response, "Sorry")
	assert.Contains(t, out.Response, "do part 1")
	assert.Empty(t, out.UsedCapability)
}

func TestParseRecovery(t *testing.T) {
	tests := []struct {
		reply    string
		cont     bool
		noteLike string
	}{
		{`{"action":"continue","note":"fine"}`, true, "fine"},
		{"Sure.\n```json\n{\"action\": \"ABORT\", \"note\": \"hopeless\"}\n```", false, "hopeless"},
		{"CONTINUE the rest is independent", true, "independent"},
		{"abort - the remaining steps need this output", false, "remaining"},
		{"I am not sure", true, "unrecognized"},
	}
	for _, tt := range tests {
		d := executor.ParseRecovery(tt.reply)
		assert.Equal(t, tt.cont, d.Continue, tt.reply)
		assert.Contains(t, d.Note, tt.noteLike, tt.reply)
	}
}
