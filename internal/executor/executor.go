// Package executor runs a plan to completion.
//
// A run is an explicit state machine (see Transition):
//
//	IDLE → PLANNING → EXECUTING(1) → … → EXECUTING(n) → SYNTHESIZING → COMPLETED
//
// PLANNING asks the Planner for the step list; a nil Planner or an empty
// plan falls back to the trivial one-step plan. A failed step moves to RECOVERING, where the supervisor decides whether to
// continue with the next step or abort. An aborted run still synthesizes an
// answer from the partial results and ends in ERROR. Steps run strictly in
// order, one at a time.
package executor

import (
	"context"
	"time"

	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("taskrouter/executor")

// Planner produces the step list for a task. *planner.Planner implements it.
type Planner interface {
	Plan(ctx context.Context, task string, candidates []string) models.Plan
}

// PlanFunc adapts a function to the Planner interface.
type PlanFunc func(ctx context.Context, task string, candidates []string) models.Plan

func (f PlanFunc) Plan(ctx context.Context, task string, candidates []string) models.Plan {
	return f(ctx, task, candidates)
}

// Outcome is the result of a plan run.
type Outcome struct {
	Plan           models.Plan
	Response       string
	UsedCapability string
	Trace          models.ExecutionTrace
	State          State
	Aborted        bool
	TotalMs        int64
}

// Engine drives the state machine.
type Engine struct {
	planner    Planner
	steps      *StepExecutor
	supervisor *Supervisor
	synth      *Synthesizer
}

func NewEngine(planner Planner, steps *StepExecutor, supervisor *Supervisor, synth *Synthesizer) *Engine {
	return &Engine{planner: planner, steps: steps, supervisor: supervisor, synth: synth}
}

// Run plans and executes task. Capability calls use candidates in order.
// Run does not return an error: failures end up in the trace and the
// synthesized response.
func (e *Engine) Run(ctx context.Context, task string, candidates []string) Outcome {
	ctx, span := tracer.Start(ctx, "executor.run")
	defer span.End()

	start := time.Now()
	trace := models.ExecutionTrace{ID: uuid.New().String()}

	var (
		plan     models.Plan
		m        Machine
		eff      Effect
		err      error
		response string
		usedCap  string
	)
	fire := func(ev Event) {
		m, eff, err = Transition(m, ev)
		if err != nil {
			log.Error().Err(err).Str("trace_id", trace.ID).Msg("Plan state machine rejected event")
		}
	}

	fire(Event{Kind: EvStart})

	for !m.Terminal() && err == nil {
		switch eff.Kind {
		case EffPlan:
			if e.planner != nil {
				plan = e.planner.Plan(ctx, task, candidates)
			}
			if len(plan.Steps) == 0 {
				plan = models.TrivialPlan(task)
			}
			fire(Event{Kind: EvPlanReady, Steps: len(plan.Steps)})

		case EffExecuteStep:
			step := plan.Steps[eff.Step-1]
			res := e.steps.ExecuteStep(ctx, step, task, trace.Recent(e.steps.Window()), candidates)
			trace.Append(res)
			if res.Success {
				fire(Event{Kind: EvStepSucceeded})
			} else {
				log.Warn().Str("trace_id", trace.ID).Int("step", step.Index).Str("error", res.Error).Msg("Step failed")
				fire(Event{Kind: EvStepFailed})
			}

		case EffRecover:
			step := plan.Steps[eff.Step-1]
			cause := trace.Results[len(trace.Results)-1].Error
			d, rerr := e.supervisor.Recover(ctx, task, step, m.Total-m.Step, cause)
			pseudo := models.StepResult{
				Index:    step.Index,
				Action:   "recovery",
				Recovery: true,
				Note:     d.Note,
				Success:  rerr == nil,
			}
			if rerr != nil {
				pseudo.Error = rerr.Error()
			}
			trace.Append(pseudo)
			if d.Continue {
				fire(Event{Kind: EvRecoverContinue})
			} else {
				fire(Event{Kind: EvRecoverAbort})
			}

		case EffSynthesize:
			response, usedCap = e.synth.Synthesize(ctx, task, trace.Results, candidates)
			fire(Event{Kind: EvSynthesized})

		default:
			// EffNone is only produced on entering ERROR.
			fire(Event{Kind: EvSynthesize})
		}
	}

	if response == "" {
		response = Apology(trace.Results)
	}

	out := Outcome{
		Plan:           plan,
		Response:       response,
		UsedCapability: usedCap,
		Trace:          trace,
		State:          m.State,
		Aborted:        m.Aborted,
		TotalMs:        time.Since(start).Milliseconds(),
	}
	span.SetAttributes(
		attribute.String("taskrouter.trace_id", trace.ID),
		attribute.String("taskrouter.state", m.State.String()),
		attribute.Int("taskrouter.trace.len", len(trace.Results)),
	)
	log.Info().
		Str("trace_id", trace.ID).
		Int("steps", len(plan.Steps)).
		Int("results", len(trace.Results)).
		Str("state", m.State.String()).
		Int64("total_ms", out.TotalMs).
		Msg("Plan run complete")
	return out
}
