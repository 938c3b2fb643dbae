// Package orchestrator runs the end-to-end request pipeline:
//
//	guardrails → classify + score → route → cache
//	  → direct answer through the fallback executor, or
//	  → plan → execute steps → recover → synthesize
//	→ cache populated
//
// Every failure leaves the package as a *RequestError.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/taskrouter/internal/cache"
	"github.com/agentoven/taskrouter/internal/capability"
	"github.com/agentoven/taskrouter/internal/classify"
	"github.com/agentoven/taskrouter/internal/executor"
	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/internal/guardrails"
	"github.com/agentoven/taskrouter/internal/metrics"
	"github.com/agentoven/taskrouter/internal/router"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("taskrouter/orchestrator")

// DefaultPlanThreshold is the complex score at which a CONVERSATION request
// takes the plan path.
const DefaultPlanThreshold = 3

// Deps are the components a Service drives. Registry may be nil, in which
// case every request is answered with 503.
type Deps struct {
	Registry      *capability.Registry
	Router        *router.Router
	Scorer        *classify.Scorer
	Fallback      fallback.Caller
	Engine        *executor.Engine
	Cache         cache.Cache
	Guardrails    *guardrails.Service
	Personas      Personas
	PlanThreshold int
}

// Service is safe for concurrent use; all per-request state lives on the
// stack of Handle.
type Service struct {
	d Deps
}

func New(d Deps) *Service {
	if d.Scorer == nil {
		d.Scorer = classify.NewScorer(classify.DefaultThresholds())
	}
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Guardrails == nil {
		d.Guardrails = guardrails.New(nil)
	}
	if d.Personas.prompts == nil {
		d.Personas = NewPersonas(nil)
	}
	if d.PlanThreshold <= 0 {
		d.PlanThreshold = DefaultPlanThreshold
	}
	return &Service{d: d}
}

// ── Dry run ─────────────────────────────────────────────────

// Route classifies text and returns the routing decision without calling any
// capability.
func (s *Service) Route(text, forced string) (models.RouteInfo, error) {
	if s.d.Registry == nil || s.d.Router == nil {
		return models.RouteInfo{}, noCapabilities()
	}
	intent := classify.Intent(text)
	complexity := s.d.Scorer.Score(text)
	decision, err := s.d.Router.Route(intent, complexity, forced)
	if err != nil {
		return models.RouteInfo{}, s.routeError(forced, err)
	}
	return models.RouteInfo{
		Intent:     intent,
		Complexity: complexity,
		Decision:   decision,
		UsesPlan:   s.usesPlan(intent, complexity, decision),
	}, nil
}

// usesPlan decides between the direct path and the plan path.
func (s *Service) usesPlan(intent models.Intent, c models.Complexity, d models.RoutingDecision) bool {
	switch intent.Type {
	case models.IntentCodeExecution, models.IntentAutomation:
		return true
	case models.IntentResearch:
		return d.Tier == models.TierDeep
	default:
		return d.Tier == models.TierDeep || c.ComplexScore >= s.d.PlanThreshold
	}
}

// ── Handle ──────────────────────────────────────────────────

// Handle answers one chat request. The returned error is always a
// *RequestError.
func (s *Service) Handle(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.handle")
	defer span.End()

	start := time.Now()
	requestID := uuid.New().String()
	span.SetAttributes(attribute.String("taskrouter.request_id", requestID))

	resp, err := s.handle(ctx, req, requestID)
	if err != nil {
		var re *RequestError
		if !errors.As(err, &re) {
			re = &RequestError{Status: 500, Message: "internal error", Err: err}
		}
		span.RecordError(re)
		span.SetStatus(codes.Error, re.Message)
		log.Warn().
			Str("request_id", requestID).
			Int("status", re.Status).
			Strs("attempted", re.Attempted).
			Err(re.Err).
			Msg(re.Message)
		return models.ChatResponse{}, re
	}

	resp.RequestID = requestID
	resp.LatencyMs = time.Since(start).Milliseconds()
	log.Info().
		Str("request_id", requestID).
		Str("capability", resp.UsedCapability).
		Str("tier", string(resp.Tier)).
		Bool("cached", resp.Cached).
		Int("steps", len(resp.Trace)).
		Int64("latency_ms", resp.LatencyMs).
		Msg("Request completed")
	return resp, nil
}

func (s *Service) handle(ctx context.Context, req models.ChatRequest, requestID string) (models.ChatResponse, error) {
	if err := s.d.Guardrails.Check(req.Messages); err != nil {
		var v *guardrails.Violation
		hint := ""
		if errors.As(err, &v) && v.Kind == guardrails.KindStructure {
			hint = `send {"messages":[{"role":"user","content":"..."}]} with the user turn last`
		}
		return models.ChatResponse{}, badRequest(err.Error(), hint, err)
	}
	if s.d.Registry == nil || s.d.Router == nil || s.d.Fallback == nil {
		return models.ChatResponse{}, noCapabilities()
	}

	text := models.LastUserMessage(req.Messages)
	intent := classify.Intent(text)
	complexity := s.d.Scorer.Score(text)
	decision, err := s.d.Router.Route(intent, complexity, req.ForceCapability)
	if err != nil {
		return models.ChatResponse{}, s.routeError(req.ForceCapability, err)
	}
	metrics.RoutingDecisions.WithLabelValues(string(intent.Type), string(decision.Tier), decision.Rule).Inc()
	log.Debug().
		Str("request_id", requestID).
		Str("intent", string(intent.Type)).
		Int("complex", complexity.ComplexScore).
		Int("simple", complexity.SimpleScore).
		Str("primary", decision.Primary).
		Str("rule", decision.Rule).
		Msg("Routed")

	// A forced capability bypasses the cache in both directions.
	var key string
	if req.ForceCapability == "" {
		key = cache.Fingerprint(req.AgentType, req.Messages)
		if hit, ok := s.d.Cache.Get(ctx, key); ok {
			hit.Cached = true
			hit.Intent = &intent
			hit.Decision = &decision
			return hit, nil
		}
	}

	var resp models.ChatResponse
	if s.usesPlan(intent, complexity, decision) && s.d.Engine != nil {
		resp, err = s.runPlan(ctx, text, decision)
	} else {
		resp, err = s.runDirect(ctx, req, decision)
	}
	if err != nil {
		return models.ChatResponse{}, err
	}
	resp.Intent = &intent
	resp.Decision = &decision

	if key != "" && shouldCache(resp) {
		s.d.Cache.Set(ctx, key, cacheable(resp))
	}
	return resp, nil
}

func (s *Service) runDirect(ctx context.Context, req models.ChatRequest, decision models.RoutingDecision) (models.ChatResponse, error) {
	systemPrompt, _ := s.d.Personas.Prompt(req.AgentType)
	res, err := s.d.Fallback.Execute(ctx, decision.Candidates(), req.Messages, systemPrompt)
	if err != nil {
		var af *fallback.AllFailedError
		if errors.As(err, &af) {
			return models.ChatResponse{}, allFailed(af.Attempted, af.LastError)
		}
		return models.ChatResponse{}, allFailed(decision.Candidates(), err)
	}
	return models.ChatResponse{
		Response:       res.Output,
		UsedCapability: res.UsedCapability,
		Tier:           res.Tier,
	}, nil
}

func (s *Service) runPlan(ctx context.Context, text string, decision models.RoutingDecision) (models.ChatResponse, error) {
	candidates := decision.Candidates()
	out := s.d.Engine.Run(ctx, text, candidates)

	// Nothing succeeded and synthesis fell back to the apology: every
	// capability is down, which the client should see as a 502.
	if out.UsedCapability == "" && !anySucceeded(out.Trace.Results) {
		return models.ChatResponse{}, allFailed(candidates, fmt.Errorf("plan run ended in %s with no successful step", out.State))
	}

	tier := decision.Tier
	if c, ok := s.d.Registry.Get(out.UsedCapability); ok {
		tier = c.Tier()
	}
	return models.ChatResponse{
		Response:       out.Response,
		UsedCapability: out.UsedCapability,
		Tier:           tier,
		Trace:          out.Trace.Results,
		Plan:           &out.Plan,
	}, nil
}

func (s *Service) routeError(forced string, err error) error {
	if errors.Is(err, router.ErrUnknownCapability) {
		return badRequest(
			fmt.Sprintf("unknown capability %q", forced),
			"registered capabilities: "+strings.Join(s.d.Registry.IDs(), ", "),
			err,
		)
	}
	if errors.Is(err, capability.ErrNoCapabilities) {
		return noCapabilities()
	}
	return &RequestError{Status: 500, Message: "routing failed", Err: err}
}

func anySucceeded(results []models.StepResult) bool {
	for _, r := range results {
		if r.Success && !r.Recovery {
			return true
		}
	}
	return false
}

// shouldCache rejects partial answers so a transient failure is not replayed.
func shouldCache(r models.ChatResponse) bool {
	if r.UsedCapability == "" {
		return false
	}
	for _, step := range r.Trace {
		if !step.Success {
			return false
		}
	}
	return true
}

// cacheable strips request-scoped fields before a response is stored.
func cacheable(r models.ChatResponse) models.ChatResponse {
	r.Cached = false
	r.RequestID = ""
	r.LatencyMs = 0
	r.Intent = nil
	r.Decision = nil
	return r
}
