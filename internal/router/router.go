// Package router implements the taskrouter provider router.
//
// The router maps an intent and a complexity score onto a capability tier via
// an ordered rule table, picks the first registered capability of that tier as
// primary, and lists every other capability as an ordered fallback chain.
// The router never calls a provider; the fallback executor does.
package router

import (
	"errors"
	"fmt"

	"github.com/agentoven/taskrouter/internal/capability"
	"github.com/agentoven/taskrouter/pkg/models"
)

// ErrUnknownCapability is returned when a forced capability is not registered.
var ErrUnknownCapability = errors.New("unknown capability")

// Thresholds are the numeric cut-offs of the rule table.
type Thresholds struct {
	// ComplexThreshold escalates to deep when ComplexScore reaches it.
	ComplexThreshold int
	// LongThreshold escalates long messages when ComplexScore exceeds it.
	LongThreshold int
}

func DefaultThresholds() Thresholds {
	return Thresholds{ComplexThreshold: 3, LongThreshold: 1}
}

// input is what each rule sees.
type input struct {
	intent     models.Intent
	complexity models.Complexity
	t          Thresholds
}

type rule struct {
	Name       string
	Tier       models.Tier
	Confidence float64
	Reason     string
	Match      func(in input) bool
}

// rules is evaluated top to bottom; the first match wins. The last rule
// always matches.
var rules = []rule{
	{
		Name: "code-intent", Tier: models.TierDeep, Confidence: 0.95,
		Reason: "code execution requests always use the deep tier",
		Match:  func(in input) bool { return in.intent.Type == models.IntentCodeExecution },
	},
	{
		Name: "has-code", Tier: models.TierDeep, Confidence: 0.95,
		Reason: "message contains code",
		Match:  func(in input) bool { return in.complexity.HasCode },
	},
	{
		Name: "complex", Tier: models.TierDeep, Confidence: 0.85,
		Reason: "high complexity score",
		Match:  func(in input) bool { return in.complexity.ComplexScore >= in.t.ComplexThreshold },
	},
	{
		Name: "long-complex", Tier: models.TierDeep, Confidence: 0.8,
		Reason: "long message with complexity signals",
		Match: func(in input) bool {
			return in.complexity.IsLong && in.complexity.ComplexScore > in.t.LongThreshold
		},
	},
	{
		Name: "very-short", Tier: models.TierCheap, Confidence: 0.8,
		Reason: "very short message",
		Match:  func(in input) bool { return in.complexity.IsVeryShort },
	},
	{
		Name: "default", Tier: models.TierStandard, Confidence: 0.7,
		Reason: "default tier",
		Match:  func(input) bool { return true },
	},
}

// Router selects capabilities. It is immutable and safe for concurrent use.
type Router struct {
	registry *capability.Registry
	t        Thresholds
}

// New creates a router over reg. Zero thresholds fall back to the defaults.
func New(reg *capability.Registry, t Thresholds) *Router {
	d := DefaultThresholds()
	if t.ComplexThreshold <= 0 {
		t.ComplexThreshold = d.ComplexThreshold
	}
	if t.LongThreshold <= 0 {
		t.LongThreshold = d.LongThreshold
	}
	return &Router{registry: reg, t: t}
}

// Route produces the routing decision for one request. forced, when set, must
// name a registered capability; it bypasses the rule table.
func (r *Router) Route(intent models.Intent, complexity models.Complexity, forced string) (models.RoutingDecision, error) {
	if forced != "" {
		c, ok := r.registry.Get(forced)
		if !ok {
			return models.RoutingDecision{}, fmt.Errorf("%w: %q", ErrUnknownCapability, forced)
		}
		return models.RoutingDecision{
			Primary:    forced,
			Fallbacks:  r.fallbacks(forced),
			Tier:       c.Tier(),
			Reason:     "capability forced by request",
			Confidence: 1.0,
			Rule:       "forced",
		}, nil
	}

	in := input{intent: intent, complexity: complexity, t: r.t}
	var matched rule
	for _, ru := range rules {
		if ru.Match(in) {
			matched = ru
			break
		}
	}

	primary, tier := r.primaryFor(matched.Tier)
	return models.RoutingDecision{
		Primary:    primary,
		Fallbacks:  r.fallbacks(primary),
		Tier:       tier,
		Reason:     matched.Reason,
		Confidence: matched.Confidence,
		Rule:       matched.Name,
	}, nil
}

// primaryFor returns the first capability of the wanted tier. An empty tier
// yields to the next tier in fixed order, wrapping around so that a cheap
// request can still reach a deep-only registry.
func (r *Router) primaryFor(want models.Tier) (string, models.Tier) {
	start := 0
	for i, t := range models.TierOrder {
		if t == want {
			start = i
			break
		}
	}
	n := len(models.TierOrder)
	for i := 0; i < n; i++ {
		t := models.TierOrder[(start+i)%n]
		if ids := r.registry.ByTier(t); len(ids) > 0 {
			return ids[0], t
		}
	}
	return "", want
}

// fallbacks lists every other capability grouped by tier order, registration
// order within a tier, without the primary and without duplicates.
func (r *Router) fallbacks(primary string) []string {
	seen := map[string]bool{primary: true}
	out := make([]string, 0, r.registry.Len())
	for _, t := range models.TierOrder {
		for _, id := range r.registry.ByTier(t) {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
