// Package models holds the request-scoped value types shared by the
// classifier, router, planner and executor, plus the inbound and outbound
// API shapes.
package models

import (
	"time"
)

// ── Messages ────────────────────────────────────────────────

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LastUserMessage returns the content of the most recent user message.
func LastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// ── Tiers ───────────────────────────────────────────────────

// Tier is a coarse quality/cost bucket used to rank capabilities.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierStandard Tier = "standard"
	TierDeep     Tier = "deep"
)

// TierOrder is the fixed order in which tiers populate fallback chains.
var TierOrder = []Tier{TierDeep, TierStandard, TierCheap}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierCheap, TierStandard, TierDeep:
		return true
	}
	return false
}

// ── Classification ──────────────────────────────────────────

type IntentType string

const (
	IntentConversation  IntentType = "CONVERSATION"
	IntentResearch      IntentType = "RESEARCH"
	IntentCodeExecution IntentType = "CODE_EXECUTION"
	IntentAutomation    IntentType = "AUTOMATION"
)

type Intent struct {
	Type       IntentType `json:"type"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
}

// Complexity carries the raw point totals produced by the complexity scorer.
// The scores are not normalized.
type Complexity struct {
	ComplexScore int  `json:"complex_score"`
	SimpleScore  int  `json:"simple_score"`
	WordCount    int  `json:"word_count"`
	HasCode      bool `json:"has_code"`
	IsVeryShort  bool `json:"is_very_short"`
	IsLong       bool `json:"is_long"`
}

// ── Routing ─────────────────────────────────────────────────

// RoutingDecision is produced once per request and never mutated.
type RoutingDecision struct {
	Primary    string   `json:"primary"`
	Fallbacks  []string `json:"fallbacks"`
	Tier       Tier     `json:"tier"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
	Rule       string   `json:"rule"`
}

// Candidates returns primary followed by the fallbacks.
func (d RoutingDecision) Candidates() []string {
	out := make([]string, 0, 1+len(d.Fallbacks))
	if d.Primary != "" {
		out = append(out, d.Primary)
	}
	return append(out, d.Fallbacks...)
}

// ── Recovery ────────────────────────────────────────────────

type RecoveryDecision struct {
	Continue bool   `json:"continue"`
	Note     string `json:"note"`
}

// ── API ─────────────────────────────────────────────────────

// ChatRequest is the inbound request shape.
type ChatRequest struct {
	Messages        []ChatMessage `json:"messages"`
	AgentType       string        `json:"agentType,omitempty"`
	ForceCapability string        `json:"forceCapability,omitempty"`
}

// ChatResponse is the outbound success shape. It is also the value stored in
// the response cache.
type ChatResponse struct {
	Response       string           `json:"response"`
	UsedCapability string           `json:"usedCapability"`
	Tier           Tier             `json:"tier"`
	Cached         bool             `json:"cached"`
	Trace          []StepResult     `json:"trace,omitempty"`
	Intent         *Intent          `json:"intent,omitempty"`
	Decision       *RoutingDecision `json:"decision,omitempty"`
	Plan           *Plan            `json:"plan,omitempty"`
	RequestID      string           `json:"requestId,omitempty"`
	LatencyMs      int64            `json:"latencyMs"`
}

// ErrorResponse is the outbound failure shape.
type ErrorResponse struct {
	Error                 string   `json:"error"`
	AttemptedCapabilities []string `json:"attemptedCapabilities"`
	Hint                  string   `json:"hint,omitempty"`
}

// RouteInfo is returned by the dry-run routing endpoint.
type RouteInfo struct {
	Intent     Intent          `json:"intent"`
	Complexity Complexity      `json:"complexity"`
	Decision   RoutingDecision `json:"decision"`
	UsesPlan   bool            `json:"usesPlan"`
}

// CapabilityInfo describes a registered capability for the API.
type CapabilityInfo struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Model     string  `json:"model"`
	Tier      Tier    `json:"tier"`
	CostPer1K float64 `json:"cost_per_1k"`
	LatencyMs int64   `json:"latency_ms"`
}

// CacheEntry is what cache backends persist.
type CacheEntry struct {
	Key       string       `json:"key"`
	Value     ChatResponse `json:"value"`
	WrittenAt time.Time    `json:"written_at"`
}

// RouteRequest is the body of the dry-run routing endpoint.
type RouteRequest struct {
	Text            string `json:"text"`
	ForceCapability string `json:"forceCapability,omitempty"`
}
