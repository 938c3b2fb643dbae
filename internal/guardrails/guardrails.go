// Package guardrails validates inbound chat requests before any provider is
// called. A failed check is reported to the client as a 400.
//
// Supported rule kinds:
//   - max_length: character and word limits on each message
//   - prompt_injection: heuristic prompt injection detection
//   - content_filter: keyword/phrase blocklist
//   - pii_detection: regex-based PII detection (emails, phone numbers, SSN, etc.)
//
// Structural checks (non-empty conversation, known roles, last turn from the
// user) always run and are not configurable.
package guardrails

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/pkg/models"
)

// Kind names a guardrail rule.
type Kind string

const (
	KindStructure       Kind = "structure"
	KindMaxLength       Kind = "max_length"
	KindPromptInjection Kind = "prompt_injection"
	KindContentFilter   Kind = "content_filter"
	KindPIIDetection    Kind = "pii_detection"
)

// Rule is one configured check.
type Rule struct {
	Kind    Kind
	Enabled bool
	Config  map[string]any
}

// Result is the outcome of a single rule.
type Result struct {
	Kind    Kind   `json:"kind"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Violation is returned when a request fails a guardrail.
type Violation struct {
	Kind    Kind
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("guardrail %s: %s", v.Kind, v.Message)
}

// ErrEmptyConversation is the structural violation for a request with no messages.
var ErrEmptyConversation = errors.New("messages must not be empty")

// ── Service ─────────────────────────────────────────────────

// Service evaluates a fixed rule set. It is immutable and safe for
// concurrent use.
type Service struct {
	rules []Rule
}

// New creates a Service with the given rules.
func New(rules []Rule) *Service {
	return &Service{rules: rules}
}

// FromConfig builds the rule set from the guardrails config section.
func FromConfig(cfg config.GuardrailsConfig) *Service {
	rules := []Rule{
		{Kind: KindMaxLength, Enabled: cfg.MaxCharacters > 0 || cfg.MaxWords > 0, Config: map[string]any{
			"max_characters": cfg.MaxCharacters,
			"max_words":      cfg.MaxWords,
		}},
		{Kind: KindPromptInjection, Enabled: cfg.InjectionSensitivity != "off", Config: map[string]any{
			"sensitivity": cfg.InjectionSensitivity,
		}},
	}
	if len(cfg.BlockedWords) > 0 {
		words := make([]any, 0, len(cfg.BlockedWords))
		for _, w := range cfg.BlockedWords {
			words = append(words, w)
		}
		rules = append(rules, Rule{Kind: KindContentFilter, Enabled: true, Config: map[string]any{"blocked_words": words}})
	}
	if len(cfg.PIIPatterns) > 0 {
		patterns := make([]any, 0, len(cfg.PIIPatterns))
		for _, p := range cfg.PIIPatterns {
			patterns = append(patterns, p)
		}
		rules = append(rules, Rule{Kind: KindPIIDetection, Enabled: true, Config: map[string]any{"patterns": patterns}})
	}
	return New(rules)
}

// Check validates the conversation. It returns nil or a *Violation.
func (s *Service) Check(messages []models.ChatMessage) error {
	if r := checkStructure(messages); !r.Passed {
		return &Violation{Kind: r.Kind, Message: r.Message}
	}

	// Only user-authored text is screened; assistant turns are our own output.
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		for _, r := range s.Evaluate(m.Content) {
			if !r.Passed {
				return &Violation{Kind: r.Kind, Message: r.Message}
			}
		}
	}
	return nil
}

// Evaluate runs every enabled rule against text.
func (s *Service) Evaluate(text string) []Result {
	results := make([]Result, 0, len(s.rules))
	for _, r := range s.rules {
		if !r.Enabled {
			continue
		}
		results = append(results, evaluateOne(r, text))
	}
	return results
}

func evaluateOne(r Rule, text string) Result {
	switch r.Kind {
	case KindMaxLength:
		return evalMaxLength(r, text)
	case KindPromptInjection:
		return evalPromptInjection(r, text)
	case KindContentFilter:
		return evalContentFilter(r, text)
	case KindPIIDetection:
		return evalPIIDetection(r, text)
	default:
		return Result{Passed: true, Kind: r.Kind, Message: "unknown guardrail kind"}
	}
}

// ── Structure ───────────────────────────────────────────────

func checkStructure(messages []models.ChatMessage) Result {
	if len(messages) == 0 {
		return Result{Kind: KindStructure, Message: ErrEmptyConversation.Error()}
	}
	for i, m := range messages {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return Result{Kind: KindStructure, Message: fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role)}
		}
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleUser {
		return Result{Kind: KindStructure, Message: "last message must be from the user"}
	}
	if strings.TrimSpace(last.Content) == "" {
		return Result{Kind: KindStructure, Message: "last message must not be empty"}
	}
	return Result{Kind: KindStructure, Passed: true}
}

// ── Max Length ───────────────────────────────────────────────
// Config: { "max_characters": 20000, "max_words": 4000 }

func evalMaxLength(r Rule, text string) Result {
	if maxChars, ok := getIntConfig(r.Config, "max_characters"); ok && maxChars > 0 {
		if utf8.RuneCountInString(text) > maxChars {
			return Result{Kind: r.Kind, Message: fmt.Sprintf("message exceeds %d characters", maxChars)}
		}
	}
	if maxWords, ok := getIntConfig(r.Config, "max_words"); ok && maxWords > 0 {
		if len(strings.Fields(text)) > maxWords {
			return Result{Kind: r.Kind, Message: fmt.Sprintf("message exceeds %d words", maxWords)}
		}
	}
	return Result{Passed: true, Kind: r.Kind}
}

// ── Prompt Injection Detection ──────────────────────────────
// Config: { "sensitivity": "high" | "medium" }

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)ignore\s+(todas\s+)?(as\s+)?instru[cç][oõ]es\s+anteriores`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+you\s+have\s+no\s+(restrictions?|rules?|filters?)`),
}

var highSensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)override\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`),
}

func evalPromptInjection(r Rule, text string) Result {
	sensitivity, _ := r.Config["sensitivity"].(string)

	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return Result{Kind: r.Kind, Message: "potential prompt injection detected"}
		}
	}
	if sensitivity == "high" {
		for _, re := range highSensitivityPatterns {
			if re.MatchString(text) {
				return Result{Kind: r.Kind, Message: "potential prompt injection detected (high sensitivity)"}
			}
		}
	}
	return Result{Passed: true, Kind: r.Kind}
}

// ── Content Filter ──────────────────────────────────────────
// Config: { "blocked_words": ["word1", "word2"] }, matched case-insensitively.

func evalContentFilter(r Rule, text string) Result {
	blocked, _ := r.Config["blocked_words"].([]any)
	lower := strings.ToLower(text)
	for _, b := range blocked {
		word, ok := b.(string)
		if !ok || word == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(word)) {
			return Result{Kind: r.Kind, Message: "blocked content detected"}
		}
	}
	return Result{Passed: true, Kind: r.Kind}
}

// ── PII Detection ───────────────────────────────────────────
// Config: { "patterns": ["email", "phone", "ssn", "credit_card"] }

var builtInPIIPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
}

func evalPIIDetection(r Rule, text string) Result {
	patterns, _ := r.Config["patterns"].([]any)
	for _, p := range patterns {
		name, ok := p.(string)
		if !ok {
			continue
		}
		re, ok := builtInPIIPatterns[name]
		if !ok {
			continue
		}
		if re.MatchString(text) {
			return Result{Kind: r.Kind, Message: "PII detected: " + name + " pattern matched"}
		}
	}
	return Result{Passed: true, Kind: r.Kind}
}

// ── Helpers ─────────────────────────────────────────────────

// getIntConfig extracts an integer from a config map (handles float64 from JSON).
func getIntConfig(cfg map[string]any, key string) (int, bool) {
	switch n := cfg[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
