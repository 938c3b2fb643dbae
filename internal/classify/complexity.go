package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agentoven/taskrouter/pkg/models"
)

// Thresholds are the length cut-offs of the scorer. The point scale is not
// normalized; routing thresholds are calibrated against it.
type Thresholds struct {
	LongWords      int
	VeryLongWords  int
	VeryShortChars int
}

func DefaultThresholds() Thresholds {
	return Thresholds{LongWords: 100, VeryLongWords: 200, VeryShortChars: 50}
}

var complexKeywords = []string{
	"refactor", "architecture", "architect", "optimize", "optimise", "analyze", "analyse",
	"implement", "design", "migrate", "migration", "algorithm", "performance", "scalab",
	"security", "integrate", "concurren", "distributed", "database", "comprehensive",
	"detailed", "step by step", "trade-off", "tradeoff", "benchmark", "deploy",
}

var codePatterns = []*regexp.Regexp{
	regexp.MustCompile("```"),
	regexp.MustCompile(`\bfunc\s+\w+\s*\(`),
	regexp.MustCompile(`\bdef\s+\w+\s*\(`),
	regexp.MustCompile(`\bclass\s+\w+\s*[:({]`),
	regexp.MustCompile(`(?m)^\s*(import|from\s+\S+\s+import|package|#include)\b`),
	regexp.MustCompile(`\w+\s*\([^)]*\)\s*=>`),
	// Statement lines: an assignment or a call that ends in ; or {. A prose
	// sentence ending in a semicolon is not code.
	regexp.MustCompile(`(?m)^\s*(?:(?:var|let|const|int|auto)\s+)?[A-Za-z_$][\w.$\[\]]*\s*(?:[-+*/%|&]?=[^=]|\()[^\n]*[;{]\s*$`),
	regexp.MustCompile(`(?m)^\s*(?:if|for|while|switch)\s*\(?[^\n]*\)?\s*\{\s*$`),
	regexp.MustCompile(`(?m)^\s*\}\s*;?\s*$`),
}

var stepMarkers = regexp.MustCompile(`\b(first|then|after that|next|finally|step \d+)\b`)

var simplePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(hi|hello|hey|yo|oi|ol[aá]|bom dia|boa tarde|boa noite|good (morning|afternoon|evening))\b`),
	regexp.MustCompile(`\b(thanks|thank you|thx|obrigad[oa]|valeu|bye|goodbye|tchau|see you)\b`),
}

// Scorer accumulates complexity and simplicity points.
type Scorer struct {
	t Thresholds
}

func NewScorer(t Thresholds) *Scorer {
	d := DefaultThresholds()
	if t.LongWords <= 0 {
		t.LongWords = d.LongWords
	}
	if t.VeryLongWords <= 0 {
		t.VeryLongWords = d.VeryLongWords
	}
	if t.VeryShortChars <= 0 {
		t.VeryShortChars = d.VeryShortChars
	}
	return &Scorer{t: t}
}

var defaultScorer = NewScorer(DefaultThresholds())

// Score scores text with the default thresholds.
func Score(text string) models.Complexity {
	return defaultScorer.Score(text)
}

// Score computes complexity signals for text. It never fails.
func (s *Scorer) Score(text string) models.Complexity {
	lower := strings.ToLower(text)
	words := len(strings.Fields(text))

	c := models.Complexity{WordCount: words}

	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			c.ComplexScore++
		}
	}

	for _, p := range codePatterns {
		if p.MatchString(text) {
			c.HasCode = true
			break
		}
	}
	if c.HasCode {
		c.ComplexScore += 2
	}

	if markers := stepMarkers.FindAllString(lower, -1); len(distinct(markers)) >= 2 {
		c.ComplexScore++
	}

	// Length bands are exclusive: a very long message gets +3, not +5.
	switch {
	case words > s.t.VeryLongWords:
		c.ComplexScore += 3
		c.IsLong = true
	case words > s.t.LongWords:
		c.ComplexScore += 2
		c.IsLong = true
	}

	for _, p := range simplePatterns {
		if p.MatchString(lower) {
			c.SimpleScore += 2
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < s.t.VeryShortChars {
		c.SimpleScore++
		c.IsVeryShort = true
	}

	return c
}

func distinct(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}
