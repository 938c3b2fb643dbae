// Package classify holds the two pure, synchronous signals computed before
// any provider is called: the intent of a message and its complexity points.
// Neither function can fail.
package classify

import (
	"regexp"
	"strings"

	"github.com/agentoven/taskrouter/pkg/models"
)

// intentRule is one row of the intent table. Rows are evaluated in order and
// the first row with any matching pattern wins.
type intentRule struct {
	Type       models.IntentType
	Confidence float64
	Reason     string
	Patterns   []*regexp.Regexp
}

// Default confidence when nothing matched.
const defaultConfidence = 0.7

var intentTable = []intentRule{
	{
		Type:       models.IntentCodeExecution,
		Confidence: 0.9,
		Reason:     "code or programming request",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile("```"),
			regexp.MustCompile(`\b(refactor|debug|compile|transpile|lint|unit tests?)\b`),
			regexp.MustCompile(`\b(write|create|generate|implement|build|fix)\s+(me\s+)?(a|an|the|some|this)?\s*(new\s+)?(code|function|class|method|script|program|endpoint|api|query|regex)\b`),
			regexp.MustCompile(`\b(stack\s*trace|traceback|exception|segfault|null pointer|syntax error)\b`),
			regexp.MustCompile(`\b(python|javascript|typescript|golang|rust|java|kotlin|c\+\+|sql|bash)\s+(code|script|function|program)\b`),
			regexp.MustCompile(`\b(c[oó]digo|programa[rç]|fun[cç][aã]o)\b`),
		},
	},
	{
		Type:       models.IntentAutomation,
		Confidence: 0.8,
		Reason:     "automation or workflow request",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(automate|automation|automatizar|automa[cç][aã]o)\b`),
			regexp.MustCompile(`\b(schedule|cron|recurring|every\s+(day|week|hour|morning|night))\b`),
			regexp.MustCompile(`\b(workflow|pipeline|integrat(e|ion)\s+with|webhook)\b`),
			regexp.MustCompile(`\b(scrape|crawl|batch\s+process)\b`),
		},
	},
	{
		Type:       models.IntentResearch,
		Confidence: 0.85,
		Reason:     "information or research request",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(research|investigate|look\s+up|search\s+for|find\s+(out|information|sources))\b`),
			regexp.MustCompile(`\b(latest|recent|current)\s+(news|trends|developments|version|research)\b`),
			regexp.MustCompile(`\b(compare|comparison|statistics|sources|citations?|references)\b`),
			regexp.MustCompile(`\b(pesquis[ae]r?|not[ií]cias)\b`),
		},
	},
}

// Intent classifies text. It is deterministic and returns on the first
// matching rule group; the confidence is the group's constant.
func Intent(text string) models.Intent {
	lower := strings.ToLower(text)
	for _, rule := range intentTable {
		for _, p := range rule.Patterns {
			if p.MatchString(lower) {
				return models.Intent{
					Type:       rule.Type,
					Confidence: rule.Confidence,
					Reason:     rule.Reason,
				}
			}
		}
	}
	return models.Intent{
		Type:       models.IntentConversation,
		Confidence: defaultConfidence,
		Reason:     "no specific pattern matched",
	}
}
