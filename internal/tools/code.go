package tools

import (
	"context"
	"strings"

	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/pkg/models"
)

const codeSystemPrompt = `You are a senior software engineer. Write correct, idiomatic, complete code for the requirement.
Reply with a single fenced code block followed by at most three sentences of explanation.`

// CodeSynthesize asks the strongest available capabilities for code. The
// candidate list is fixed at construction, deep tier first.
type CodeSynthesize struct {
	caller     fallback.Caller
	candidates []string
}

func NewCodeSynthesize(caller fallback.Caller, candidates []string) *CodeSynthesize {
	return &CodeSynthesize{caller: caller, candidates: candidates}
}

func (c *CodeSynthesize) Invoke(ctx context.Context, args map[string]any) models.ToolResult {
	req := strings.TrimSpace(stringArg(args, "requirement"))
	if req == "" {
		return failed("code_synthesize: requirement is required")
	}
	if lang := stringArg(args, "language"); lang != "" {
		req = "Language: " + lang + "\n\n" + req
	}

	res, err := c.caller.Execute(ctx, c.candidates, []models.ChatMessage{{Role: models.RoleUser, Content: req}}, codeSystemPrompt)
	if err != nil {
		return failed("code_synthesize: %v", err)
	}
	return models.ToolResult{Type: models.ToolResultText, Payload: res.Output}
}
