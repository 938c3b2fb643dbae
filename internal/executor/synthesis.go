package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
)

const synthesisSystemPrompt = `You combine the results of a multi-step plan into one coherent answer for the user.
Do not mention steps, plans or tools. If some results are marked FAILED, answer with what is available and say briefly what could not be done.`

// Synthesizer folds a trace into the final answer.
type Synthesizer struct {
	caller      fallback.Caller
	resultChars int
}

func NewSynthesizer(caller fallback.Caller, resultChars int) *Synthesizer {
	if resultChars <= 0 {
		resultChars = DefaultResultChars
	}
	return &Synthesizer{caller: caller, resultChars: resultChars}
}

// Synthesize never fails. When the call fails it returns a deterministic
// apology listing what succeeded; the returned capability is then empty.
func (s *Synthesizer) Synthesize(ctx context.Context, task string, trace []models.StepResult, candidates []string) (string, string) {
	ctx, span := tracer.Start(ctx, "executor.synthesize")
	defer span.End()

	var sb strings.Builder
	fmt.Fprintf(&sb, "TASK:\n%s\n\nRESULTS:\n", task)
	for _, r := range trace {
		switch {
		case r.Recovery:
			continue
		case r.Success:
			fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", r.Index, r.Action, truncate(r.Output, s.resultChars))
		default:
			fmt.Fprintf(&sb, "[%d] %s: FAILED (%s)\n\n", r.Index, r.Action, r.Error)
		}
	}

	res, err := s.caller.Execute(ctx, candidates, []models.ChatMessage{{Role: models.RoleUser, Content: sb.String()}}, synthesisSystemPrompt)
	if err != nil {
		log.Warn().Err(err).Msg("Synthesis failed, returning apology")
		return Apology(trace), ""
	}
	return res.Output, res.UsedCapability
}

// Apology is the deterministic fallback answer.
func Apology(trace []models.StepResult) string {
	var done []string
	for _, r := range trace {
		if r.Success && !r.Recovery {
			done = append(done, fmt.Sprintf("- %s", r.Action))
		}
	}
	if len(done) == 0 {
		return "Sorry, I could not complete this request. None of the steps succeeded."
	}
	return "Sorry, I could not put together a complete answer. These steps did succeed:\n" + strings.Join(done, "\n")
}
