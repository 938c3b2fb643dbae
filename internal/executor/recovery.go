package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/internal/metrics"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
)

// RecoveryAction is what the supervisor decided after a failed step.
type RecoveryAction string

const (
	ActionContinue RecoveryAction = "continue"
	ActionAbort    RecoveryAction = "abort"
)

const recoverySystemPrompt = `A step of a multi-step plan failed. Decide whether the remaining steps can still produce a useful result.
Reply with JSON only: {"action": "continue" | "abort", "note": "one sentence for the user"}`

// Supervisor decides whether a plan survives a failed step. It is consulted
// at most once per step.
type Supervisor struct {
	caller     fallback.Caller
	candidates []string
}

// NewSupervisor creates a supervisor that asks candidates, cheapest first.
func NewSupervisor(caller fallback.Caller, candidates []string) *Supervisor {
	return &Supervisor{caller: caller, candidates: candidates}
}

// Recover asks how to proceed after step failed with cause. If the recovery
// call itself fails the plan is aborted.
func (s *Supervisor) Recover(ctx context.Context, task string, step models.PlanStep, remaining int, cause string) (models.RecoveryDecision, error) {
	ctx, span := tracer.Start(ctx, "executor.recover")
	defer span.End()

	prompt := fmt.Sprintf("TASK:\n%s\n\nFAILED STEP %d: %s\nERROR: %s\n\nREMAINING STEPS: %d",
		task, step.Index, step.Action, cause, remaining)

	res, err := s.caller.Execute(ctx, s.candidates, []models.ChatMessage{{Role: models.RoleUser, Content: prompt}}, recoverySystemPrompt)
	if err != nil {
		metrics.Recoveries.WithLabelValues("failed").Inc()
		log.Warn().Int("step", step.Index).Err(err).Msg("Recovery call failed, aborting plan")
		return models.RecoveryDecision{Continue: false, Note: "recovery unavailable"}, err
	}

	d := ParseRecovery(res.Output)
	action := ActionAbort
	if d.Continue {
		action = ActionContinue
	}
	metrics.Recoveries.WithLabelValues(string(action)).Inc()
	log.Info().Int("step", step.Index).Str("action", string(action)).Str("note", d.Note).Msg("Recovery decided")
	return d, nil
}

// ParseRecovery reads a recovery reply. JSON is preferred; otherwise a
// leading CONTINUE or ABORT keyword is accepted. An unreadable reply
// continues, since the recovery call itself succeeded.
func ParseRecovery(reply string) models.RecoveryDecision {
	text := strings.TrimSpace(reply)

	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		var v struct {
			Action string `json:"action"`
			Note   string `json:"note"`
		}
		if err := json.Unmarshal([]byte(text[i:j+1]), &v); err == nil {
			switch RecoveryAction(strings.ToLower(strings.TrimSpace(v.Action))) {
			case ActionContinue:
				return models.RecoveryDecision{Continue: true, Note: v.Note}
			case ActionAbort:
				return models.RecoveryDecision{Continue: false, Note: v.Note}
			}
		}
	}

	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(upper, "ABORT"):
		return models.RecoveryDecision{Continue: false, Note: strings.TrimSpace(text[len("ABORT"):])}
	case strings.HasPrefix(upper, "CONTINUE"):
		return models.RecoveryDecision{Continue: true, Note: strings.TrimSpace(text[len("CONTINUE"):])}
	}
	return models.RecoveryDecision{Continue: true, Note: "unrecognized recovery reply"}
}
