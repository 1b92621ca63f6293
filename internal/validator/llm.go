package validator

import (
	"context"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// StrippedStep is the information-barrier-safe projection of a PlanStep
// submitted to the LLM evaluator: reasoning, free-text description, and
// caller-supplied metadata are structurally absent from this type, not
// merely omitted by convention, so a future caller cannot accidentally leak
// them by forgetting to redact (spec §4.5's information-barrier contract).
type StrippedStep struct {
	ID         string         `json:"id"`
	Gear       string         `json:"gear"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	RiskLevel  axismsg.RiskLevel `json:"riskLevel"`
}

// StrippedPlan is the information-barrier-safe projection of an
// ExecutionPlan.
type StrippedPlan struct {
	ID    string         `json:"id"`
	Steps []StrippedStep `json:"steps"`
}

// strip projects plan down to its LLM-safe fields. This is the only path by
// which plan data reaches LLMEvaluator.Evaluate.
func strip(plan *axismsg.ExecutionPlan) StrippedPlan {
	out := StrippedPlan{ID: plan.ID, Steps: make([]StrippedStep, len(plan.Steps))}
	for i, s := range plan.Steps {
		out.Steps[i] = StrippedStep{
			ID:         s.ID,
			Gear:       s.Gear,
			Action:     s.Action,
			Parameters: s.Parameters,
			RiskLevel:  s.RiskLevel,
		}
	}
	return out
}

// LLMEvaluator is the Go-side interface to an LLM-assisted policy judge.
// Its Evaluate method is structurally incapable of receiving plan.Reasoning,
// step.Description, or step.Metadata — the StrippedPlan type has no fields
// for them — which is the information-barrier contract itself, not just an
// implementation detail of one call site. Grounded on the teacher's
// agent.LLMClient/GenerateInput shape (pkg/agent/llm_client.go), generalized
// from a conversational-generation interface to a single structured
// evaluate-and-return-verdict call.
type LLMEvaluator interface {
	Evaluate(ctx context.Context, plan StrippedPlan) (axismsg.ValidationResult, error)
}

// llmEvaluation runs the LLM evaluator over a plan and folds its verdict
// with the rule engine's, taking the stricter of the two per step. The LLM
// path can only escalate a verdict the rule engine already approved; it can
// never downgrade a rejection the rule engine already made.
func llmEvaluation(ctx context.Context, eval LLMEvaluator, plan *axismsg.ExecutionPlan, ruleResult axismsg.ValidationResult) axismsg.ValidationResult {
	llmResult, err := eval.Evaluate(ctx, strip(plan))
	if err != nil {
		// Fall back to rule-based result on LLM failure (spec §4.5).
		ruleResult.Reasoning = ruleResult.Reasoning + " (LLM evaluation unavailable, falling back to rule-based result: " + err.Error() + ")"
		return ruleResult
	}

	merged := ruleResult
	merged.Reasoning = llmResult.Reasoning
	merged.Verdict = worstVerdict(ruleResult.Verdict, llmResult.Verdict)
	if llmResult.OverallRisk.Level() > merged.OverallRisk.Level() {
		merged.OverallRisk = llmResult.OverallRisk
	}

	byStep := make(map[string]axismsg.StepResult, len(llmResult.StepResults))
	for _, r := range llmResult.StepResults {
		byStep[r.StepID] = r
	}
	for i, r := range merged.StepResults {
		if llmR, ok := byStep[r.StepID]; ok {
			merged.StepResults[i].Verdict = worstVerdict(r.Verdict, llmR.Verdict)
			if llmR.RiskLevel.Level() > r.RiskLevel.Level() {
				merged.StepResults[i].RiskLevel = llmR.RiskLevel
			}
			if ruleRiskDivergesFromLLM(r.RiskLevel, llmR.RiskLevel) {
				logRiskDivergence(r.StepID, r.RiskLevel, llmR.RiskLevel)
			}
		}
	}

	return merged
}

func ruleRiskDivergesFromLLM(ruleRisk, llmRisk axismsg.RiskLevel) bool {
	diff := ruleRisk.Level() - llmRisk.Level()
	if diff < 0 {
		diff = -diff
	}
	return diff >= 2
}
