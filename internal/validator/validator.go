package validator

import (
	"context"
	"log/slog"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Validator is the Safety Validator component (C7): it always runs the
// rule-based RuleEngine, optionally escalates through an LLMEvaluator, and
// consults/populates an ApprovalCache so a previously-approved plan shape
// does not re-prompt the user or re-invoke the LLM.
type Validator struct {
	rules *RuleEngine
	llm   LLMEvaluator // nil disables LLM-assisted evaluation
	cache *ApprovalCache
}

// Option configures a Validator at construction.
type Option func(*Validator)

// WithLLMEvaluator enables LLM-assisted evaluation.
func WithLLMEvaluator(eval LLMEvaluator) Option {
	return func(v *Validator) { v.llm = eval }
}

// WithApprovalCache overrides the default-sized ApprovalCache.
func WithApprovalCache(cache *ApprovalCache) Option {
	return func(v *Validator) { v.cache = cache }
}

// New constructs a Validator rooted at workspaceRoot for filesystem
// containment checks.
func New(workspaceRoot string, opts ...Option) *Validator {
	v := &Validator{
		rules: NewRuleEngine(workspaceRoot),
		cache: NewApprovalCache(0),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// scheduledSource is the job source string (mirroring jobqueue.SourceSchedule,
// not imported here to keep this package's dependency surface narrow) the
// approval cache's eligibility predicate requires: spec §4.6 restricts
// caching to "eligible scheduled jobs (not user-originated)".
const scheduledSource = "schedule"

// Evaluate runs the full validation pipeline for plan: cache lookup, rule
// evaluation, optional LLM escalation, and cache population. source is the
// originating job's source tag ("user", "schedule", "webhook", "sub-job");
// only a scheduled-job plan that resolves to an approved verdict is ever
// read from or written to the approval cache — a user-originated plan
// always gets a fresh evaluation, and a non-approved verdict is never
// cached, so a one-off rejection or approval prompt can't short-circuit a
// later, possibly-reconsidered run of the same plan shape.
func (v *Validator) Evaluate(ctx context.Context, plan *axismsg.ExecutionPlan, source string) axismsg.ValidationResult {
	cacheEligible := source == scheduledSource

	if cacheEligible {
		if cached, ok := v.cache.Get(plan); ok {
			slog.Debug("validator: approval cache hit", "planId", plan.ID)
			cached.PlanID = plan.ID
			return cached
		}
	}

	result := v.rules.EvaluatePlan(plan)

	if v.llm != nil && result.Verdict != axismsg.VerdictRejected {
		result = llmEvaluation(ctx, v.llm, plan, result)
	}

	if cacheEligible && result.Verdict == axismsg.VerdictApproved {
		v.cache.Put(plan, result)
	}
	return result
}

// ApprovalPrompt is the user-facing shape presented when a plan needs
// explicit approval — distinct from StrippedPlan (the LLM-facing
// projection): approval prompts are allowed to show reasoning/description
// to the human operator, just not to the LLM.
type ApprovalPrompt struct {
	PlanID      string                `json:"planId"`
	StepResults []axismsg.StepResult  `json:"stepResults"`
	Steps       []axismsg.PlanStep    `json:"steps"`
	OverallRisk axismsg.RiskLevel     `json:"overallRisk"`
}

// BuildApprovalPrompt assembles the data an operator sees before approving
// a gated plan.
func BuildApprovalPrompt(plan *axismsg.ExecutionPlan, result axismsg.ValidationResult) ApprovalPrompt {
	needsApproval := make([]axismsg.PlanStep, 0)
	for _, step := range plan.Steps {
		for _, r := range result.StepResults {
			if r.StepID == step.ID && r.Verdict == axismsg.VerdictNeedsUserApproval {
				needsApproval = append(needsApproval, step)
			}
		}
	}
	return ApprovalPrompt{
		PlanID:      plan.ID,
		StepResults: result.StepResults,
		Steps:       needsApproval,
		OverallRisk: result.OverallRisk,
	}
}

func logRiskDivergence(stepID string, ruleRisk, llmRisk axismsg.RiskLevel) {
	slog.Warn("validator: rule-based and LLM risk assessments diverge sharply",
		"stepId", stepID, "ruleRisk", ruleRisk, "llmRisk", llmRisk)
}
