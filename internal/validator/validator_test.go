package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

func planWith(steps ...axismsg.PlanStep) *axismsg.ExecutionPlan {
	return &axismsg.ExecutionPlan{ID: "plan-1", JobID: "job-1", Steps: steps}
}

func TestRuleEngineApprovesLowRiskStep(t *testing.T) {
	e := NewRuleEngine("/workspace")
	step := axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "read_file", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"path": "notes.txt"}}
	r := e.EvaluateStep(step)
	assert.Equal(t, axismsg.VerdictApproved, r.Verdict)
}

func TestRuleEngineGatesForbiddenAction(t *testing.T) {
	e := NewRuleEngine("/workspace")
	step := axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "delete_file", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"path": "notes.txt"}}
	r := e.EvaluateStep(step)
	assert.Equal(t, axismsg.VerdictNeedsUserApproval, r.Verdict)
	assert.Equal(t, axismsg.RiskCritical, r.RiskLevel)
}

func TestRuleEngineRejectsPathEscape(t *testing.T) {
	e := NewRuleEngine("/workspace")
	step := axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "read_file", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"path": "../../etc/passwd"}}
	r := e.EvaluateStep(step)
	assert.Equal(t, axismsg.VerdictRejected, r.Verdict)
}

func TestRuleEngineRejectsPrivateNetworkTarget(t *testing.T) {
	e := NewRuleEngine("/workspace")
	step := axismsg.PlanStep{ID: "s1", Gear: "http", Action: "fetch", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"url": "http://169.254.169.254/latest/meta-data"}}
	r := e.EvaluateStep(step)
	assert.Equal(t, axismsg.VerdictRejected, r.Verdict)
}

func TestRuleEngineEscalatesHighRiskToApproval(t *testing.T) {
	e := NewRuleEngine("/workspace")
	step := axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "write_file", RiskLevel: axismsg.RiskHigh,
		Parameters: map[string]any{"path": "config.yaml"}}
	r := e.EvaluateStep(step)
	assert.Equal(t, axismsg.VerdictNeedsUserApproval, r.Verdict)
}

func TestCanonicalizeIsOrderAndKeySortInvariant(t *testing.T) {
	p1 := planWith(axismsg.PlanStep{ID: "s1", Gear: "g", Action: "a", Parameters: map[string]any{"b": 1, "a": "x"}})
	p2 := planWith(axismsg.PlanStep{ID: "s1", Gear: "g", Action: "a", Parameters: map[string]any{"a": "x", "b": 1}})
	assert.Equal(t, canonicalize(p1), canonicalize(p2))
}

func TestCanonicalizeDiffersOnSemanticChange(t *testing.T) {
	p1 := planWith(axismsg.PlanStep{ID: "s1", Gear: "g", Action: "a", Parameters: map[string]any{"path": "a.txt"}})
	p2 := planWith(axismsg.PlanStep{ID: "s1", Gear: "g", Action: "a", Parameters: map[string]any{"path": "b.txt"}})
	assert.NotEqual(t, canonicalize(p1), canonicalize(p2))
}

func TestApprovalCacheEvictsLRU(t *testing.T) {
	c := NewApprovalCache(2)
	p1 := planWith(axismsg.PlanStep{ID: "s1", Gear: "g", Action: "a1"})
	p2 := planWith(axismsg.PlanStep{ID: "s2", Gear: "g", Action: "a2"})
	p3 := planWith(axismsg.PlanStep{ID: "s3", Gear: "g", Action: "a3"})

	c.Put(p1, axismsg.ValidationResult{Verdict: axismsg.VerdictApproved})
	c.Put(p2, axismsg.ValidationResult{Verdict: axismsg.VerdictApproved})
	c.Put(p3, axismsg.ValidationResult{Verdict: axismsg.VerdictApproved}) // evicts p1

	_, ok := c.Get(p1)
	assert.False(t, ok)
	_, ok = c.Get(p2)
	assert.True(t, ok)
}

type stubEvaluator struct {
	result axismsg.ValidationResult
	err    error
}

func (s stubEvaluator) Evaluate(ctx context.Context, plan StrippedPlan) (axismsg.ValidationResult, error) {
	return s.result, s.err
}

func TestValidatorFallsBackToRulesOnLLMError(t *testing.T) {
	v := New("/workspace", WithLLMEvaluator(stubEvaluator{err: errors.New("unreachable")}))
	plan := planWith(axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "read_file", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"path": "a.txt"}})

	result := v.Evaluate(context.Background(), plan, "user")
	assert.Equal(t, axismsg.VerdictApproved, result.Verdict)
}

func TestValidatorLLMCanEscalateNeverDowngrade(t *testing.T) {
	llm := stubEvaluator{result: axismsg.ValidationResult{
		Verdict:     axismsg.VerdictNeedsUserApproval,
		OverallRisk: axismsg.RiskHigh,
		StepResults: []axismsg.StepResult{{StepID: "s1", Verdict: axismsg.VerdictNeedsUserApproval, RiskLevel: axismsg.RiskHigh}},
	}}
	v := New("/workspace", WithLLMEvaluator(llm))
	plan := planWith(axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "read_file", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"path": "a.txt"}})

	result := v.Evaluate(context.Background(), plan, "user")
	assert.Equal(t, axismsg.VerdictNeedsUserApproval, result.Verdict)
}

func TestValidatorUsesApprovalCacheOnSecondCall(t *testing.T) {
	calls := 0
	llm := &countingEvaluator{calls: &calls}
	v := New("/workspace", WithLLMEvaluator(llm))
	plan := planWith(axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "read_file", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"path": "a.txt"}})

	_ = v.Evaluate(context.Background(), plan, "schedule")
	_ = v.Evaluate(context.Background(), plan, "schedule")

	assert.Equal(t, 1, calls)
}

func TestValidatorDoesNotCacheUserOriginatedPlans(t *testing.T) {
	calls := 0
	llm := &countingEvaluator{calls: &calls}
	v := New("/workspace", WithLLMEvaluator(llm))
	plan := planWith(axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "read_file", RiskLevel: axismsg.RiskLow,
		Parameters: map[string]any{"path": "a.txt"}})

	_ = v.Evaluate(context.Background(), plan, "user")
	_ = v.Evaluate(context.Background(), plan, "user")

	assert.Equal(t, 2, calls)
}

func TestValidatorDoesNotCacheNonApprovedVerdicts(t *testing.T) {
	llm := stubEvaluator{result: axismsg.ValidationResult{
		Verdict:     axismsg.VerdictNeedsUserApproval,
		StepResults: []axismsg.StepResult{{StepID: "s1", Verdict: axismsg.VerdictNeedsUserApproval, RiskLevel: axismsg.RiskHigh}},
	}}
	v := New("/workspace", WithLLMEvaluator(llm))
	plan := planWith(axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "write_file", RiskLevel: axismsg.RiskHigh,
		Parameters: map[string]any{"path": "a.txt"}})

	first := v.Evaluate(context.Background(), plan, "schedule")
	_, cached := v.cache.Get(plan)
	assert.Equal(t, axismsg.VerdictNeedsUserApproval, first.Verdict)
	assert.False(t, cached)
}

type countingEvaluator struct {
	calls *int
}

func (c *countingEvaluator) Evaluate(ctx context.Context, plan StrippedPlan) (axismsg.ValidationResult, error) {
	*c.calls++
	return axismsg.ValidationResult{Verdict: axismsg.VerdictApproved}, nil
}

func TestBuildApprovalPromptOnlyIncludesGatedSteps(t *testing.T) {
	plan := planWith(
		axismsg.PlanStep{ID: "s1", Gear: "fs", Action: "read_file"},
		axismsg.PlanStep{ID: "s2", Gear: "fs", Action: "delete_file"},
	)
	result := axismsg.ValidationResult{
		StepResults: []axismsg.StepResult{
			{StepID: "s1", Verdict: axismsg.VerdictApproved},
			{StepID: "s2", Verdict: axismsg.VerdictNeedsUserApproval},
		},
	}
	prompt := BuildApprovalPrompt(plan, result)
	require.Len(t, prompt.Steps, 1)
	assert.Equal(t, "s2", prompt.Steps[0].ID)
}
