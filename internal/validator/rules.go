// Package validator implements the Safety Validator (C7): rule-based and
// optional LLM-assisted evaluation of an ExecutionPlan, producing a
// ValidationResult with a per-step and overall Verdict. Hard floors always
// run regardless of which evaluation mode is active; the LLM path only ever
// raises a verdict's strictness, never lowers what the rule engine already
// rejected.
package validator

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// forbiddenActions are action names that always require user approval,
// regardless of declared risk level, per spec §4.5's hard-floor list.
var forbiddenActions = map[string]bool{
	"delete_file":         true,
	"delete_directory":    true,
	"execute_shell":       true,
	"run_command":         true,
	"transfer_funds":      true,
	"make_payment":        true,
	"modify_system_config": true,
	"change_permissions":  true,
}

// RuleEngine applies deterministic, non-LLM safety rules to a plan.
type RuleEngine struct {
	WorkspaceRoot string
}

// NewRuleEngine constructs a RuleEngine rooted at workspaceRoot. Every
// filesystem-touching step is checked against this root.
func NewRuleEngine(workspaceRoot string) *RuleEngine {
	return &RuleEngine{WorkspaceRoot: workspaceRoot}
}

// EvaluateStep applies the hard floors to a single step, returning its
// verdict and reasoning. It never returns VerdictApproved for a forbidden
// action — at best, approved steps pass through unchanged and forbidden
// ones are escalated to needs_user_approval.
func (e *RuleEngine) EvaluateStep(step axismsg.PlanStep) axismsg.StepResult {
	if forbiddenActions[step.Action] {
		return axismsg.StepResult{
			StepID:    step.ID,
			Verdict:   axismsg.VerdictNeedsUserApproval,
			RiskLevel: axismsg.RiskCritical,
			Reasoning: fmt.Sprintf("action %q is always gated for explicit user approval", step.Action),
		}
	}

	if reason, ok := e.checkFilesystemContainment(step); !ok {
		return axismsg.StepResult{
			StepID:    step.ID,
			Verdict:   axismsg.VerdictRejected,
			RiskLevel: axismsg.RiskCritical,
			Reasoning: reason,
		}
	}

	if reason, ok := checkNetworkTargets(step); !ok {
		return axismsg.StepResult{
			StepID:    step.ID,
			Verdict:   axismsg.VerdictRejected,
			RiskLevel: axismsg.RiskHigh,
			Reasoning: reason,
		}
	}

	verdict := axismsg.VerdictApproved
	if step.RiskLevel.Level() >= axismsg.RiskHigh.Level() {
		verdict = axismsg.VerdictNeedsUserApproval
	}

	return axismsg.StepResult{
		StepID:    step.ID,
		Verdict:   verdict,
		RiskLevel: step.RiskLevel,
		Reasoning: "passed rule-based evaluation",
	}
}

// checkFilesystemContainment rejects any path parameter that escapes
// WorkspaceRoot, including via ".." segments that would only be caught by
// canonicalization — reject on the literal segment, don't rely on
// filepath.Clean alone, since a symlink inside the workspace could still
// resolve outside it (spec §4.7's path-gate note, applied here too since
// the validator is the first line of defense before the sandbox host).
func (e *RuleEngine) checkFilesystemContainment(step axismsg.PlanStep) (string, bool) {
	if e.WorkspaceRoot == "" {
		return "", true
	}
	for key, v := range step.Parameters {
		if !looksLikePathParam(key) {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if strings.Contains(filepath.ToSlash(s), "..") {
			return fmt.Sprintf("parameter %q contains a %q segment", key, ".."), false
		}
		abs := s
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(e.WorkspaceRoot, s)
		}
		clean := filepath.Clean(abs)
		if !strings.HasPrefix(clean, filepath.Clean(e.WorkspaceRoot)+string(filepath.Separator)) && clean != filepath.Clean(e.WorkspaceRoot) {
			return fmt.Sprintf("parameter %q resolves outside the workspace root", key), false
		}
	}
	return "", true
}

func looksLikePathParam(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "path") || strings.Contains(k, "file") || strings.Contains(k, "dir")
}

// checkNetworkTargets rejects parameters that look like URLs/hosts pointed
// at a private or loopback address range, preventing SSRF-shaped plans from
// sailing through as "low risk".
func checkNetworkTargets(step axismsg.PlanStep) (string, bool) {
	for key, v := range step.Parameters {
		k := strings.ToLower(key)
		if !strings.Contains(k, "url") && !strings.Contains(k, "host") && !strings.Contains(k, "domain") && !strings.Contains(k, "endpoint") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		host := extractHost(s)
		if host == "" {
			continue
		}
		if ip := net.ParseIP(host); ip != nil && isPrivateOrLoopback(ip) {
			return fmt.Sprintf("parameter %q targets a private/loopback address (%s)", key, host), false
		}
		if strings.EqualFold(host, "localhost") {
			return fmt.Sprintf("parameter %q targets localhost", key), false
		}
	}
	return "", true
}

func extractHost(raw string) string {
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 && !strings.Contains(s, "]") {
		s = s[:i]
	}
	return strings.Trim(s, "[]")
}

func isPrivateOrLoopback(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil && ip4[0] == 0 {
		return true // 0.0.0.0/8, "this network" — spec §4.6's denied-range list
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// EvaluatePlan runs EvaluateStep over every step and folds the results into
// an overall verdict: rejected beats needs_user_approval beats
// needs_revision beats approved.
func (e *RuleEngine) EvaluatePlan(plan *axismsg.ExecutionPlan) axismsg.ValidationResult {
	results := make([]axismsg.StepResult, 0, len(plan.Steps))
	overall := axismsg.VerdictApproved
	overallRisk := axismsg.RiskLow

	for _, step := range plan.Steps {
		r := e.EvaluateStep(step)
		results = append(results, r)
		overall = worstVerdict(overall, r.Verdict)
		if r.RiskLevel.Level() > overallRisk.Level() {
			overallRisk = r.RiskLevel
		}
	}

	return axismsg.ValidationResult{
		PlanID:      plan.ID,
		Verdict:     overall,
		OverallRisk: overallRisk,
		Reasoning:   "rule-based evaluation",
		StepResults: results,
	}
}

var verdictSeverity = map[axismsg.Verdict]int{
	axismsg.VerdictApproved:          0,
	axismsg.VerdictNeedsRevision:     1,
	axismsg.VerdictNeedsUserApproval: 2,
	axismsg.VerdictRejected:          3,
}

func worstVerdict(a, b axismsg.Verdict) axismsg.Verdict {
	if verdictSeverity[b] > verdictSeverity[a] {
		return b
	}
	return a
}
