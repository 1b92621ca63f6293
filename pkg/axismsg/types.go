// Package axismsg defines the wire-level data model shared by every
// component of the runtime core: messages, envelopes, plans, validation
// verdicts, plugin manifests, and audit entries.
package axismsg

import "time"

// Message is an in-process envelope routed by the Message Router (C3).
type Message struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId"`
	Timestamp     time.Time      `json:"timestamp"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	JobID         string         `json:"jobId,omitempty"`
	ReplyTo       string         `json:"replyTo,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TimeoutMs reads metadata.timeoutMs, returning 0 if unset or malformed.
func (m Message) TimeoutMs() int64 {
	if m.Metadata == nil {
		return 0
	}
	switch v := m.Metadata["timeoutMs"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// SignedEnvelope binds a message body to the signer's long-term identity.
type SignedEnvelope struct {
	Signer    string    `json:"signer"`
	Timestamp time.Time `json:"timestamp"`
	Nonce     string    `json:"nonce"`
	Signature string    `json:"signature"`
}

// RiskLevel is one of the four declared risk tiers.
type RiskLevel string

// Risk level constants, ordered low to critical.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3,
}

// Level returns the ordinal rank of a risk level (higher = riskier), or -1
// if unrecognized.
func (r RiskLevel) Level() int {
	if v, ok := riskOrder[r]; ok {
		return v
	}
	return -1
}

// PlanStep is one step of an ExecutionPlan.
type PlanStep struct {
	ID          string         `json:"id"`
	Gear        string         `json:"gear"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters"`
	RiskLevel   RiskLevel      `json:"riskLevel"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExecutionPlan is the planner's full-path response.
type ExecutionPlan struct {
	ID        string         `json:"id"`
	JobID     string         `json:"jobId"`
	Steps     []PlanStep     `json:"steps"`
	Reasoning string         `json:"reasoning,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Verdict is the validator's decision on a plan or step.
type Verdict string

// Verdict constants.
const (
	VerdictApproved           Verdict = "approved"
	VerdictNeedsUserApproval  Verdict = "needs_user_approval"
	VerdictNeedsRevision      Verdict = "needs_revision"
	VerdictRejected           Verdict = "rejected"
)

// StepResult is a per-step validator verdict.
type StepResult struct {
	StepID    string    `json:"stepId"`
	Verdict   Verdict   `json:"verdict"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Reasoning string    `json:"reasoning,omitempty"`
}

// ValidationResult is the Safety Validator's response to validate.request.
type ValidationResult struct {
	ID                 string         `json:"id"`
	PlanID             string         `json:"planId"`
	Verdict            Verdict        `json:"verdict"`
	OverallRisk        RiskLevel      `json:"overallRisk"`
	Reasoning          string         `json:"reasoning"`
	StepResults        []StepResult   `json:"stepResults"`
	SuggestedRevisions string         `json:"suggestedRevisions,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// ManifestOrigin is where a gear package came from.
type ManifestOrigin string

// Manifest origin constants.
const (
	OriginBuiltin ManifestOrigin = "builtin"
	OriginUser    ManifestOrigin = "user"
	OriginJournal ManifestOrigin = "journal"
)

// ActionSpec declares one callable action of a gear.
type ActionSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
	Returns     map[string]any `json:"returns" yaml:"returns"`
	RiskLevel   RiskLevel      `json:"riskLevel" yaml:"riskLevel"`
}

// Permissions declares the sandbox capabilities a gear may use.
type Permissions struct {
	Filesystem struct {
		Read  []string `json:"read" yaml:"read"`
		Write []string `json:"write" yaml:"write"`
	} `json:"filesystem" yaml:"filesystem"`
	Network struct {
		Domains   []string `json:"domains" yaml:"domains"`
		Protocols []string `json:"protocols" yaml:"protocols"`
	} `json:"network" yaml:"network"`
	Secrets     []string `json:"secrets" yaml:"secrets"`
	Shell       bool     `json:"shell,omitempty" yaml:"shell,omitempty"`
	Environment []string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Resources declares sandbox resource bounds for a gear.
type Resources struct {
	MaxMemoryMb            int `json:"maxMemoryMb,omitempty" yaml:"maxMemoryMb,omitempty"`
	MaxCPUPercent          int `json:"maxCpuPercent,omitempty" yaml:"maxCpuPercent,omitempty"`
	TimeoutMs              int `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	MaxNetworkBytesPerCall int `json:"maxNetworkBytesPerCall,omitempty" yaml:"maxNetworkBytesPerCall,omitempty"`
}

// GearManifest is the immutable declaration of a plugin package.
type GearManifest struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Version     string         `json:"version" yaml:"version"`
	Description string         `json:"description" yaml:"description"`
	Author      string         `json:"author" yaml:"author"`
	License     string         `json:"license" yaml:"license"`
	Origin      ManifestOrigin `json:"origin" yaml:"origin"`
	Actions     []ActionSpec   `json:"actions" yaml:"actions"`
	Permissions Permissions    `json:"permissions" yaml:"permissions"`
	Resources   Resources      `json:"resources" yaml:"resources"`
	Checksum    string         `json:"checksum" yaml:"checksum"`
	Signature   string         `json:"signature,omitempty" yaml:"signature,omitempty"`

	// EntryPoint is the path to the plugin's executable; not part of the
	// spec's wire JSON-Schema but required to locate the checksummed file.
	EntryPoint string `json:"-" yaml:"entryPoint"`
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	RiskLevel RiskLevel      `json:"riskLevel"`
	Target    string         `json:"target,omitempty"`
	JobID     string         `json:"jobId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Provenance is attached by the Plugin Sandbox Host to every result it returns.
type Provenance struct {
	Source        string    `json:"source"`
	Action        string    `json:"action"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConversationMessage is one row of the `messages` core table (spec §6): a
// single turn in a conversation, optionally tied to the job it produced.
type ConversationMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	JobID          string    `json:"jobId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
