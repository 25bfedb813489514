// Package manmodel defines the data model shared by the policy engine,
// approval gate, saga, scheduler, and coordinator: ActionIntent, ManLane,
// RiskTriageResult, ManPolicy, ManTask, ManDecisionPayload, AgentEvent, and
// Plan/Step. See spec §3.
package manmodel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ManLane is the risk classification of an action intent, with a total order
// GREEN < YELLOW < RED < BLOCKED used for monotone lane promotion.
type ManLane string

const (
	LaneGreen   ManLane = "GREEN"
	LaneYellow  ManLane = "YELLOW"
	LaneRed     ManLane = "RED"
	LaneBlocked ManLane = "BLOCKED"
)

var laneRank = map[ManLane]int{
	LaneGreen:   0,
	LaneYellow:  1,
	LaneRed:     2,
	LaneBlocked: 3,
}

// Rank returns the lane's position in the total order, for comparison and
// monotone promotion. Unknown lanes rank below GREEN.
func (l ManLane) Rank() int {
	r, ok := laneRank[l]
	if !ok {
		return -1
	}
	return r
}

// Promote returns the higher-ranked of l and other, implementing monotone
// lane promotion (a lane is never demoted).
func (l ManLane) Promote(other ManLane) ManLane {
	if other.Rank() > l.Rank() {
		return other
	}
	return l
}

// redactedKeyFragments are lower-cased substrings that mark a tool_params key
// as sensitive on ActionIntent ingestion. Matches spec §3 exactly.
var redactedKeyFragments = []string{"password", "token", "secret", "key", "api_key", "auth"}

const redactedPlaceholder = "[REDACTED]"

// ActionIntent is the input to the risk gate: a structured description of one
// tool call under consideration, prior to execution.
type ActionIntent struct {
	TenantID   string         `json:"tenant_id"`
	WorkflowID string         `json:"workflow_id"`
	RunID      string         `json:"run_id"`
	StepID     string         `json:"step_id"`
	ToolName   string         `json:"tool_name"`
	ToolParams map[string]any `json:"tool_params"`
	Flags      IntentFlags    `json:"flags"`
}

// IntentFlags are the recognized flags on an ActionIntent; unknown flags in
// the wire payload are ignored.
type IntentFlags struct {
	Irreversible         bool `json:"irreversible"`
	ContainsSensitiveData bool `json:"contains_sensitive_data"`
	AffectsRights        bool `json:"affects_rights"`
}

// NewActionIntent builds an ActionIntent and redacts sensitive tool_params
// values in place, per spec §3: any key whose lower-cased form contains one
// of the forbidden fragments is replaced by the literal "[REDACTED]" and the
// original value must never be read again by the core.
func NewActionIntent(tenantID, workflowID, runID, stepID, toolName string, params map[string]any, flags IntentFlags) ActionIntent {
	intent := ActionIntent{
		TenantID:   tenantID,
		WorkflowID: workflowID,
		RunID:      runID,
		StepID:     stepID,
		ToolName:   toolName,
		ToolParams: redactParams(params),
		Flags:      flags,
	}
	return intent
}

func redactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveParamKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveParamKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range redactedKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// RiskTriageResult is the pure output of the Policy Engine.
type RiskTriageResult struct {
	Lane      ManLane        `json:"lane"`
	RiskScore float64        `json:"risk_score"`
	Reasons   []string       `json:"reasons"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GlobalThresholds configures the YELLOW/RED score cutoffs; invariant
// yellow <= red.
type GlobalThresholds struct {
	Red    float64 `json:"red"`
	Yellow float64 `json:"yellow"`
}

// HardTriggers force an immediate RED,1.0 classification.
type HardTriggers struct {
	Tools     map[string]struct{}   `json:"-"`
	ToolsList []string              `json:"tools"`
	Params    map[string][]string   `json:"params"`
	Workflows map[string]struct{}   `json:"-"`
	WorkflowsList []string          `json:"workflows"`
}

// WorkflowOverride is a partial policy scoped to a specific workflow.
type WorkflowOverride struct {
	Thresholds       *GlobalThresholds  `json:"thresholds,omitempty"`
	ToolMinimumLanes map[string]ManLane `json:"tool_minimum_lanes,omitempty"`
}

// DegradeBehavior controls what happens when the approval backlog exceeds
// max_pending_per_tenant.
type DegradeBehavior string

const (
	DegradeBlockNew   DegradeBehavior = "BLOCK_NEW"
	DegradeForcePause DegradeBehavior = "FORCE_PAUSE"
	DegradeAutoDeny   DegradeBehavior = "AUTO_DENY"
)

// ManPolicy is tenant- or workflow-scoped configuration for the risk gate.
type ManPolicy struct {
	GlobalThresholds      GlobalThresholds            `json:"global_thresholds"`
	ToolMinimumLanes      map[string]ManLane           `json:"tool_minimum_lanes"`
	HardTriggers          HardTriggers                 `json:"hard_triggers"`
	PerWorkflowOverrides  map[string]WorkflowOverride  `json:"per_workflow_overrides"`
	MaxPendingPerTenant   int                          `json:"max_pending_per_tenant"`
	TaskTTLMinutes        int                          `json:"task_ttl_minutes"`
	DegradeBehavior       DegradeBehavior              `json:"degrade_behavior"`
}

// DefaultPolicy returns the built-in default policy per spec §3/§4.2.
func DefaultPolicy() ManPolicy {
	return ManPolicy{
		GlobalThresholds:     GlobalThresholds{Red: 0.8, Yellow: 0.5},
		ToolMinimumLanes:     map[string]ManLane{},
		HardTriggers:         HardTriggers{},
		PerWorkflowOverrides: map[string]WorkflowOverride{},
		MaxPendingPerTenant:  50,
		TaskTTLMinutes:       1440,
		DegradeBehavior:      DegradeBlockNew,
	}
}

// Validate checks the policy's invariants (yellow <= red).
func (p ManPolicy) Validate() error {
	if p.GlobalThresholds.Yellow > p.GlobalThresholds.Red {
		return fmt.Errorf("manmodel: invalid thresholds: yellow (%.2f) > red (%.2f)", p.GlobalThresholds.Yellow, p.GlobalThresholds.Red)
	}
	return nil
}

// TaskTTL returns the configured TTL as a time.Duration, falling back to the
// default when unset.
func (p ManPolicy) TaskTTL() time.Duration {
	if p.TaskTTLMinutes <= 0 {
		return time.Duration(DefaultPolicy().TaskTTLMinutes) * time.Minute
	}
	return time.Duration(p.TaskTTLMinutes) * time.Minute
}

// ManTaskStatus is the lifecycle status of a persisted approval task.
type ManTaskStatus string

const (
	TaskPending   ManTaskStatus = "PENDING"
	TaskApproved  ManTaskStatus = "APPROVED"
	TaskDenied    ManTaskStatus = "DENIED"
	TaskModified  ManTaskStatus = "MODIFIED"
	TaskCancelled ManTaskStatus = "CANCELLED"
	TaskExpired   ManTaskStatus = "EXPIRED"
)

// IsTerminal reports whether status is a terminal, non-reversible state.
func (s ManTaskStatus) IsTerminal() bool {
	switch s {
	case TaskApproved, TaskDenied, TaskModified, TaskCancelled, TaskExpired:
		return true
	default:
		return false
	}
}

// ManTask is a persisted approval record.
type ManTask struct {
	ID             string            `json:"id" bson:"id"`
	IdempotencyKey string            `json:"idempotency_key" bson:"idempotency_key"`
	TenantID       string            `json:"tenant_id" bson:"tenant_id"`
	WorkflowID     string            `json:"workflow_id" bson:"workflow_id"`
	RunID          string            `json:"run_id" bson:"run_id"`
	StepID         string            `json:"step_id" bson:"step_id"`
	ToolName       string            `json:"tool_name" bson:"tool_name"`
	Status         ManTaskStatus     `json:"status" bson:"status"`
	RiskScore      float64           `json:"risk_score" bson:"risk_score"`
	RiskReasons    []string          `json:"risk_reasons" bson:"risk_reasons"`
	Intent         ActionIntent      `json:"intent" bson:"intent"`
	ReviewerID     string            `json:"reviewer_id,omitempty" bson:"reviewer_id,omitempty"`
	Decision       *ManDecisionPayload `json:"decision,omitempty" bson:"decision,omitempty"`
	CreatedAt      time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" bson:"updated_at"`
}

// ManDecisionKind enumerates operator decisions on a ManTask.
type ManDecisionKind string

const (
	DecisionApprove        ManDecisionKind = "APPROVE"
	DecisionDeny           ManDecisionKind = "DENY"
	DecisionModify         ManDecisionKind = "MODIFY"
	DecisionCancelWorkflow ManDecisionKind = "CANCEL_WORKFLOW"
)

// ManDecisionPayload is the operator's decision on a pending ManTask.
type ManDecisionPayload struct {
	Decision       ManDecisionKind `json:"decision"`
	Reason         string          `json:"reason,omitempty"`
	ReviewerID     string          `json:"reviewer_id"`
	ModifiedParams map[string]any  `json:"modified_params,omitempty"`
}

// DecisionEvent is one append-only audit record of an operator decision
// applied to a ManTask, persisted to man_decision_events independently of
// ManTask.Decision (which only ever reflects the latest/winning decision).
type DecisionEvent struct {
	ID         string              `json:"id" bson:"id"`
	TaskID     string              `json:"task_id" bson:"task_id"`
	Decision   ManDecisionPayload  `json:"decision" bson:"decision"`
	RecordedAt time.Time           `json:"recorded_at" bson:"recorded_at"`
}

// CanonicalJSON marshals v with sorted keys and no extraneous whitespace, the
// deterministic representation required for idempotency keys and hashing.
// It calls encoding/json directly, not observability.CanonicalJSON: map
// keys come out sorted (Go's json package sorts them), but struct fields
// keep their declaration order, so struct field order is significant for
// callers that need a truly canonical cross-language representation, while
// map-keyed payloads such as tool_params are always reproduced in sorted order.
func CanonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Step is one node of a Plan: a single tool invocation with optional
// compensation.
type Step struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Tool               string            `json:"tool"`
	Input              map[string]any    `json:"input"`
	DependsOn          []string          `json:"depends_on"`
	Compensation       string            `json:"compensation,omitempty"`
	CompensationInput  map[string]any    `json:"compensation_input,omitempty"`
}

// Plan is an ordered collection of Steps forming a DAG of tool invocations.
type Plan struct {
	ID    string `json:"id"`
	Steps []Step `json:"steps"`
}

// StepByID returns the step with the given id, if present.
func (p Plan) StepByID(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
