// Package triage implements the Policy Engine's risk-triage algorithm: a
// pure, deterministic function from an ActionIntent and policy to a
// RiskTriageResult. See spec §4.1.
package triage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/manorchestra/core/manmodel"
)

// subjectiveVocabulary is the fixed set of words whose presence in free text
// or tool_params contributes to the subjective_language risk dimension.
var subjectiveVocabulary = []string{
	"exception", "vulnerability", "risk", "danger", "warning",
	"critical", "emergency", "urgent", "suspicious", "anomaly",
}

// Triage computes a RiskTriageResult for intent under policy, optionally
// scoped to workflowKey (for per-workflow overrides) with extra free-text
// signals folded into the subjective-language scan. Triage never fails:
// callers that cannot load a policy should pass manmodel.DefaultPolicy().
func Triage(intent manmodel.ActionIntent, policy manmodel.ManPolicy, workflowKey string, freeTextSignals []string) manmodel.RiskTriageResult {
	if hit, reason := hardTriggered(intent, policy, workflowKey); hit {
		return manmodel.RiskTriageResult{
			Lane:      manmodel.LaneRed,
			RiskScore: 1.0,
			Reasons:   []string{reason},
		}
	}

	var reasons []string
	score := 0.0

	if intent.Flags.AffectsRights {
		score = math.Max(score, 1.00)
		reasons = append(reasons, "affects_rights: 1.00")
	}
	if intent.Flags.ContainsSensitiveData {
		score = math.Max(score, 0.90)
		reasons = append(reasons, "contains_sensitive_data: 0.90")
	}
	if intent.Flags.Irreversible {
		score = math.Max(score, 0.80)
		reasons = append(reasons, "irreversible: 0.80")
	}

	if subj := subjectiveLanguageScore(intent, freeTextSignals); subj > 0 {
		score = math.Max(score, subj)
		reasons = append(reasons, fmt.Sprintf("subjective_language: %.2f", subj))
	}

	if missing := missingFieldsScore(intent); missing > 0 {
		score = math.Max(score, missing)
		reasons = append(reasons, fmt.Sprintf("missing_fields: %.2f", missing))
	}

	lane := manmodel.LaneGreen

	if minLane, ok := toolMinimumLane(intent.ToolName, policy, workflowKey); ok {
		reasons = append(reasons, fmt.Sprintf("Tool %s requires minimum %s", intent.ToolName, minLane))
		switch minLane {
		case manmodel.LaneRed:
			score = math.Max(score, 0.80)
			return manmodel.RiskTriageResult{Lane: manmodel.LaneRed, RiskScore: score, Reasons: reasons}
		case manmodel.LaneYellow:
			if score < 0.50 {
				score = 0.50
			}
		}
		lane = lane.Promote(minLane)
	}

	thresholds := effectiveThresholds(policy, workflowKey)
	switch {
	case score >= thresholds.Red:
		lane = lane.Promote(manmodel.LaneRed)
	case score >= thresholds.Yellow:
		lane = lane.Promote(manmodel.LaneYellow)
	}

	return manmodel.RiskTriageResult{Lane: lane, RiskScore: score, Reasons: reasons}
}

func hardTriggered(intent manmodel.ActionIntent, policy manmodel.ManPolicy, workflowKey string) (bool, string) {
	triggers := policy.HardTriggers
	for _, t := range triggers.ToolsList {
		if t == intent.ToolName {
			return true, "Hard trigger activated"
		}
	}
	for _, wf := range triggers.WorkflowsList {
		if wf == workflowKey {
			return true, "Hard trigger activated"
		}
	}
	for key, values := range triggers.Params {
		v, ok := intent.ToolParams[key]
		if !ok {
			continue
		}
		vs := strings.ToLower(fmt.Sprintf("%v", v))
		for _, candidate := range values {
			if strings.Contains(vs, strings.ToLower(candidate)) {
				return true, "Hard trigger activated"
			}
		}
	}
	return false, ""
}

func subjectiveLanguageScore(intent manmodel.ActionIntent, freeTextSignals []string) float64 {
	var sb strings.Builder
	for _, s := range freeTextSignals {
		sb.WriteString(strings.ToLower(s))
		sb.WriteByte(' ')
	}
	keys := make([]string, 0, len(intent.ToolParams))
	for k := range intent.ToolParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(strings.ToLower(fmt.Sprintf("%v", intent.ToolParams[k])))
		sb.WriteByte(' ')
	}
	text := sb.String()

	count := 0
	for _, word := range subjectiveVocabulary {
		if strings.Contains(text, word) {
			count++
		}
	}
	score := float64(count) * 0.20
	if score > 1.00 {
		score = 1.00
	}
	return score
}

func missingFieldsScore(intent manmodel.ActionIntent) float64 {
	score := 0.0
	if len(intent.ToolParams) == 0 {
		score += 0.30
	}
	if intent.StepID == "" {
		score += 0.20
	}
	if score > 1.00 {
		score = 1.00
	}
	return score
}

func toolMinimumLane(toolName string, policy manmodel.ManPolicy, workflowKey string) (manmodel.ManLane, bool) {
	if workflowKey != "" {
		if override, ok := policy.PerWorkflowOverrides[workflowKey]; ok {
			if lane, ok := override.ToolMinimumLanes[toolName]; ok {
				return lane, true
			}
		}
	}
	if lane, ok := policy.ToolMinimumLanes[toolName]; ok {
		return lane, true
	}
	return "", false
}

func effectiveThresholds(policy manmodel.ManPolicy, workflowKey string) manmodel.GlobalThresholds {
	thresholds := policy.GlobalThresholds
	if workflowKey != "" {
		if override, ok := policy.PerWorkflowOverrides[workflowKey]; ok && override.Thresholds != nil {
			thresholds = *override.Thresholds
		}
	}
	return thresholds
}
