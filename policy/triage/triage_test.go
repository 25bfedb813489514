package triage

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/manorchestra/core/manmodel"
)

// TestTriageIsDeterministic verifies Triage is a pure function: equal
// inputs produce byte-equal results (same lane, same score, same reasons
// in the same order), across repeated invocations.
func TestTriageIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("equal intents yield byte-equal triage results", prop.ForAll(
		func(toolName string, irreversible, sensitive, rights bool, paramVal string) bool {
			policy := manmodel.DefaultPolicy()
			intent := manmodel.NewActionIntent("tenant-1", "wf-1", "run-1", "step-1", toolName,
				map[string]any{"k": paramVal},
				manmodel.IntentFlags{Irreversible: irreversible, ContainsSensitiveData: sensitive, AffectsRights: rights})

			r1 := Triage(intent, policy, "wf-1", nil)
			r2 := Triage(intent, policy, "wf-1", nil)

			if r1.Lane != r2.Lane || r1.RiskScore != r2.RiskScore || len(r1.Reasons) != len(r2.Reasons) {
				return false
			}
			for i := range r1.Reasons {
				if r1.Reasons[i] != r2.Reasons[i] {
					return false
				}
			}
			return true
		},
		gen.AlphaString(), gen.Bool(), gen.Bool(), gen.Bool(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestTriageHardTrigger(t *testing.T) {
	policy := manmodel.DefaultPolicy()
	policy.HardTriggers.ToolsList = []string{"delete_database"}
	intent := manmodel.NewActionIntent("t", "w", "r", "s", "delete_database", nil, manmodel.IntentFlags{})

	result := Triage(intent, policy, "w", nil)
	if result.Lane != manmodel.LaneRed || result.RiskScore != 1.0 {
		t.Fatalf("expected hard-trigger RED/1.0, got %+v", result)
	}
	if len(result.Reasons) != 1 || result.Reasons[0] != "Hard trigger activated" {
		t.Fatalf("unexpected reasons: %v", result.Reasons)
	}
}

func TestTriageToolMinimumLanePromotesRed(t *testing.T) {
	policy := manmodel.DefaultPolicy()
	policy.ToolMinimumLanes = map[string]manmodel.ManLane{"wire_transfer": manmodel.LaneRed}
	intent := manmodel.NewActionIntent("t", "w", "r", "s", "wire_transfer", map[string]any{"amount": 5}, manmodel.IntentFlags{})

	result := Triage(intent, policy, "w", nil)
	if result.Lane != manmodel.LaneRed {
		t.Fatalf("expected RED, got %s", result.Lane)
	}
	if result.RiskScore < 0.80 {
		t.Fatalf("expected score >= 0.80, got %.2f", result.RiskScore)
	}
}

func TestTriageMissingFieldsCapped(t *testing.T) {
	policy := manmodel.DefaultPolicy()
	intent := manmodel.ActionIntent{TenantID: "t", WorkflowID: "w", RunID: "r", ToolName: "noop"}

	result := Triage(intent, policy, "w", nil)
	if result.RiskScore != 0.50 {
		t.Fatalf("expected missing_fields score 0.50 (0.30+0.20), got %.2f", result.RiskScore)
	}
	if result.Lane != manmodel.LaneYellow {
		t.Fatalf("expected YELLOW at the 0.50 yellow threshold, got %s", result.Lane)
	}
}

func TestTriageSubjectiveLanguageCapsAtOne(t *testing.T) {
	policy := manmodel.DefaultPolicy()
	intent := manmodel.NewActionIntent("t", "w", "r", "s", "noop", map[string]any{"note": "ok"}, manmodel.IntentFlags{})
	signals := []string{"critical emergency urgent suspicious anomaly vulnerability risk danger warning exception"}

	result := Triage(intent, policy, "w", signals)
	if result.RiskScore != 1.00 {
		t.Fatalf("expected subjective_language capped at 1.00, got %.2f", result.RiskScore)
	}
	if result.Lane != manmodel.LaneRed {
		t.Fatalf("expected RED above red threshold, got %s", result.Lane)
	}
}
