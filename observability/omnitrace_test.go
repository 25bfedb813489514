package observability

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCanonicalJSONIsLeftInverse verifies that decoding CanonicalJSON's
// output and re-encoding it is idempotent: canonicalization is a
// normalizing projection, not a lossy one, for arbitrary JSON-shaped maps.
func TestCanonicalJSONIsLeftInverse(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("re-canonicalizing canonical JSON is a fixed point", prop.ForAll(
		func(a, b string, n int) bool {
			payload := map[string]any{"a": a, "b": b, "n": n}
			first, err := CanonicalJSON(payload)
			if err != nil {
				return false
			}
			var decoded map[string]any
			if err := json.Unmarshal([]byte(first), &decoded); err != nil {
				return false
			}
			second, err := CanonicalJSON(decoded)
			if err != nil {
				return false
			}
			return first == second
		},
		gen.AlphaString(), gen.AlphaString(), gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}

func TestCanonicalJSONSortsKeysRegardlessOfInputOrder(t *testing.T) {
	m1 := map[string]any{"z": 1, "a": 2, "m": 3}
	m2 := map[string]any{"a": 2, "m": 3, "z": 1}

	c1, err := CanonicalJSON(m1)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	c2, err := CanonicalJSON(m2)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected key-order-independent output, got %q vs %q", c1, c2)
	}
}

func TestComputeHashDefaultsLength(t *testing.T) {
	hash, err := ComputeHash(map[string]any{"k": "v"}, 0)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if len(hash) != DefaultHashLength {
		t.Fatalf("expected length %d, got %d (%q)", DefaultHashLength, len(hash), hash)
	}
}

func TestRedactPreservesAllowlistedKeys(t *testing.T) {
	out := Redact(map[string]any{"workflow_id": "wf-123", "step_id": "s1"})
	if out["workflow_id"] != "wf-123" || out["step_id"] != "s1" {
		t.Fatalf("allowlisted keys were altered: %+v", out)
	}
}

func TestRedactDropsSecretLikeKeys(t *testing.T) {
	out := Redact(map[string]any{"api_key": "sk-abc123", "password": "hunter2"})
	for _, k := range []string{"api_key", "password"} {
		v, _ := out[k].(string)
		if v == "" || v == "sk-abc123" || v == "hunter2" {
			t.Fatalf("expected %q to be redacted, got %q", k, v)
		}
	}
}

func TestRedactRedactsLongStringsAndEmails(t *testing.T) {
	out := Redact(map[string]any{
		"note":  "this description is definitely longer than twenty characters",
		"email": "person@example.com",
		"short": "ok",
	})
	if out["note"] == "this description is definitely longer than twenty characters" {
		t.Fatal("expected long string to be redacted")
	}
	if out["email"] == "person@example.com" {
		t.Fatal("expected email to be redacted")
	}
	if out["short"] != "ok" {
		t.Fatalf("expected short non-sensitive value untouched, got %v", out["short"])
	}
}

func TestRedactRecursesIntoNestedStructures(t *testing.T) {
	out := Redact(map[string]any{
		"nested": map[string]any{"token": "abc123"},
		"list":   []any{map[string]any{"secret": "xyz"}},
	})
	nested, _ := out["nested"].(map[string]any)
	if nested["token"] == "abc123" {
		t.Fatal("expected nested secret to be redacted")
	}
	list, _ := out["list"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected list to survive recursion, got %+v", list)
	}
	item, _ := list[0].(map[string]any)
	if item["secret"] == "xyz" {
		t.Fatal("expected list-nested secret to be redacted")
	}
}

func TestRedactStopsAtMaxDepth(t *testing.T) {
	var deepest any = "leaf"
	for i := 0; i < MaxRedactionDepth+5; i++ {
		deepest = map[string]any{"nested": deepest}
	}
	top, ok := deepest.(map[string]any)
	if !ok {
		t.Fatal("construction error")
	}
	out := RedactMap(top, 0)
	if out == nil {
		t.Fatal("expected a non-nil result even past max depth")
	}
}

func TestTruncatePayloadLeavesSmallPayloadsUntouched(t *testing.T) {
	payload := map[string]any{"id": "evt-1", "status": "ok"}
	out, err := TruncatePayload(payload)
	if err != nil {
		t.Fatalf("TruncatePayload: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("expected small payload unchanged, got %+v", out)
	}
}

func TestTruncatePayloadSummarizesOversizedPayloads(t *testing.T) {
	big := make([]byte, MaxPayloadSize*2)
	for i := range big {
		big[i] = 'x'
	}
	payload := map[string]any{"id": "evt-1", "blob": string(big)}
	out, err := TruncatePayload(payload)
	if err != nil {
		t.Fatalf("TruncatePayload: %v", err)
	}
	if _, ok := out["blob"]; ok {
		t.Fatal("expected oversized field to be dropped from the summary")
	}
	if out["id"] != "evt-1" {
		t.Fatalf("expected allowlisted id to survive truncation, got %+v", out)
	}
	if out["<truncated>"] != true {
		t.Fatalf("expected truncation marker, got %+v", out)
	}
}

func TestEventKeyFormat(t *testing.T) {
	key := EventKey("wf-1234567890", "tool_call_requested", "s1", 2, "2026-07-31T00:00:00Z")
	parts := splitEventKey(key)
	if len(parts) != 3 {
		t.Fatalf("expected 3 colon-separated parts, got %v", parts)
	}
	if parts[0] != "tool_call_requested" {
		t.Fatalf("unexpected event type segment: %q", parts[0])
	}
	if parts[1] != "wf-12345" {
		t.Fatalf("expected workflow id truncated to 8 chars, got %q", parts[1])
	}
	if len(parts[2]) != 8 {
		t.Fatalf("expected 8-char hash segment, got %q", parts[2])
	}
}

func TestEventKeyIsDeterministic(t *testing.T) {
	k1 := EventKey("wf-1", "goal_received", "", 0, "2026-07-31T00:00:00Z")
	k2 := EventKey("wf-1", "goal_received", "", 0, "2026-07-31T00:00:00Z")
	if k1 != k2 {
		t.Fatalf("expected identical inputs to produce identical keys: %q vs %q", k1, k2)
	}
}

func splitEventKey(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}
