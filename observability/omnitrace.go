// Package observability implements Omnitrace: canonical JSON encoding,
// content hashing, recursive PII/secret redaction, and payload truncation for
// events emitted by the coordinator and approval gate. See spec §4.8.
package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// MaxPayloadSize is the byte ceiling for an event payload after
	// truncation; larger payloads are replaced with a summary marker.
	MaxPayloadSize = 32 * 1024
	// MaxSafeStringLength is the longest string value left untouched by
	// redaction's length-based heuristic.
	MaxSafeStringLength = 20
	// LargeNumberThreshold marks absolute numeric values large enough to be
	// redacted rather than reported exactly.
	LargeNumberThreshold = 10000
	// MaxRedactionDepth bounds recursive descent into nested structures.
	MaxRedactionDepth = 10
	// DefaultHashLength is the default hex-prefix length returned by ComputeHash.
	DefaultHashLength = 16
)

// allowlistKeys are always preserved verbatim regardless of value shape,
// because they are structural identifiers rather than payload content.
var allowlistKeys = map[string]struct{}{
	"id": {}, "workflow_id": {}, "run_id": {}, "step": {}, "step_id": {},
	"event_type": {}, "timestamp": {}, "status": {}, "retry_count": {},
	"attempt": {}, "version": {}, "type": {}, "name": {}, "action": {},
	"lane": {}, "result": {}, "success": {}, "error_code": {}, "duration_ms": {},
}

// droplistKeys are keys whose values are always redacted outright, because
// they are known to carry secrets or credentials.
var droplistKeys = []string{
	"password", "secret", "token", "api_key", "auth", "credential",
}

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// CanonicalJSON renders v as a deterministic JSON string: object keys sorted,
// no insignificant whitespace. Used for idempotency-key derivation and
// content hashing, where byte-stable output across calls is required.
func CanonicalJSON(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalize round-trips v through encoding/json to collapse it into
// map[string]any/[]any/primitive form, so map keys marshal in sorted order
// regardless of the origin type's field order.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ComputeHash returns the lowercase hex prefix of length n of the SHA-256
// digest of v's canonical JSON encoding. n <= 0 defaults to DefaultHashLength.
func ComputeHash(v any, n int) (string, error) {
	if n <= 0 {
		n = DefaultHashLength
	}
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	full := hex.EncodeToString(sum[:])
	if n > len(full) {
		n = len(full)
	}
	return full[:n], nil
}

func isAllowlistedKey(key string) bool {
	_, ok := allowlistKeys[strings.ToLower(key)]
	return ok
}

func isDroplistKey(key string) bool {
	lower := strings.ToLower(key)
	for _, drop := range droplistKeys {
		if strings.Contains(lower, drop) {
			return true
		}
	}
	return false
}

func shouldRedactScalar(value any) bool {
	switch v := value.(type) {
	case string:
		if len(v) > MaxSafeStringLength {
			return true
		}
		return emailPattern.MatchString(v)
	case float64:
		if v < 0 {
			v = -v
		}
		return v > LargeNumberThreshold
	case int:
		n := v
		if n < 0 {
			n = -n
		}
		return n > LargeNumberThreshold
	default:
		return false
	}
}

func redactedMarker(value any) string {
	hash, err := ComputeHash(value, DefaultHashLength)
	if err != nil {
		hash = "unknown"
	}
	return fmt.Sprintf("<redacted:%s>", hash)
}

func redactValue(key string, value any, depth int) any {
	if depth > MaxRedactionDepth {
		return redactedMarker(value)
	}
	if isAllowlistedKey(key) {
		return value
	}
	if isDroplistKey(key) {
		return redactedMarker(value)
	}
	switch v := value.(type) {
	case map[string]any:
		return RedactMap(v, depth+1)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(key, item, depth+1)
		}
		return out
	default:
		if shouldRedactScalar(value) {
			return redactedMarker(value)
		}
		return value
	}
}

// RedactMap returns a copy of m with sensitive values replaced, recursing
// into nested maps/slices up to MaxRedactionDepth. depth is the caller's
// current nesting level; pass 0 from the top.
func RedactMap(m map[string]any, depth int) map[string]any {
	if depth > MaxRedactionDepth {
		return map[string]any{"_truncated": redactedMarker(m)}
	}
	out := make(map[string]any, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = redactValue(k, m[k], depth)
	}
	return out
}

// Redact is the entry point for redacting an arbitrary payload before it is
// logged or emitted as an event.
func Redact(m map[string]any) map[string]any {
	return RedactMap(m, 0)
}

// TruncatePayload caps the canonical JSON size of payload at MaxPayloadSize
// bytes. Payloads that fit pass through unchanged; oversized payloads are
// replaced by a summary object carrying essential identifying keys, a
// truncation marker, and the original size.
func TruncatePayload(payload map[string]any) (map[string]any, error) {
	canon, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	if len(canon) <= MaxPayloadSize {
		return payload, nil
	}
	essential := make(map[string]any, len(allowlistKeys))
	for k := range allowlistKeys {
		if v, ok := payload[k]; ok {
			essential[k] = v
		}
	}
	essential["<truncated>"] = true
	essential["original_size"] = len(canon)
	return essential, nil
}

// EventKey derives a short, stable key for an event:
// "<type>:<workflow_id[0:8]>:<hash[0:8]>", where hash is computed over the
// event's identifying fields (workflow, step, retry count, timestamp).
func EventKey(workflowID, eventType string, step string, retryCount int, timestamp string) string {
	wfPrefix := workflowID
	if len(wfPrefix) > 8 {
		wfPrefix = wfPrefix[:8]
	}
	hash, err := ComputeHash(map[string]any{
		"workflow_id": workflowID,
		"event_type":  eventType,
		"step":        step,
		"retry_count": retryCount,
		"timestamp":   timestamp,
	}, 8)
	if err != nil {
		hash = "00000000"
	}
	return fmt.Sprintf("%s:%s:%s", eventType, wfPrefix, hash)
}
