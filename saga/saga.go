// Package saga implements the compensation-based rollback mechanism: a
// LIFO stack of compensating activity calls, registered as forward steps
// succeed, and best-effort unwound on workflow failure. Compensations are
// local inverses, not distributed transactions — the system promises
// eventual consistency, and each compensation is expected to be itself
// idempotent.
package saga

import (
	"strings"

	"github.com/manorchestra/core/engine"
)

// CompensationStep is one entry on the compensation stack: an activity to
// invoke on rollback, with its already-resolved input.
type CompensationStep struct {
	StepID       string         `json:"step_id"`
	ActivityName string         `json:"activity_name"`
	Input        map[string]any `json:"input"`
}

// Context is a pure data holder for the compensation stack. It holds no
// reference to the workflow or an executor, fixing the original design's
// cyclic coordinator<->saga back-pointer: Rollback takes the executor as
// an argument instead.
type Context struct {
	Stack           []CompensationStep `json:"compensation_stack"`
	alreadyExecuted bool
}

// NewContext returns an empty saga context.
func NewContext() *Context {
	return &Context{}
}

// Push appends a compensation onto the stack. Called after a forward step
// succeeds and registers a non-empty compensation tool.
func (c *Context) Push(step CompensationStep) {
	c.Stack = append(c.Stack, step)
}

// ResolvePlaceholders substitutes any string value of the exact form
// "{result.FIELD}" in compensationInput with result[FIELD]; any other
// string is passed through verbatim. Only top-level values are
// substituted, matching spec semantics.
func ResolvePlaceholders(compensationInput map[string]any, result map[string]any) map[string]any {
	if compensationInput == nil {
		return nil
	}
	resolved := make(map[string]any, len(compensationInput))
	for k, v := range compensationInput {
		resolved[k] = resolvePlaceholder(v, result)
	}
	return resolved
}

func resolvePlaceholder(v any, result map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if !strings.HasPrefix(s, "{result.") || !strings.HasSuffix(s, "}") {
		return v
	}
	field := strings.TrimSuffix(strings.TrimPrefix(s, "{result."), "}")
	if resolved, ok := result[field]; ok {
		return resolved
	}
	return v
}

// ExecuteWithCompensation invokes req as an activity and, on success,
// pushes a compensation onto sagaCtx keyed by stepID using compensationTool
// and compensationInput ("{result.FIELD}" placeholders resolved against
// the activity's own result). A zero-value compensationTool registers
// nothing, for steps with no inverse.
func ExecuteWithCompensation(
	ctx engine.WorkflowContext,
	sagaCtx *Context,
	req engine.ActivityRequest,
	stepID, compensationTool string,
	compensationInput map[string]any,
) (map[string]any, error) {
	var result map[string]any
	if err := ctx.ExecuteActivity(ctx.Context(), req, &result); err != nil {
		return nil, err
	}
	if compensationTool != "" {
		sagaCtx.Push(CompensationStep{
			StepID:       stepID,
			ActivityName: compensationTool,
			Input:        ResolvePlaceholders(compensationInput, result),
		})
	}
	return result, nil
}

// CompensationResult records the outcome of invoking a single compensation
// during rollback.
type CompensationResult struct {
	StepID  string `json:"step_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Executor invokes one compensation activity, returning an error if the
// activity itself failed. Rollback logs and records the error but never
// aborts the remaining compensations on its account.
type Executor func(ctx engine.WorkflowContext, step CompensationStep) error

// Rollback pops compensations in LIFO order and invokes each via executor,
// recording a per-step result. It is idempotent: a second call on a
// Context that has already rolled back is a no-op returning an empty
// result list, guarded by the already_executed latch.
func Rollback(ctx engine.WorkflowContext, executor Executor, sagaCtx *Context) []CompensationResult {
	if sagaCtx.alreadyExecuted {
		return nil
	}
	sagaCtx.alreadyExecuted = true

	results := make([]CompensationResult, 0, len(sagaCtx.Stack))
	for i := len(sagaCtx.Stack) - 1; i >= 0; i-- {
		step := sagaCtx.Stack[i]
		result := CompensationResult{StepID: step.StepID, Success: true}
		if err := executor(ctx, step); err != nil {
			result.Success = false
			result.Error = err.Error()
			ctx.Logger().Error(ctx.Context(), "compensation failed",
				"step_id", step.StepID, "activity", step.ActivityName, "error", err)
		}
		results = append(results, result)
	}
	return results
}
