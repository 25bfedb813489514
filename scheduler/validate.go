package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/manorchestra/core/manmodel"
)

// planSchemaSource is the JSON Schema ValidatePlan checks plan JSON
// against. llm.ParsePlan applies it to planner output; plans that reach
// the coordinator by other routes are not checked against it.
// Rejecting malformed plans here keeps DAGCycleOrMissingDependency
// reserved for genuinely cyclic or dangling-dependency graphs.
const planSchemaSource = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "tool"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "tool": {"type": "string", "minLength": 1},
          "input": {"type": "object"},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "compensation": {"type": "string"},
          "compensation_input": {"type": "object"}
        }
      }
    }
  }
}`

// PlanSchemaError wraps a JSON Schema validation failure on a submitted
// plan, distinct from DAGError so callers can tell "malformed input" from
// "structurally valid but cyclic/dangling".
type PlanSchemaError struct {
	Message string
}

func (e *PlanSchemaError) Error() string { return "invalid plan: " + e.Message }

var planSchema = mustCompilePlanSchema()

func mustCompilePlanSchema() *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(planSchemaSource), &schemaDoc); err != nil {
		panic(fmt.Sprintf("scheduler: invalid plan schema: %v", err))
	}
	const resourceURL = "plan-schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, schemaDoc); err != nil {
		panic(fmt.Sprintf("scheduler: invalid plan schema: %v", err))
	}
	schema, err := c.Compile(resourceURL)
	if err != nil {
		panic(fmt.Sprintf("scheduler: invalid plan schema: %v", err))
	}
	return schema
}

// ValidatePlan validates raw plan JSON against the plan schema and decodes
// it into a manmodel.Plan on success.
func ValidatePlan(raw []byte) (manmodel.Plan, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return manmodel.Plan{}, &PlanSchemaError{Message: err.Error()}
	}
	if err := planSchema.Validate(instance); err != nil {
		return manmodel.Plan{}, &PlanSchemaError{Message: err.Error()}
	}
	var plan manmodel.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return manmodel.Plan{}, &PlanSchemaError{Message: err.Error()}
	}
	return plan, nil
}
