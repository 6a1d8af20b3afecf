package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/driprun/driprun/pkg/schema"
)

// automationSchema guards the automation write payload at the API boundary.
// Structural graph rules live in CheckGraph; this catches shape errors with
// readable paths before any decoding into domain types.
const automationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "definition"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 200},
    "status": {"enum": ["running", "paused"]},
    "definition": {
      "type": "object",
      "required": ["steps"],
      "properties": {
        "steps": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": {
            "type": "object",
            "required": ["id", "kind"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "kind": {"enum": ["trigger", "condition", "action", "wait"]},
              "trigger": {"type": "object"},
              "condition": {"type": "object"},
              "action": {"type": "object"},
              "wait": {"type": "object"},
              "next": {"type": "string"},
              "next_yes": {"type": "string"},
              "next_no": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

// AutomationValidator validates raw automation payloads against the embedded
// schema.
type AutomationValidator struct {
	compiled *jsonschema.Schema
}

func NewAutomationValidator() (*AutomationValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(automationSchema))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "parse automation schema").WithCause(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("automation.json", doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "register automation schema").WithCause(err)
	}
	compiled, err := compiler.Compile("automation.json")
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "compile automation schema").WithCause(err)
	}
	return &AutomationValidator{compiled: compiled}, nil
}

// Validate checks the raw payload, returning a VALIDATION error whose details
// list every violation path.
func (v *AutomationValidator) Validate(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "payload is not valid JSON").WithCause(err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return schema.NewError(schema.ErrCodeValidation, "payload failed validation").WithCause(err)
		}
		violations := collectViolations(ve)
		return schema.NewErrorf(schema.ErrCodeValidation, "payload failed validation: %s", strings.Join(violations, "; ")).
			WithDetails(map[string]any{"violations": violations})
	}
	return nil
}

// collectViolations walks the validation error tree and keeps the leaves,
// which carry the most specific paths.
func collectViolations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Error())}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

// DecodeDefinition unmarshals and structurally validates a definition in one
// step, combining schema and graph checks.
func DecodeDefinition(raw json.RawMessage) (*schema.AutomationDefinition, *GraphReport, error) {
	var def schema.AutomationDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "decode definition").WithCause(err)
	}
	report := CheckGraph(&def)
	if !report.Valid() {
		return nil, report, schema.NewErrorf(schema.ErrCodeValidation, "definition rejected: %s", strings.Join(report.Errors, "; ")).
			WithDetails(map[string]any{"errors": report.Errors})
	}
	return &def, report, nil
}
