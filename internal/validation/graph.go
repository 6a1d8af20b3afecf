// Package validation checks automation definitions before they are stored.
package validation

import (
	"fmt"
	"sort"

	"github.com/driprun/driprun/pkg/schema"
)

// GraphReport lists structural problems in a definition. Errors block the
// write; Warnings do not (a reachable cycle is legal, the run ceiling bounds
// it at execution time).
type GraphReport struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *GraphReport) Valid() bool { return len(r.Errors) == 0 }

// CheckGraph validates the step graph: step IDs consistent, every step's
// kind agrees with its config, edge targets exist, edge fields match the
// kind, at least one trigger, and cycles flagged as warnings.
func CheckGraph(def *schema.AutomationDefinition) *GraphReport {
	report := &GraphReport{}
	if def == nil || len(def.Steps) == 0 {
		report.Errors = append(report.Errors, "definition has no steps")
		return report
	}

	ids := make([]string, 0, len(def.Steps))
	for id := range def.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	triggers := 0
	for _, id := range ids {
		step := def.Steps[id]
		if step == nil {
			report.Errors = append(report.Errors, fmt.Sprintf("step %q is null", id))
			continue
		}
		if step.ID != id {
			report.Errors = append(report.Errors, fmt.Sprintf("step keyed %q declares id %q", id, step.ID))
		}
		if step.Kind == schema.StepKindTrigger {
			triggers++
		}
		checkStepConfig(report, step)
		checkStepEdges(report, def, step)
	}
	if triggers == 0 {
		report.Errors = append(report.Errors, "definition has no trigger step")
	}

	if len(report.Errors) == 0 {
		for _, cycle := range findCycles(def, ids) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("cycle through step %q", cycle))
		}
	}
	return report
}

func checkStepConfig(report *GraphReport, step *schema.Step) {
	if !step.Kind.IsValid() {
		report.Errors = append(report.Errors, fmt.Sprintf("step %q has unknown kind %q", step.ID, step.Kind))
		return
	}
	if _, err := step.Config(); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}

	// Exactly one config payload may be present.
	set := 0
	for _, present := range []bool{step.Trigger != nil, step.Condition != nil, step.Action != nil, step.Wait != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		report.Errors = append(report.Errors, fmt.Sprintf("step %q carries more than one config payload", step.ID))
	}
}

func checkStepEdges(report *GraphReport, def *schema.AutomationDefinition, step *schema.Step) {
	isCondition := step.Kind == schema.StepKindCondition

	if isCondition {
		if step.Next != "" {
			report.Errors = append(report.Errors, fmt.Sprintf("condition step %q must use next_yes/next_no, not next", step.ID))
		}
	} else {
		if step.NextYes != "" || step.NextNo != "" {
			report.Errors = append(report.Errors, fmt.Sprintf("step %q may not use next_yes/next_no", step.ID))
		}
	}

	for _, target := range step.Edges() {
		dest, ok := def.Steps[target]
		if !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("step %q points at missing step %q", step.ID, target))
			continue
		}
		if dest != nil && dest.Kind == schema.StepKindTrigger {
			report.Errors = append(report.Errors, fmt.Sprintf("step %q points at trigger step %q", step.ID, target))
		}
	}
}

// findCycles returns one representative step ID per cycle found by DFS.
func findCycles(def *schema.AutomationDefinition, ids []string) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(def.Steps))
	var cycles []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = inStack
		step := def.Steps[id]
		if step != nil {
			for _, target := range step.Edges() {
				switch state[target] {
				case unvisited:
					visit(target)
				case inStack:
					cycles = append(cycles, target)
				}
			}
		}
		state[id] = done
	}

	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles
}
