package router

import (
	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/pipeline"
)

// maxPlanSteps caps how many steps a plan may carry; longer plans are
// treated as a planning failure.
const maxPlanSteps = 5

// plan is the payload of a plan_tasks tool call.
type plan struct {
	Steps []planStep `json:"steps"`
}

// planStep is one planned unit of work: which task type runs and what it
// should focus on.
type planStep struct {
	Task        string `json:"task"`
	Directions  string `json:"directions"`
	Criticality string `json:"criticality,omitempty"`
}

// planTasksTool is the single tool advertised to the routing specialist.
// The model plans by calling it; a reply without the call falls back to
// plain chat.
func planTasksTool(catalog []pipeline.TaskType) protocol.Tool {
	tasks := make([]string, len(catalog))
	for i, t := range catalog {
		tasks[i] = string(t)
	}
	return protocol.Tool{
		Name:        "plan_tasks",
		Description: "Decompose the user's message into an ordered list of tasks.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"steps": map[string]any{
					"type":        "array",
					"description": "Ordered tasks to run, earliest first.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"task": map[string]any{
								"type": "string",
								"enum": tasks,
							},
							"directions": map[string]any{
								"type":        "string",
								"description": "What this task should focus on.",
							},
							"criticality": map[string]any{
								"type": "string",
								"enum": []string{"blocking", "best_effort"},
							},
						},
						"required": []string{"task", "directions"},
					},
				},
			},
			"required": []string{"steps"},
		},
	}
}

// toPipeline validates a parsed plan against the advertisable catalog and
// converts it. Returns false when the plan is unusable.
func (p plan) toPipeline(catalog []pipeline.TaskType) (pipeline.Pipeline, bool) {
	if len(p.Steps) == 0 || len(p.Steps) > maxPlanSteps {
		return nil, false
	}
	known := make(map[pipeline.TaskType]bool, len(catalog))
	for _, t := range catalog {
		known[t] = true
	}

	out := make(pipeline.Pipeline, 0, len(p.Steps))
	for _, step := range p.Steps {
		t := pipeline.TaskType(step.Task)
		if !known[t] || step.Directions == "" {
			return nil, false
		}
		crit := pipeline.Blocking
		if step.Criticality == "best_effort" {
			crit = pipeline.BestEffort
		}
		out = append(out, pipeline.TaskSpec{
			Type:        t,
			Input:       step.Directions,
			Criticality: crit,
		})
	}
	return out, true
}
