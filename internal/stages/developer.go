package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/generator"
	"github.com/drover-ai/drover/pkg/board"
)

// Developer processes story, bug and task items into an implementation plan.
// This is the terminal stage: it creates no children.
type Developer struct {
	gen generator.Generator
}

// NewDeveloper creates the developer stage processor.
func NewDeveloper(gen generator.Generator) *Developer {
	return &Developer{gen: gen}
}

// AgentType returns the agent type this processor implements.
func (d *Developer) AgentType() string {
	return "developer"
}

// planOutput is the shape the generator must produce for this stage.
type planOutput struct {
	Summary string     `json:"summary"`
	Steps   []planStep `json:"steps"`
}

type planStep struct {
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// ProcessItem produces an implementation plan for one developer work item.
func (d *Developer) ProcessItem(ctx context.Context, item *board.WorkItem) (*agent.Result, error) {
	req := generator.Request{
		AgentType: d.AgentType(),
		Instructions: "Write an implementation plan for the given work item. " +
			"Respond with JSON: {summary, steps: [{description, files: [..]}]}. " +
			"Every step must name the files it touches.",
		Item:    item,
		Context: itemContext(item),
	}

	raw, err := d.gen.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generator call failed: %w", err)
	}

	var out planOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, agent.Validationf("output is not valid JSON: %v", err)
	}

	if err := out.validate(); err != nil {
		return nil, err
	}

	steps := make([]map[string]any, 0, len(out.Steps))
	for _, step := range out.Steps {
		steps = append(steps, map[string]any{
			"description": step.Description,
			"files":       step.Files,
		})
	}

	return &agent.Result{
		Output: map[string]any{
			"summary": out.Summary,
			"steps":   steps,
		},
		// Terminal stage: nothing to hand off to.
		Children: nil,
	}, nil
}

// validate checks the generated plan shape: a summary, at least one step,
// and the cross-field constraint that each step names at least one file.
func (o *planOutput) validate() error {
	if o.Summary == "" {
		return agent.Validationf("summary is required")
	}

	if len(o.Steps) == 0 {
		return agent.Validationf("at least one step is required")
	}

	for i, step := range o.Steps {
		if step.Description == "" {
			return agent.Validationf("step %d has no description", i)
		}
		if len(step.Files) == 0 {
			return agent.Validationf("step %d names no files", i)
		}
		for j, file := range step.Files {
			if file == "" {
				return agent.Validationf("step %d file %d is empty", i, j)
			}
		}
	}

	return nil
}

// Compile-time checks that every stage satisfies the processor contract.
var (
	_ agent.Processor = (*ProjectManager)(nil)
	_ agent.Processor = (*ScrumMaster)(nil)
	_ agent.Processor = (*Developer)(nil)
)
