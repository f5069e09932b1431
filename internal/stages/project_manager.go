package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/generator"
	"github.com/drover-ai/drover/pkg/board"
)

// ProjectManager processes project_spec and feature items into a product
// requirements document (PRD), handing off one prd child for the
// scrum_master stage.
type ProjectManager struct {
	gen generator.Generator
}

// NewProjectManager creates the project_manager stage processor.
func NewProjectManager(gen generator.Generator) *ProjectManager {
	return &ProjectManager{gen: gen}
}

// AgentType returns the agent type this processor implements.
func (p *ProjectManager) AgentType() string {
	return "project_manager"
}

// prdOutput is the shape the generator must produce for this stage.
type prdOutput struct {
	Summary        string   `json:"summary"`
	Requirements   []string `json:"requirements"`
	PRDTitle       string   `json:"prd_title"`
	PRDDescription string   `json:"prd_description"`
}

// ProcessItem turns a project spec or feature request into a PRD.
func (p *ProjectManager) ProcessItem(ctx context.Context, item *board.WorkItem) (*agent.Result, error) {
	req := generator.Request{
		AgentType: p.AgentType(),
		Instructions: "Write a product requirements document for the given work item. " +
			"Respond with JSON: {summary, requirements: [..], prd_title, prd_description}. " +
			"List every functional requirement separately.",
		Item:    item,
		Context: itemContext(item),
	}

	raw, err := p.gen.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generator call failed: %w", err)
	}

	var out prdOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, agent.Validationf("output is not valid JSON: %v", err)
	}

	if err := out.validate(); err != nil {
		return nil, err
	}

	title := out.PRDTitle
	if title == "" {
		title = "PRD: " + item.Title
	}

	return &agent.Result{
		Output: map[string]any{
			"summary":      out.Summary,
			"requirements": out.Requirements,
		},
		Children: []agent.ChildSpec{
			{
				Title:       title,
				Description: out.PRDDescription,
				Type:        "prd",
			},
		},
	}, nil
}

// validate checks the generated PRD shape: a summary and at least one
// non-empty requirement.
func (o *prdOutput) validate() error {
	if o.Summary == "" {
		return agent.Validationf("summary is required")
	}

	if len(o.Requirements) == 0 {
		return agent.Validationf("at least one requirement is required")
	}

	for i, requirement := range o.Requirements {
		if requirement == "" {
			return agent.Validationf("requirement %d is empty", i)
		}
	}

	return nil
}
