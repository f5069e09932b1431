// Package stages implements the concrete stage processors for the standard
// Drover pipeline: project_manager turns project specs into PRDs,
// scrum_master breaks PRDs into stories, and developer produces
// implementation plans. Every processor delegates content generation to the
// external generator and validates the shape of what comes back before a
// handoff is allowed.
package stages

import (
	"fmt"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/generator"
	"github.com/drover-ai/drover/pkg/board"
)

// New returns the processor for an agent type, or an error for a type with no
// stage implementation.
func New(agentType string, gen generator.Generator) (agent.Processor, error) {
	switch agentType {
	case "project_manager":
		return NewProjectManager(gen), nil
	case "scrum_master":
		return NewScrumMaster(gen), nil
	case "developer":
		return NewDeveloper(gen), nil
	default:
		return nil, fmt.Errorf("no stage processor for agent type %q", agentType)
	}
}

// itemContext assembles the supporting context a generator call needs: the
// item's own description plus whatever the previous stage handed down.
func itemContext(item *board.WorkItem) map[string]any {
	context := map[string]any{
		"title":       item.Title,
		"description": item.Description,
		"type":        item.Type,
		"priority":    string(item.Priority),
	}

	if parentOutput, ok := item.Metadata["parent_output"]; ok {
		context["parent_output"] = parentOutput
	}
	if item.ParentID != "" {
		context["parent_id"] = item.ParentID
	}

	return context
}
