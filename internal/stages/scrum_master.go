package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/generator"
	"github.com/drover-ai/drover/pkg/board"
)

// ScrumMaster processes prd items, breaking them into story, bug and task
// children for the developer stage.
type ScrumMaster struct {
	gen generator.Generator
}

// NewScrumMaster creates the scrum_master stage processor.
func NewScrumMaster(gen generator.Generator) *ScrumMaster {
	return &ScrumMaster{gen: gen}
}

// AgentType returns the agent type this processor implements.
func (s *ScrumMaster) AgentType() string {
	return "scrum_master"
}

// breakdownOutput is the shape the generator must produce for this stage.
type breakdownOutput struct {
	Stories []storySpec `json:"stories"`
}

type storySpec struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`     // story (default), bug or task
	Priority    string `json:"priority,omitempty"` // empty inherits the PRD's priority
}

// developerTypes are the item types the breakdown may emit; they mirror the
// developer row of the stage routing table.
var developerTypes = map[string]bool{
	"story": true,
	"bug":   true,
	"task":  true,
}

// ProcessItem breaks a PRD into developer-ready work.
func (s *ScrumMaster) ProcessItem(ctx context.Context, item *board.WorkItem) (*agent.Result, error) {
	req := generator.Request{
		AgentType: s.AgentType(),
		Instructions: "Break the given PRD into independently deliverable stories. " +
			"Respond with JSON: {stories: [{title, description, type, priority}]}. " +
			"type is one of story, bug, task; priority is one of low, medium, high, critical or omitted.",
		Item:    item,
		Context: itemContext(item),
	}

	raw, err := s.gen.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generator call failed: %w", err)
	}

	var out breakdownOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, agent.Validationf("output is not valid JSON: %v", err)
	}

	if err := out.validate(); err != nil {
		return nil, err
	}

	children := make([]agent.ChildSpec, 0, len(out.Stories))
	storyTitles := make([]string, 0, len(out.Stories))
	for _, story := range out.Stories {
		childType := story.Type
		if childType == "" {
			childType = "story"
		}

		children = append(children, agent.ChildSpec{
			Title:       story.Title,
			Description: story.Description,
			Type:        childType,
			Priority:    board.Priority(story.Priority),
		})
		storyTitles = append(storyTitles, story.Title)
	}

	return &agent.Result{
		Output: map[string]any{
			"story_count": len(out.Stories),
			"stories":     storyTitles,
		},
		Children: children,
	}, nil
}

// validate checks the generated breakdown shape: at least one story, every
// story titled and described, types and priorities within range.
func (o *breakdownOutput) validate() error {
	if len(o.Stories) == 0 {
		return agent.Validationf("at least one story is required")
	}

	for i, story := range o.Stories {
		if story.Title == "" {
			return agent.Validationf("story %d has no title", i)
		}
		if story.Description == "" {
			return agent.Validationf("story %d has no description", i)
		}
		if story.Type != "" && !developerTypes[story.Type] {
			return agent.Validationf("story %d has unknown type %q", i, story.Type)
		}
		if story.Priority != "" {
			if err := board.Priority(story.Priority).Validate(); err != nil {
				return agent.Validationf("story %d: %v", i, err)
			}
		}
	}

	return nil
}
