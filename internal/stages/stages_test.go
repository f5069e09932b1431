package stages

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/generator"
	"github.com/drover-ai/drover/pkg/board"
)

// stubGenerator returns a canned payload (or error) and records the request.
type stubGenerator struct {
	output  string
	err     error
	lastReq generator.Request
}

func (s *stubGenerator) Generate(ctx context.Context, req generator.Request) (json.RawMessage, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.output), nil
}

func testItem(itemType string) *board.WorkItem {
	return &board.WorkItem{
		ID:          uuid.New().String(),
		ProjectID:   uuid.New().String(),
		Title:       "Build billing",
		Description: "Monthly invoicing for all plans",
		Type:        itemType,
		Priority:    board.PriorityHigh,
		Status:      board.StatusInProgress,
		Metadata:    map[string]any{},
	}
}

func TestNew(t *testing.T) {
	gen := &stubGenerator{}

	for _, agentType := range []string{"project_manager", "scrum_master", "developer"} {
		proc, err := New(agentType, gen)
		require.NoError(t, err)
		assert.Equal(t, agentType, proc.AgentType())
	}

	_, err := New("reviewer", gen)
	assert.Error(t, err)
}

func TestItemContext(t *testing.T) {
	item := testItem("story")
	item.ParentID = uuid.New().String()
	item.Metadata["parent_output"] = map[string]any{"summary": "upstream"}

	ctx := itemContext(item)
	assert.Equal(t, item.Title, ctx["title"])
	assert.Equal(t, "high", ctx["priority"])
	assert.Equal(t, item.ParentID, ctx["parent_id"])
	assert.NotNil(t, ctx["parent_output"])

	orphan := testItem("project_spec")
	ctx = itemContext(orphan)
	_, hasParent := ctx["parent_id"]
	assert.False(t, hasParent)
}

func TestProjectManager(t *testing.T) {
	ctx := context.Background()

	t.Run("produces one prd child", func(t *testing.T) {
		gen := &stubGenerator{output: `{
			"summary": "Billing overview",
			"requirements": ["Generate invoices monthly", "Support proration"],
			"prd_title": "Billing PRD",
			"prd_description": "Full billing requirements"
		}`}

		result, err := NewProjectManager(gen).ProcessItem(ctx, testItem("project_spec"))
		require.NoError(t, err)
		require.Len(t, result.Children, 1)
		assert.Equal(t, "prd", result.Children[0].Type)
		assert.Equal(t, "Billing PRD", result.Children[0].Title)
		assert.Equal(t, "Billing overview", result.Output["summary"])
	})

	t.Run("defaults the prd title from the item", func(t *testing.T) {
		gen := &stubGenerator{output: `{
			"summary": "s",
			"requirements": ["r"],
			"prd_description": "d"
		}`}

		item := testItem("feature")
		result, err := NewProjectManager(gen).ProcessItem(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, "PRD: "+item.Title, result.Children[0].Title)
	})

	t.Run("rejects missing summary", func(t *testing.T) {
		gen := &stubGenerator{output: `{"requirements": ["r"]}`}
		_, err := NewProjectManager(gen).ProcessItem(ctx, testItem("project_spec"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
		assert.Contains(t, err.Error(), "summary is required")
	})

	t.Run("rejects empty requirements", func(t *testing.T) {
		gen := &stubGenerator{output: `{"summary": "s", "requirements": []}`}
		_, err := NewProjectManager(gen).ProcessItem(ctx, testItem("project_spec"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		gen := &stubGenerator{output: `not json`}
		_, err := NewProjectManager(gen).ProcessItem(ctx, testItem("project_spec"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
	})

	t.Run("wraps generator failures", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("connection refused")}
		_, err := NewProjectManager(gen).ProcessItem(ctx, testItem("project_spec"))
		require.Error(t, err)
		assert.False(t, agent.IsValidationError(err))
		assert.Contains(t, err.Error(), "generator call failed")
	})
}

func TestScrumMaster(t *testing.T) {
	ctx := context.Background()

	t.Run("breaks a prd into typed children", func(t *testing.T) {
		gen := &stubGenerator{output: `{"stories": [
			{"title": "Invoice model", "description": "d1"},
			{"title": "Proration bug", "description": "d2", "type": "bug", "priority": "critical"},
			{"title": "Backfill script", "description": "d3", "type": "task"}
		]}`}

		result, err := NewScrumMaster(gen).ProcessItem(ctx, testItem("prd"))
		require.NoError(t, err)
		require.Len(t, result.Children, 3)

		assert.Equal(t, "story", result.Children[0].Type, "type defaults to story")
		assert.Equal(t, board.Priority(""), result.Children[0].Priority, "empty priority inherits downstream")
		assert.Equal(t, "bug", result.Children[1].Type)
		assert.Equal(t, board.PriorityCritical, result.Children[1].Priority)
		assert.Equal(t, "task", result.Children[2].Type)

		assert.Equal(t, 3, result.Output["story_count"])
	})

	t.Run("rejects an empty breakdown", func(t *testing.T) {
		gen := &stubGenerator{output: `{"stories": []}`}
		_, err := NewScrumMaster(gen).ProcessItem(ctx, testItem("prd"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
	})

	t.Run("rejects untitled stories", func(t *testing.T) {
		gen := &stubGenerator{output: `{"stories": [{"description": "d"}]}`}
		_, err := NewScrumMaster(gen).ProcessItem(ctx, testItem("prd"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
		assert.Contains(t, err.Error(), "story 0 has no title")
	})

	t.Run("rejects types outside the developer stage", func(t *testing.T) {
		gen := &stubGenerator{output: `{"stories": [{"title": "t", "description": "d", "type": "epic"}]}`}
		_, err := NewScrumMaster(gen).ProcessItem(ctx, testItem("prd"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
		assert.Contains(t, err.Error(), "unknown type")
	})

	t.Run("rejects invalid priorities", func(t *testing.T) {
		gen := &stubGenerator{output: `{"stories": [{"title": "t", "description": "d", "priority": "urgent"}]}`}
		_, err := NewScrumMaster(gen).ProcessItem(ctx, testItem("prd"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
	})
}

func TestDeveloper(t *testing.T) {
	ctx := context.Background()

	t.Run("produces a plan with no children", func(t *testing.T) {
		gen := &stubGenerator{output: `{
			"summary": "Add invoice model and endpoints",
			"steps": [
				{"description": "Define schema", "files": ["internal/billing/invoice.go"]},
				{"description": "Wire handlers", "files": ["internal/api/invoices.go", "internal/api/routes.go"]}
			]
		}`}

		result, err := NewDeveloper(gen).ProcessItem(ctx, testItem("story"))
		require.NoError(t, err)
		assert.Empty(t, result.Children)
		assert.Equal(t, "Add invoice model and endpoints", result.Output["summary"])

		steps, ok := result.Output["steps"].([]map[string]any)
		require.True(t, ok)
		assert.Len(t, steps, 2)
	})

	t.Run("rejects a step that names no files", func(t *testing.T) {
		gen := &stubGenerator{output: `{
			"summary": "s",
			"steps": [{"description": "Define schema", "files": []}]
		}`}

		_, err := NewDeveloper(gen).ProcessItem(ctx, testItem("story"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
		assert.Contains(t, err.Error(), "names no files")
	})

	t.Run("rejects an empty plan", func(t *testing.T) {
		gen := &stubGenerator{output: `{"summary": "s", "steps": []}`}
		_, err := NewDeveloper(gen).ProcessItem(ctx, testItem("story"))
		require.Error(t, err)
		assert.True(t, agent.IsValidationError(err))
	})

	t.Run("passes the item context to the generator", func(t *testing.T) {
		gen := &stubGenerator{output: `{"summary": "s", "steps": [{"description": "d", "files": ["f"]}]}`}
		item := testItem("story")
		item.Metadata["parent_output"] = map[string]any{"summary": "prd summary"}

		_, err := NewDeveloper(gen).ProcessItem(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, "developer", gen.lastReq.AgentType)
		assert.Equal(t, item.ID, gen.lastReq.Item.ID)
		assert.NotNil(t, gen.lastReq.Context["parent_output"])
	})
}
