package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/drover-ai/drover/pkg/board"
	"github.com/google/uuid"
)

// EscalationManager marks a work item as requiring human attention after a
// validation or processing failure. The item is never deleted or completed:
// it keeps its claim and gains an escalation comment plus metadata flags, so
// a human can find it and it cannot re-enter the ready queue in a tight loop.
type EscalationManager struct {
	client    *board.Client
	agentType string
}

// NewEscalationManager creates an escalation manager for one agent type.
func NewEscalationManager(client *board.Client, agentType string) *EscalationManager {
	return &EscalationManager{
		client:    client,
		agentType: agentType,
	}
}

// Escalate records the failure reason on the item so a human can discover and
// act on it. Status and claim are left exactly as found: a processing failure
// stays in_progress and claimed (releasing it would put it straight back in
// front of the same failure path), and a post-completion handoff failure
// stays done.
func (e *EscalationManager) Escalate(ctx context.Context, itemID, reason string) error {
	item, err := e.client.GetItem(ctx, itemID)
	if err != nil {
		if board.IsNotFound(err) {
			return fmt.Errorf("work item %s not found", itemID)
		}
		return err
	}

	now := time.Now().UnixMilli()

	comment := &board.Comment{
		ID:          uuid.New().String(),
		WorkItemID:  item.ID,
		Author:      e.agentType,
		Body:        fmt.Sprintf("needs human attention: %s", reason),
		CreatedAtMs: now,
	}
	if err := e.client.AddComment(ctx, comment); err != nil {
		return fmt.Errorf("failed to record escalation comment: %w", err)
	}

	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Metadata["escalated"] = true
	item.Metadata["escalation_reason"] = reason
	item.Metadata["escalated_at_ms"] = now
	item.UpdatedAtMs = now

	if err := e.client.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to flag escalated item: %w", err)
	}

	return nil
}
