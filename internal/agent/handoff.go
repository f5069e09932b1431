package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/drover-ai/drover/pkg/board"
	"github.com/google/uuid"
)

// HandoffCoordinator finalizes a completed item and spawns its typed children
// for the next pipeline stage, preserving lineage. The parent update, child
// inserts and the two records are separate store operations with no
// all-or-nothing guarantee: a failed child insert is logged and skipped, and
// the resulting HandoffRecord simply references fewer targets than requested.
type HandoffCoordinator struct {
	client    *board.Client
	agentType string
}

// NewHandoffCoordinator creates a handoff coordinator for one agent type.
func NewHandoffCoordinator(client *board.Client, agentType string) *HandoffCoordinator {
	return &HandoffCoordinator{
		client:    client,
		agentType: agentType,
	}
}

// CompleteAndHandoff completes a work item and creates its children.
//
// Steps:
//  1. Re-load the item; fail if absent.
//  2. Mark it done, clear the claim, merge completion metadata.
//  3. Insert one ready child per spec with inherited project, priority and
//     lineage. Child failures are logged and skipped, never retried, and do
//     not abort the remaining children or the already-applied parent update.
//  4. Append one handed_off activity entry with the created child count.
//  5. Create one HandoffRecord referencing only the created child ids.
//
// Returns the ids of the children that were actually created.
func (h *HandoffCoordinator) CompleteAndHandoff(ctx context.Context, itemID string, result *Result) ([]string, error) {
	item, err := h.client.GetItem(ctx, itemID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, fmt.Errorf("work item %s not found", itemID)
		}
		return nil, err
	}

	now := time.Now().UnixMilli()

	// Complete the parent: terminal status, claim released, completion
	// metadata merged. Children carry the pipeline forward from here.
	item.Status = board.StatusDone
	item.AssignedAgent = ""
	item.ClaimedByInstance = ""
	item.UpdatedAtMs = now
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Metadata["output"] = result.Output
	item.Metadata["completed_by_agent"] = h.agentType
	item.Metadata["completed_at_ms"] = now

	if err := h.client.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to complete work item: %w", err)
	}

	createdIDs := make([]string, 0, len(result.Children))
	for i, spec := range result.Children {
		child := h.buildChild(item, spec, result.Output)

		if err := h.client.CreateItem(ctx, child); err != nil {
			// Documented partial-failure behavior: skip, don't retry,
			// don't abort the rest.
			log.Printf("[Handoff] failed to create child %d of %s: %v", i, item.ID, err)
			continue
		}

		createdIDs = append(createdIDs, child.ID)
	}

	entry := &board.ActivityLogEntry{
		ID:          uuid.New().String(),
		WorkItemID:  item.ID,
		AgentType:   h.agentType,
		Action:      board.ActionHandedOff,
		Details:     fmt.Sprintf("child_count=%d children=%v", len(createdIDs), createdIDs),
		Status:      item.Status,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if err := h.client.AppendActivity(ctx, entry); err != nil {
		return createdIDs, fmt.Errorf("failed to record handoff activity: %w", err)
	}

	record := &board.HandoffRecord{
		ID:                uuid.New().String(),
		SourceWorkItemID:  item.ID,
		TargetWorkItemIDs: createdIDs,
		AgentType:         h.agentType,
		Output:            result.Output,
		ValidationPassed:  true, // the processor validated before calling us
		CreatedAtMs:       time.Now().UnixMilli(),
	}
	if err := h.client.CreateHandoff(ctx, record); err != nil {
		return createdIDs, fmt.Errorf("failed to record handoff: %w", err)
	}

	return createdIDs, nil
}

// buildChild materializes one child work item from its spec, inheriting
// project, priority and lineage from the parent.
func (h *HandoffCoordinator) buildChild(parent *board.WorkItem, spec ChildSpec, parentOutput map[string]any) *board.WorkItem {
	priority := spec.Priority
	if priority == "" {
		priority = parent.Priority
	}

	metadata := make(map[string]any, len(spec.Metadata)+2)
	for k, v := range spec.Metadata {
		metadata[k] = v
	}
	metadata["created_by_agent"] = h.agentType
	metadata["parent_output"] = parentOutput

	// Creator and visibility lineage carry through the pipeline when the
	// parent has them.
	for _, key := range []string{"created_by", "visibility"} {
		if v, ok := parent.Metadata[key]; ok {
			if _, set := metadata[key]; !set {
				metadata[key] = v
			}
		}
	}

	now := time.Now().UnixMilli()

	return &board.WorkItem{
		ID:          uuid.New().String(),
		ProjectID:   parent.ProjectID,
		ParentID:    parent.ID,
		Title:       spec.Title,
		Description: spec.Description,
		Type:        spec.Type,
		Priority:    priority,
		Status:      board.StatusReady, // immediately claimable by the next stage
		Metadata:    metadata,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
}
