package board

import (
	"fmt"

	"github.com/google/uuid"
)

// WorkItem represents a typed, prioritized unit of work flowing through the
// pipeline. Items form a lineage forest via ParentID: every child created at
// handoff points back at the item it was derived from.
type WorkItem struct {
	ID                string         `json:"id"`                  // UUID - unique identifier for this item
	ProjectID         string         `json:"project_id"`          // UUID - project this item belongs to
	ParentID          string         `json:"parent_id,omitempty"` // UUID of the item this was derived from, empty for roots
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Type              string         `json:"type"`     // Open vocabulary: project_spec, feature, prd, story, bug, task, ...
	Priority          Priority       `json:"priority"` // Ordered: low < medium < high < critical
	Status            Status         `json:"status"`   // Ordered pipeline stage
	AssignedAgent     string         `json:"assigned_agent,omitempty"`      // Agent type currently holding the claim
	ClaimedByInstance string         `json:"claimed_by_instance,omitempty"` // Instance ID holding the claim
	Metadata          map[string]any `json:"metadata,omitempty"`            // Open bag for pipeline bookkeeping
	CreatedAtMs       int64          `json:"created_at_ms"`
	UpdatedAtMs       int64          `json:"updated_at_ms"`
}

// Status defines the pipeline stage of a work item. Transitions only move
// forward along the pipeline, except for explicit release which returns an
// in_progress item to ready.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusTesting    Status = "testing"
	StatusDone       Status = "done"
)

// statusRank orders statuses along the pipeline. Used to enforce the
// forward-only transition invariant.
var statusRank = map[Status]int{
	StatusBacklog:    0,
	StatusTodo:       1,
	StatusReady:      2,
	StatusInProgress: 3,
	StatusReview:     4,
	StatusTesting:    5,
	StatusDone:       6,
}

// Rank returns the position of the status along the pipeline, or -1 for an
// unknown status.
func (s Status) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	if _, ok := statusRank[s]; !ok {
		return fmt.Errorf("unknown status: %q", s)
	}
	return nil
}

// Priority defines the scheduling weight of a work item. Higher priorities
// are claimed first; ties break by age (oldest first).
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityWeight = map[Priority]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// Weight returns the numeric scheduling weight of the priority, or 0 for an
// unknown priority.
func (p Priority) Weight() int {
	return priorityWeight[p]
}

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	if _, ok := priorityWeight[p]; !ok {
		return fmt.Errorf("unknown priority: %q", p)
	}
	return nil
}

// AgentInstance represents one running agent process. Created at process
// start via registration, kept fresh by heartbeat, deactivated at graceful
// shutdown.
type AgentInstance struct {
	ID           string `json:"id"`         // UUID - unique identifier for this process
	AgentType    string `json:"agent_type"` // Declared type, e.g. "developer"
	DisplayName  string `json:"display_name"`
	LastSeenAtMs int64  `json:"last_seen_at_ms"`
	Active       bool   `json:"active"`
}

// HandoffRecord captures one completed handoff: the finished source item, the
// child items that were successfully created for the next stage, and the
// output the completing agent produced. Created exactly once per handoff.
// TargetWorkItemIDs lists only children whose insert succeeded; a partial
// handoff is visible as fewer targets than the processor requested.
type HandoffRecord struct {
	ID                string         `json:"id"`
	SourceWorkItemID  string         `json:"source_work_item_id"`
	TargetWorkItemIDs []string       `json:"target_work_item_ids"`
	AgentType         string         `json:"agent_type"`
	Output            map[string]any `json:"output,omitempty"`
	ValidationPassed  bool           `json:"validation_passed"`
	CreatedAtMs       int64          `json:"created_at_ms"`
}

// ActivityAction enumerates the audit trail entry kinds.
type ActivityAction string

const (
	ActionStarted    ActivityAction = "started"
	ActionProcessing ActivityAction = "processing"
	ActionCompleted  ActivityAction = "completed"
	ActionError      ActivityAction = "error"
	ActionHandedOff  ActivityAction = "handed_off"
)

// Validate checks if the ActivityAction is a valid enum value.
func (a ActivityAction) Validate() error {
	switch a {
	case ActionStarted, ActionProcessing, ActionCompleted, ActionError, ActionHandedOff:
		return nil
	default:
		return fmt.Errorf("unknown activity action: %q", a)
	}
}

// ActivityLogEntry is one line of the append-only audit trail for a work
// item. Entries are never mutated or deleted.
type ActivityLogEntry struct {
	ID          string         `json:"id"`
	WorkItemID  string         `json:"work_item_id"`
	AgentType   string         `json:"agent_type"`
	Action      ActivityAction `json:"action"`
	Details     string         `json:"details,omitempty"`
	Status      Status         `json:"status,omitempty"` // Item status at the time of the entry
	CreatedAtMs int64          `json:"created_at_ms"`
}

// Comment is a free-form note attached to a work item, primarily used by
// escalation to leave a reason a human can discover and act on.
type Comment struct {
	ID          string `json:"id"`
	WorkItemID  string `json:"work_item_id"`
	Author      string `json:"author"`
	Body        string `json:"body"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Validate checks if the WorkItem has valid field values.
func (w *WorkItem) Validate() error {
	if !isValidUUID(w.ID) {
		return fmt.Errorf("invalid work item ID: not a valid UUID")
	}

	if !isValidUUID(w.ProjectID) {
		return fmt.Errorf("invalid project ID: not a valid UUID")
	}

	if w.ParentID != "" && !isValidUUID(w.ParentID) {
		return fmt.Errorf("invalid parent ID: not a valid UUID")
	}

	if w.Title == "" {
		return fmt.Errorf("work item title cannot be empty")
	}

	if w.Type == "" {
		return fmt.Errorf("work item type cannot be empty")
	}

	if err := w.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority: %w", err)
	}

	if err := w.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	return nil
}

// Validate checks if the AgentInstance has valid field values.
func (a *AgentInstance) Validate() error {
	if !isValidUUID(a.ID) {
		return fmt.Errorf("invalid instance ID: not a valid UUID")
	}

	if a.AgentType == "" {
		return fmt.Errorf("agent type cannot be empty")
	}

	return nil
}

// Validate checks if the HandoffRecord has valid field values.
func (h *HandoffRecord) Validate() error {
	if !isValidUUID(h.ID) {
		return fmt.Errorf("invalid handoff ID: not a valid UUID")
	}

	if !isValidUUID(h.SourceWorkItemID) {
		return fmt.Errorf("invalid source work item ID: not a valid UUID")
	}

	for i, targetID := range h.TargetWorkItemIDs {
		if !isValidUUID(targetID) {
			return fmt.Errorf("invalid target work item at index %d: not a valid UUID", i)
		}
	}

	if h.AgentType == "" {
		return fmt.Errorf("agent type cannot be empty")
	}

	return nil
}

// Validate checks if the ActivityLogEntry has valid field values.
func (e *ActivityLogEntry) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid activity entry ID: not a valid UUID")
	}

	if !isValidUUID(e.WorkItemID) {
		return fmt.Errorf("invalid work item ID: not a valid UUID")
	}

	if err := e.Action.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	return nil
}

// Validate checks if the Comment has valid field values.
func (c *Comment) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid comment ID: not a valid UUID")
	}

	if !isValidUUID(c.WorkItemID) {
		return fmt.Errorf("invalid work item ID: not a valid UUID")
	}

	if c.Body == "" {
		return fmt.Errorf("comment body cannot be empty")
	}

	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// newID mints a new UUID string.
func newID() string {
	return uuid.New().String()
}
