package board

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// metadata bags and ID arrays are JSON-encoded into single hash fields. This
// provides a balance between queryability (individual fields) and flexibility
// (complex structures).

// ItemToHash converts a WorkItem struct to a Redis hash format.
// The metadata bag is JSON-encoded.
func ItemToHash(w *WorkItem) (map[string]interface{}, error) {
	metadataJSON, err := json.Marshal(w.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	hash := map[string]interface{}{
		"id":                  w.ID,
		"project_id":          w.ProjectID,
		"parent_id":           w.ParentID,
		"title":               w.Title,
		"description":         w.Description,
		"type":                w.Type,
		"priority":            string(w.Priority),
		"status":              string(w.Status),
		"assigned_agent":      w.AssignedAgent,
		"claimed_by_instance": w.ClaimedByInstance,
		"metadata":            string(metadataJSON),
		"created_at_ms":       w.CreatedAtMs,
		"updated_at_ms":       w.UpdatedAtMs,
	}

	return hash, nil
}

// HashToItem converts a Redis hash to a WorkItem struct.
// JSON fields are decoded back to Go types.
func HashToItem(hash map[string]string) (*WorkItem, error) {
	var metadata map[string]any
	if metadataJSON := hash["metadata"]; metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	item := &WorkItem{
		ID:                hash["id"],
		ProjectID:         hash["project_id"],
		ParentID:          hash["parent_id"],
		Title:             hash["title"],
		Description:       hash["description"],
		Type:              hash["type"],
		Priority:          Priority(hash["priority"]),
		Status:            Status(hash["status"]),
		AssignedAgent:     hash["assigned_agent"],
		ClaimedByInstance: hash["claimed_by_instance"],
		Metadata:          metadata,
		CreatedAtMs:       createdAtMs,
		UpdatedAtMs:       updatedAtMs,
	}

	return item, nil
}

// InstanceToHash converts an AgentInstance struct to a Redis hash format.
func InstanceToHash(a *AgentInstance) map[string]interface{} {
	return map[string]interface{}{
		"id":              a.ID,
		"agent_type":      a.AgentType,
		"display_name":    a.DisplayName,
		"last_seen_at_ms": a.LastSeenAtMs,
		"active":          strconv.FormatBool(a.Active),
	}
}

// HashToInstance converts a Redis hash to an AgentInstance struct.
func HashToInstance(hash map[string]string) (*AgentInstance, error) {
	lastSeenAtMs, _ := strconv.ParseInt(hash["last_seen_at_ms"], 10, 64)
	active, _ := strconv.ParseBool(hash["active"])

	instance := &AgentInstance{
		ID:           hash["id"],
		AgentType:    hash["agent_type"],
		DisplayName:  hash["display_name"],
		LastSeenAtMs: lastSeenAtMs,
		Active:       active,
	}

	return instance, nil
}

// HandoffToHash converts a HandoffRecord struct to a Redis hash format.
// The target ID array and output payload are JSON-encoded.
func HandoffToHash(h *HandoffRecord) (map[string]interface{}, error) {
	targetsJSON, err := json.Marshal(h.TargetWorkItemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal target_work_item_ids: %w", err)
	}

	outputJSON, err := json.Marshal(h.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}

	hash := map[string]interface{}{
		"id":                   h.ID,
		"source_work_item_id":  h.SourceWorkItemID,
		"target_work_item_ids": string(targetsJSON),
		"agent_type":           h.AgentType,
		"output":               string(outputJSON),
		"validation_passed":    strconv.FormatBool(h.ValidationPassed),
		"created_at_ms":        h.CreatedAtMs,
	}

	return hash, nil
}

// HashToHandoff converts a Redis hash to a HandoffRecord struct.
func HashToHandoff(hash map[string]string) (*HandoffRecord, error) {
	var targets []string
	if targetsJSON := hash["target_work_item_ids"]; targetsJSON != "" {
		if err := json.Unmarshal([]byte(targetsJSON), &targets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target_work_item_ids: %w", err)
		}
	}
	if targets == nil {
		targets = []string{}
	}

	var output map[string]any
	if outputJSON := hash["output"]; outputJSON != "" && outputJSON != "null" {
		if err := json.Unmarshal([]byte(outputJSON), &output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	validationPassed, _ := strconv.ParseBool(hash["validation_passed"])
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	record := &HandoffRecord{
		ID:                hash["id"],
		SourceWorkItemID:  hash["source_work_item_id"],
		TargetWorkItemIDs: targets,
		AgentType:         hash["agent_type"],
		Output:            output,
		ValidationPassed:  validationPassed,
		CreatedAtMs:       createdAtMs,
	}

	return record, nil
}
