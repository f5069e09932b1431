package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/drover-ai/drover/pkg/board"
)

// Processor is the per-stage work contract. Each agent type implements one:
// given a claimed work item, produce a structured output and zero or more
// child item specifications, or fail. Implementations validate the shape of
// whatever they produce before returning; a shape failure is reported as a
// *ValidationError so the runtime escalates instead of handing off.
type Processor interface {
	// AgentType returns the agent type this processor implements.
	AgentType() string

	// ProcessItem processes one claimed work item.
	ProcessItem(ctx context.Context, item *board.WorkItem) (*Result, error)
}

// Result is what a successful processing run hands to the HandoffCoordinator.
type Result struct {
	Output   map[string]any // Opaque structured output, recorded on the handoff
	Children []ChildSpec    // Specs for next-stage items, may be empty (terminal stage)
}

// ChildSpec describes one child work item to create at handoff. ProjectID,
// ParentID and lineage are filled in by the HandoffCoordinator; an empty
// Priority inherits the parent's.
type ChildSpec struct {
	Title       string
	Description string
	Type        string
	Priority    board.Priority
	Metadata    map[string]any
}

// ValidationError reports that generated output failed its shape or
// consistency checks. It is a local, recoverable condition: the runtime
// routes it to escalation and never hands the item off.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("output validation failed: %s", e.Reason)
}

// Validationf builds a *ValidationError from a format string.
func Validationf(format string, a ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, a...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
