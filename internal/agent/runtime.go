package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/pkg/board"
	"github.com/google/uuid"
)

// Runtime owns one agent process's lifecycle: registration, heartbeat
// scheduling, the poll-claim-process-complete loop, and graceful shutdown.
//
// States: Stopped -> Registering -> Polling <-> Processing -> Stopping -> Stopped.
// The loop is strictly sequential; the MaxConcurrent config knob is accepted
// but not enforced beyond the inherent one-item-at-a-time cycle. Shutdown is
// cooperative: an in-flight item finishes before the loop observes the stop
// flag, which is checked only between iterations and at the top of the
// per-item cycle.
type Runtime struct {
	client     *board.Client
	cfg        config.Agent
	agentType  string
	instance   *board.AgentInstance
	processor  Processor
	claims     *ClaimCoordinator
	handoff    *HandoffCoordinator
	escalation *EscalationManager

	pollInterval      time.Duration
	heartbeatInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// heldItemID tracks the item claimed by the loop but not yet concluded.
	// Only the run loop touches it. Cleared on handoff; also cleared on
	// escalation, because escalated items deliberately keep their claim for
	// human triage and must not be re-queued at shutdown.
	heldItemID string
}

// NewRuntime composes a runtime for one agent instance. The processor must
// match agentType; the routing table (cfg.ItemTypes) defines what the
// instance is allowed to claim.
func NewRuntime(client *board.Client, agentType string, cfg config.Agent, processor Processor) *Runtime {
	instance := &board.AgentInstance{
		ID:          uuid.New().String(),
		AgentType:   agentType,
		DisplayName: cfg.DisplayName,
		Active:      true,
	}

	limiter := NewRateLimiter(client, instance.ID, cfg.ClaimBudget,
		time.Duration(cfg.ClaimWindowMins)*time.Minute)

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	heartbeatInterval := time.Duration(cfg.HeartbeatSecs) * time.Second
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}

	return &Runtime{
		client:            client,
		cfg:               cfg,
		agentType:         agentType,
		instance:          instance,
		processor:         processor,
		claims:            NewClaimCoordinator(client, limiter, agentType, instance.ID, cfg.ItemTypes, cfg.MaxClaimAttempts, cfg.CandidateFetch),
		handoff:           NewHandoffCoordinator(client, agentType),
		escalation:        NewEscalationManager(client, agentType),
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
		stopCh:            make(chan struct{}),
	}
}

// InstanceID returns the identity this runtime registered with the store.
func (r *Runtime) InstanceID() string {
	return r.instance.ID
}

// Run registers the instance and drives the poll-claim-process loop until
// Stop() is called or the context is cancelled. A failed registration is the
// only fatal startup error; per-item failures never terminate the loop.
func (r *Runtime) Run(ctx context.Context) error {
	// Registering
	r.instance.LastSeenAtMs = time.Now().UnixMilli()
	if err := r.client.RegisterInstance(ctx, r.instance); err != nil {
		return fmt.Errorf("failed to register agent instance: %w", err)
	}

	log.Printf("[Runtime] agent=%s instance=%s registered, polling every %s",
		r.agentType, r.instance.ID, r.pollInterval)

	// Heartbeat runs on its own timer, independent of the main loop, for the
	// whole life of the process.
	hbCtx, hbCancel := context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.heartbeatLoop(hbCtx)

	for {
		if r.stopping(ctx) {
			break
		}

		// Polling
		item, err := r.claims.ClaimNext(ctx)
		if err != nil {
			log.Printf("[Runtime] agent=%s claim cycle failed: %v", r.agentType, err)
			r.sleepPoll(ctx)
			continue
		}

		if item == nil {
			r.sleepPoll(ctx)
			continue
		}

		r.heldItemID = item.ID

		// Top of the per-item cycle: a stop signal between claim and
		// processing releases the claim instead of starting work.
		if r.stopping(ctx) {
			break
		}

		// Processing
		r.processItem(ctx, item)
	}

	// Stopping
	log.Printf("[Runtime] agent=%s instance=%s stopping", r.agentType, r.instance.ID)
	hbCancel()
	r.wg.Wait()
	r.teardown()

	return nil
}

// Stop signals the run loop to shut down. Safe to call multiple times and
// from any goroutine; the in-flight item (if any) finishes first.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// stopping reports whether a shutdown signal has been observed.
func (r *Runtime) stopping(ctx context.Context) bool {
	select {
	case <-r.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// processItem runs one claimed item through its stage processor and concludes
// it: handoff on success, escalation on any failure. Panics are recovered and
// treated as processing failures; nothing here ever crashes the loop.
func (r *Runtime) processItem(ctx context.Context, item *board.WorkItem) {
	r.logActivity(ctx, item.ID, board.ActionStarted, "processing started", board.StatusInProgress)
	r.logEvent("item_started", map[string]interface{}{
		"item_id":   item.ID,
		"item_type": item.Type,
	})

	result, err := r.safeProcess(ctx, item)
	if err == nil {
		createdIDs, handoffErr := r.handoff.CompleteAndHandoff(ctx, item.ID, result)
		if handoffErr != nil {
			err = handoffErr
		} else {
			r.logActivity(ctx, item.ID, board.ActionCompleted,
				fmt.Sprintf("completed, %d children created", len(createdIDs)), board.StatusDone)
			r.logEvent("item_completed", map[string]interface{}{
				"item_id":     item.ID,
				"child_count": len(createdIDs),
			})
			r.heldItemID = ""
			return
		}
	}

	// Failure path: one error entry, one escalation. Processing failures keep
	// the claim so a human triages the item. A handoff failure may land here
	// after the parent update applied, in which case the item is already done
	// and unclaimed; it still gets flagged so the incomplete handoff (missing
	// children, activity entry or record) is surfaced rather than silent.
	reason := err.Error()
	r.logActivity(ctx, item.ID, board.ActionError, reason, board.StatusInProgress)
	if escErr := r.escalation.Escalate(ctx, item.ID, reason); escErr != nil {
		log.Printf("[Runtime] agent=%s failed to escalate %s: %v", r.agentType, item.ID, escErr)
	}
	r.logEvent("item_escalated", map[string]interface{}{
		"item_id": item.ID,
		"reason":  reason,
	})
	r.heldItemID = ""
}

// safeProcess invokes the stage processor, converting panics into errors so
// an exploding processor cannot take the loop down with it.
func (r *Runtime) safeProcess(ctx context.Context, item *board.WorkItem) (result *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("processor panic: %v", p)
		}
	}()

	result, err = r.processor.ProcessItem(ctx, item)
	if err == nil && result == nil {
		err = fmt.Errorf("processor returned no result")
	}
	return result, err
}

// heartbeatLoop refreshes the instance's last-seen timestamp on a fixed
// interval. Heartbeat failures are logged and swallowed, never fatal, and
// never block the main loop.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(ctx, r.instance.ID); err != nil {
				log.Printf("[Runtime] agent=%s heartbeat failed: %v", r.agentType, err)
			}
		}
	}
}

// sleepPoll waits out the poll interval, returning early on shutdown.
func (r *Runtime) sleepPoll(ctx context.Context) {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	select {
	case <-r.stopCh:
	case <-ctx.Done():
	case <-timer.C:
	}
}

// teardown releases the held item (at most one) and deactivates the instance
// registration. Runs exactly once per Run, on the way out.
func (r *Runtime) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.heldItemID != "" {
		released, err := r.client.Release(ctx, r.heldItemID, r.instance.ID, "agent shutting down")
		if err != nil {
			log.Printf("[Runtime] agent=%s failed to release %s at shutdown: %v", r.agentType, r.heldItemID, err)
		} else if released {
			log.Printf("[Runtime] agent=%s released %s at shutdown", r.agentType, r.heldItemID)
		}
		r.heldItemID = ""
	}

	if _, err := r.client.DeactivateInstance(ctx, r.instance.ID); err != nil {
		log.Printf("[Runtime] agent=%s failed to deactivate instance: %v", r.agentType, err)
	}
}

// logActivity appends an audit trail entry, swallowing store errors: a
// missing audit line is never worth crashing the loop over.
func (r *Runtime) logActivity(ctx context.Context, itemID string, action board.ActivityAction, details string, status board.Status) {
	entry := &board.ActivityLogEntry{
		ID:          uuid.New().String(),
		WorkItemID:  itemID,
		AgentType:   r.agentType,
		Action:      action,
		Details:     details,
		Status:      status,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	if err := r.client.AppendActivity(ctx, entry); err != nil {
		log.Printf("[Runtime] agent=%s failed to append %s activity for %s: %v",
			r.agentType, action, itemID, err)
	}
}

// logEvent logs a structured event in JSON format.
func (r *Runtime) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "runtime"
	data["event_type"] = eventType
	data["agent_type"] = r.agentType
	data["instance"] = r.instance.ID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Runtime] failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
