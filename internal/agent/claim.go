package agent

import (
	"context"
	"log"
	"time"

	"github.com/drover-ai/drover/pkg/board"
)

// ClaimCoordinator discovers eligible work items and performs race-safe claim
// attempts with bounded retry. Many instances poll the same queues
// concurrently; the store's atomic claim primitive decides every race, and a
// lost race is never an error.
type ClaimCoordinator struct {
	client      *board.Client
	limiter     *RateLimiter
	agentType   string
	instanceID  string
	itemTypes   []string
	maxAttempts int
	fetchSize   int

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration)
}

// NewClaimCoordinator creates a claim coordinator for one agent instance.
// itemTypes is the agent's processable-type set from the stage routing table.
func NewClaimCoordinator(client *board.Client, limiter *RateLimiter, agentType, instanceID string, itemTypes []string, maxAttempts, fetchSize int) *ClaimCoordinator {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if fetchSize < 1 {
		fetchSize = 5
	}

	return &ClaimCoordinator{
		client:      client,
		limiter:     limiter,
		agentType:   agentType,
		instanceID:  instanceID,
		itemTypes:   itemTypes,
		maxAttempts: maxAttempts,
		fetchSize:   fetchSize,
		sleep:       sleepCtx,
	}
}

// FindCandidates returns up to limit claimable items for this agent: ready,
// unclaimed, of a processable type, highest priority first with ties broken
// by age. Side-effect free.
func (c *ClaimCoordinator) FindCandidates(ctx context.Context, limit int) ([]*board.WorkItem, error) {
	return c.client.MergeReady(ctx, c.itemTypes, limit)
}

// ClaimOne attempts to claim a single item. The rate limiter is consulted
// first: when the claim budget is exhausted the store is not contacted at
// all. Returns false for both throttled and lost-race outcomes.
func (c *ClaimCoordinator) ClaimOne(ctx context.Context, itemID string) (bool, error) {
	allowed, err := c.limiter.Allow(ctx, ActionClaim)
	if err != nil {
		return false, err
	}
	if !allowed {
		log.Printf("[Claim] instance=%s throttled, skipping claim of %s", c.instanceID, itemID)
		return false, nil
	}

	return c.client.Claim(ctx, itemID, c.agentType, c.instanceID)
}

// ClaimNext fetches candidates and tries to claim one, retrying the whole
// fetch+claim cycle on pure races. Returns (nil, nil) when there is no work:
// either no candidate exists (immediate) or every attempt lost its races
// (after backoff). The two-level retry bounds latency while tolerating
// contention among many concurrent instances.
func (c *ClaimCoordinator) ClaimNext(ctx context.Context) (*board.WorkItem, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		candidates, err := c.FindCandidates(ctx, c.fetchSize)
		if err != nil {
			return nil, err
		}

		// No eligible work at all: report no-work immediately, no retry.
		if len(candidates) == 0 {
			return nil, nil
		}

		for _, candidate := range candidates {
			claimed, err := c.ClaimOne(ctx, candidate.ID)
			if err != nil {
				return nil, err
			}
			if claimed {
				// Reflect the transition the store just made.
				candidate.Status = board.StatusInProgress
				candidate.AssignedAgent = c.agentType
				candidate.ClaimedByInstance = c.instanceID
				return candidate, nil
			}
		}

		// Candidates existed but every claim lost its race. Back off
		// linearly and re-fetch; the queue likely looks different now.
		if attempt < c.maxAttempts {
			c.sleep(ctx, time.Duration(attempt)*100*time.Millisecond)
		}
	}

	return nil, nil
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
