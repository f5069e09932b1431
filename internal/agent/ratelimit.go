package agent

import (
	"context"
	"time"

	"github.com/drover-ai/drover/pkg/board"
)

// ActionClaim is the rate-limited action name for claim attempts.
const ActionClaim = "claim"

// RateLimiter throttles how often one agent instance may perform an action
// against the store. The budget lives in Redis (fixed windows), so restarts
// don't reset it and every instance is accounted for independently.
type RateLimiter struct {
	client     *board.Client
	instanceID string
	budget     int
	window     time.Duration
}

// NewRateLimiter creates a rate limiter for one agent instance.
// A budget of 10 with a one-minute window is the default claim policy.
func NewRateLimiter(client *board.Client, instanceID string, budget int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:     client,
		instanceID: instanceID,
		budget:     budget,
		window:     window,
	}
}

// Allow reports whether the action is still within budget for this instance.
// A false result with a nil error means throttled, which callers treat the
// same as a lost claim race.
func (r *RateLimiter) Allow(ctx context.Context, action string) (bool, error) {
	return r.client.CheckRateLimit(ctx, r.instanceID, action, r.budget, r.window)
}
