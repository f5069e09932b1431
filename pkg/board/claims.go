package board

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Atomic coordination primitives
//
// Claiming, releasing and rate limiting are implemented as server-side Lua
// scripts so each conditional transition is a single atomic round trip. The
// scripts are the only cross-instance coordination points in Drover: many
// agent processes race on the same ready queue and Redis decides the winner.

// claimScript conditionally transitions a work item ready->in_progress.
// Succeeds only if the item is still in the ready status and unclaimed.
// On success it records the claiming agent type and instance and removes the
// item from its ready queue.
//
// KEYS[1] = item hash, KEYS[2] = ready queue ZSET
// ARGV[1] = agent type, ARGV[2] = instance ID, ARGV[3] = now (unix ms), ARGV[4] = item ID
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'ready' then
	return 0
end
local owner = redis.call('HGET', KEYS[1], 'claimed_by_instance')
if owner and owner ~= '' then
	return 0
end
redis.call('HSET', KEYS[1],
	'status', 'in_progress',
	'assigned_agent', ARGV[1],
	'claimed_by_instance', ARGV[2],
	'updated_at_ms', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[4])
return 1
`)

// releaseScript conditionally transitions a work item in_progress->ready.
// Succeeds only if the item is still held by the releasing instance. On
// success it clears ownership and re-enqueues the item at its original
// queue position score.
//
// KEYS[1] = item hash, KEYS[2] = ready queue ZSET
// ARGV[1] = instance ID, ARGV[2] = now (unix ms), ARGV[3] = queue score, ARGV[4] = item ID
var releaseScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'claimed_by_instance')
if owner ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1],
	'status', 'ready',
	'assigned_agent', '',
	'claimed_by_instance', '',
	'updated_at_ms', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// rateLimitScript increments a fixed-window counter and reports whether the
// action is still within budget. The counter expires with its window so idle
// instances leave no residue.
//
// KEYS[1] = window counter
// ARGV[1] = limit, ARGV[2] = window TTL seconds
var rateLimitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

// Claim attempts to atomically claim a ready work item for one agent instance.
// Returns (false, nil) if the item is not ready or another instance already
// holds it: a lost race is an expected, benign outcome, never an error.
func (c *Client) Claim(ctx context.Context, itemID, agentType, instanceID string) (bool, error) {
	// The queue key depends on the item type, which only the hash knows.
	itemType, err := c.rdb.HGet(ctx, ItemKey(c.pipeline, itemID), "type").Result()
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read work item type: %w", err)
	}

	keys := []string{ItemKey(c.pipeline, itemID), QueueKey(c.pipeline, itemType)}
	args := []interface{}{agentType, instanceID, time.Now().UnixMilli(), itemID}

	claimed, err := claimScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to run claim script: %w", err)
	}

	return claimed == 1, nil
}

// Release returns a claimed work item to the ready queue, but only if it is
// still held by the given instance. Returns (false, nil) if the item is gone
// or held by someone else. The release reason is recorded on the audit trail.
func (c *Client) Release(ctx context.Context, itemID, instanceID, reason string) (bool, error) {
	item, err := c.GetItem(ctx, itemID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	keys := []string{ItemKey(c.pipeline, itemID), QueueKey(c.pipeline, item.Type)}
	args := []interface{}{
		instanceID,
		time.Now().UnixMilli(),
		QueueScore(item.Priority, item.CreatedAtMs),
		itemID,
	}

	released, err := releaseScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to run release script: %w", err)
	}

	if released != 1 {
		return false, nil
	}

	// The action vocabulary has no release entry; releases are recorded as
	// processing events with a "released: <reason>" details prefix, which is
	// what ListActivity and watch consumers key on.
	entry := &ActivityLogEntry{
		ID:          newID(),
		WorkItemID:  itemID,
		AgentType:   item.AssignedAgent,
		Action:      ActionProcessing,
		Details:     fmt.Sprintf("released: %s", reason),
		Status:      StatusReady,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if err := c.AppendActivity(ctx, entry); err != nil {
		// Release already succeeded; the missing audit line is not worth
		// failing the caller over.
		return true, nil
	}

	return true, nil
}

// CheckRateLimit reports whether an action is still within budget for an
// instance inside the current fixed window. The window is bucketed, so a
// budget of 10 per minute allows at most 10 calls per clock-aligned minute.
// Returns (false, nil) when over budget: throttling is a benign outcome.
func (c *Client) CheckRateLimit(ctx context.Context, instanceID, action string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	if window <= 0 {
		window = time.Minute
	}

	windowSecs := int64(window / time.Second)
	bucket := time.Now().Unix() / windowSecs * windowSecs

	keys := []string{RateLimitKey(c.pipeline, instanceID, action, bucket)}
	// TTL one second past the window so the counter outlives its bucket.
	args := []interface{}{limit, windowSecs + 1}

	allowed, err := rateLimitScript.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}

	return allowed == 1, nil
}

// RegisterInstance records an agent instance as active.
// Validates the instance before writing.
func (c *Client) RegisterInstance(ctx context.Context, instance *AgentInstance) error {
	if err := instance.Validate(); err != nil {
		return fmt.Errorf("invalid agent instance: %w", err)
	}

	key := InstanceKey(c.pipeline, instance.ID)
	if err := c.rdb.HSet(ctx, key, InstanceToHash(instance)).Err(); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	return nil
}

// GetInstance retrieves an agent instance by ID.
// Returns (nil, redis.Nil) if the instance doesn't exist.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*AgentInstance, error) {
	key := InstanceKey(c.pipeline, instanceID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read instance from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToInstance(hashData)
}

// Heartbeat refreshes an instance's last-seen timestamp.
// Returns an error if the instance has never been registered.
func (c *Client) Heartbeat(ctx context.Context, instanceID string) error {
	key := InstanceKey(c.pipeline, instanceID)

	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check instance existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("instance %s is not registered", instanceID)
	}

	if err := c.rdb.HSet(ctx, key, "last_seen_at_ms", time.Now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	return nil
}

// DeactivateInstance marks an agent instance as inactive at graceful shutdown.
// Returns (false, nil) if the instance doesn't exist.
func (c *Client) DeactivateInstance(ctx context.Context, instanceID string) (bool, error) {
	key := InstanceKey(c.pipeline, instanceID)

	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check instance existence: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	fields := map[string]interface{}{
		"active":          "false",
		"last_seen_at_ms": time.Now().UnixMilli(),
	}
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return false, fmt.Errorf("failed to deactivate instance: %w", err)
	}

	return true, nil
}
