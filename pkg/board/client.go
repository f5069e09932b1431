package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides pipeline-scoped Redis operations for the work board.
// All keys and channels are automatically namespaced with the pipeline name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb      *redis.Client
	pipeline string
}

// NewClient creates a new board client for the specified pipeline.
// The client automatically namespaces all keys and channels with the pipeline name.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - pipeline: Drover pipeline identifier (must not be empty)
//
// Returns an error if pipeline is empty.
func NewClient(redisOpts *redis.Options, pipeline string) (*Client, error) {
	if pipeline == "" {
		return nil, fmt.Errorf("pipeline name cannot be empty")
	}

	return &Client{
		rdb:      redis.NewClient(redisOpts),
		pipeline: pipeline,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
// Returns an error if Redis is not reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateItem writes a work item to Redis and publishes an item event.
// Validates the item before writing. If the item is created in the ready
// status it is also added to its type's ready queue, making it immediately
// claimable by eligible agents.
func (c *Client) CreateItem(ctx context.Context, item *WorkItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}

	hash, err := ItemToHash(item)
	if err != nil {
		return fmt.Errorf("failed to serialize work item: %w", err)
	}

	key := ItemKey(c.pipeline, item.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write work item to Redis: %w", err)
	}

	// Ready items enter the queue for the next stage immediately.
	if item.Status == StatusReady {
		z := redis.Z{
			Score:  QueueScore(item.Priority, item.CreatedAtMs),
			Member: item.ID,
		}
		if err := c.rdb.ZAdd(ctx, QueueKey(c.pipeline, item.Type), z).Err(); err != nil {
			return fmt.Errorf("failed to enqueue work item: %w", err)
		}
	}

	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item for event: %w", err)
	}

	channel := ItemEventsChannel(c.pipeline)
	if err := c.rdb.Publish(ctx, channel, itemJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish item event: %w", err)
	}

	return nil
}

// GetItem retrieves a work item by ID.
// Returns (nil, redis.Nil) if the item doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetItem(ctx context.Context, itemID string) (*WorkItem, error) {
	key := ItemKey(c.pipeline, itemID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read work item from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys.
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	item, err := HashToItem(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize work item: %w", err)
	}

	return item, nil
}

// UpdateItem replaces an existing work item with new data (full hash replacement).
// Validates the item before writing. Queue membership is managed by the claim
// and release primitives, not by UpdateItem: callers updating a claimed item
// (the normal case, e.g. completion at handoff) do not touch the ready queue.
func (c *Client) UpdateItem(ctx context.Context, item *WorkItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}

	hash, err := ItemToHash(item)
	if err != nil {
		return fmt.Errorf("failed to serialize work item: %w", err)
	}

	key := ItemKey(c.pipeline, item.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update work item in Redis: %w", err)
	}

	return nil
}

// ItemExists checks if a work item exists without fetching it.
func (c *Client) ItemExists(ctx context.Context, itemID string) (bool, error) {
	key := ItemKey(c.pipeline, itemID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check work item existence: %w", err)
	}
	return exists > 0, nil
}

// ListReady returns up to limit ready items of the given type in claim order:
// highest priority first, ties broken by age (oldest first). Items whose
// snapshot is no longer ready or that have been claimed since enqueueing are
// skipped. Side-effect free.
func (c *Client) ListReady(ctx context.Context, itemType string, limit int) ([]*WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	queueKey := QueueKey(c.pipeline, itemType)
	ids, err := c.rdb.ZRange(ctx, queueKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ready queue: %w", err)
	}

	items := make([]*WorkItem, 0, len(ids))
	for _, id := range ids {
		item, err := c.GetItem(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}

		// The queue is an index, not the source of truth: drop stale entries.
		if item.Status != StatusReady || item.ClaimedByInstance != "" {
			continue
		}

		items = append(items, item)
	}

	return items, nil
}

// MergeReady merges ready items across several types into one claim-ordered
// slice, capped at limit. Used by agents whose routing table lists more than
// one processable type.
func (c *Client) MergeReady(ctx context.Context, itemTypes []string, limit int) ([]*WorkItem, error) {
	var merged []*WorkItem
	for _, itemType := range itemTypes {
		items, err := c.ListReady(ctx, itemType, limit)
		if err != nil {
			return nil, err
		}
		merged = append(merged, items...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Priority.Weight() != merged[j].Priority.Weight() {
			return merged[i].Priority.Weight() > merged[j].Priority.Weight()
		}
		return merged[i].CreatedAtMs < merged[j].CreatedAtMs
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}

	return merged, nil
}

// AppendActivity appends an entry to a work item's audit trail and publishes
// an activity event. The trail is append-only; entries are never mutated.
func (c *Client) AppendActivity(ctx context.Context, entry *ActivityLogEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid activity entry: %w", err)
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity entry: %w", err)
	}

	key := ActivityKey(c.pipeline, entry.WorkItemID)
	if err := c.rdb.RPush(ctx, key, entryJSON).Err(); err != nil {
		return fmt.Errorf("failed to append activity entry: %w", err)
	}

	channel := ActivityEventsChannel(c.pipeline)
	if err := c.rdb.Publish(ctx, channel, entryJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish activity event: %w", err)
	}

	return nil
}

// ListActivity returns the full audit trail for a work item in append order.
// Returns an empty slice if the item has no activity (not an error).
func (c *Client) ListActivity(ctx context.Context, itemID string) ([]*ActivityLogEntry, error) {
	key := ActivityKey(c.pipeline, itemID)

	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}

	entries := make([]*ActivityLogEntry, 0, len(raw))
	for _, entryJSON := range raw {
		var entry ActivityLogEntry
		if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// CreateHandoff writes a handoff record and the source-item index entry.
// Validates the record before writing. Exactly one record is created per
// completed handoff.
func (c *Client) CreateHandoff(ctx context.Context, record *HandoffRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid handoff record: %w", err)
	}

	hash, err := HandoffToHash(record)
	if err != nil {
		return fmt.Errorf("failed to serialize handoff record: %w", err)
	}

	key := HandoffKey(c.pipeline, record.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write handoff record to Redis: %w", err)
	}

	indexKey := HandoffByItemKey(c.pipeline, record.SourceWorkItemID)
	if err := c.rdb.Set(ctx, indexKey, record.ID, 0).Err(); err != nil {
		return fmt.Errorf("failed to write handoff index: %w", err)
	}

	return nil
}

// GetHandoff retrieves a handoff record by ID.
// Returns (nil, redis.Nil) if the record doesn't exist.
func (c *Client) GetHandoff(ctx context.Context, handoffID string) (*HandoffRecord, error) {
	key := HandoffKey(c.pipeline, handoffID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read handoff record from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	record, err := HashToHandoff(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize handoff record: %w", err)
	}

	return record, nil
}

// GetHandoffByItem retrieves the handoff record for a source work item via
// the handoff index. Returns (nil, redis.Nil) if no handoff exists.
func (c *Client) GetHandoffByItem(ctx context.Context, itemID string) (*HandoffRecord, error) {
	indexKey := HandoffByItemKey(c.pipeline, itemID)

	handoffID, err := c.rdb.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read handoff index: %w", err)
	}

	return c.GetHandoff(ctx, handoffID)
}

// AddComment appends a comment to a work item.
// Validates the comment before writing.
func (c *Client) AddComment(ctx context.Context, comment *Comment) error {
	if err := comment.Validate(); err != nil {
		return fmt.Errorf("invalid comment: %w", err)
	}

	commentJSON, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	key := CommentsKey(c.pipeline, comment.WorkItemID)
	if err := c.rdb.RPush(ctx, key, commentJSON).Err(); err != nil {
		return fmt.Errorf("failed to append comment: %w", err)
	}

	return nil
}

// ListComments returns all comments on a work item in append order.
// Returns an empty slice if the item has no comments (not an error).
func (c *Client) ListComments(ctx context.Context, itemID string) ([]*Comment, error) {
	key := CommentsKey(c.pipeline, itemID)

	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}

	comments := make([]*Comment, 0, len(raw))
	for _, commentJSON := range raw {
		var comment Comment
		if err := json.Unmarshal([]byte(commentJSON), &comment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comment: %w", err)
		}
		comments = append(comments, &comment)
	}

	return comments, nil
}

// ItemSubscription represents an active Pub/Sub subscription to item events.
// Caller must call Close() when done to clean up resources.
type ItemSubscription struct {
	events <-chan *WorkItem
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of work item events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *ItemSubscription) Events() <-chan *WorkItem {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *ItemSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *ItemSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// ActivitySubscription represents an active Pub/Sub subscription to activity events.
// Caller must call Close() when done to clean up resources.
type ActivitySubscription struct {
	events <-chan *ActivityLogEntry
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of activity events.
func (s *ActivitySubscription) Events() <-chan *ActivityLogEntry {
	return s.events
}

// Errors returns the channel of subscription errors.
func (s *ActivitySubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
func (s *ActivitySubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeItemEvents subscribes to work item creation events for this pipeline.
// Returns an ItemSubscription that delivers full work item objects.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery).
func (c *Client) SubscribeItemEvents(ctx context.Context) (*ItemSubscription, error) {
	channel := ItemEventsChannel(c.pipeline)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *WorkItem, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var item WorkItem
				if err := json.Unmarshal([]byte(msg.Payload), &item); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal item event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &item:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &ItemSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// SubscribeActivityEvents subscribes to activity log events for this pipeline.
// Returns an ActivitySubscription that delivers full activity entries.
// Caller must call subscription.Close() when done.
func (c *Client) SubscribeActivityEvents(ctx context.Context) (*ActivitySubscription, error) {
	channel := ActivityEventsChannel(c.pipeline)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *ActivityLogEntry, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var entry ActivityLogEntry
				if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal activity event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &entry:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &ActivitySubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if GetItem, GetHandoff, or GetInstance returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
