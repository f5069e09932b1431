package board

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by pipeline name to
// enable multiple Drover pipelines to safely coexist on a single Redis server.
//
// Key pattern: drover:{pipeline}:{entity}:{id}
// Channel pattern: drover:{pipeline}:{event_type}_events

// ItemKey returns the Redis key for a work item hash.
// Pattern: drover:{pipeline}:item:{item_id}
func ItemKey(pipeline, itemID string) string {
	return fmt.Sprintf("drover:%s:item:%s", pipeline, itemID)
}

// QueueKey returns the Redis key for the ready queue ZSET of one item type.
// Members are item IDs; scores order by priority descending then creation
// time ascending (see QueueScore).
// Pattern: drover:{pipeline}:queue:{item_type}
func QueueKey(pipeline, itemType string) string {
	return fmt.Sprintf("drover:%s:queue:%s", pipeline, itemType)
}

// InstanceKey returns the Redis key for an agent instance hash.
// Pattern: drover:{pipeline}:instance:{instance_id}
func InstanceKey(pipeline, instanceID string) string {
	return fmt.Sprintf("drover:%s:instance:%s", pipeline, instanceID)
}

// ActivityKey returns the Redis key for a work item's activity log list.
// Pattern: drover:{pipeline}:activity:{item_id}
func ActivityKey(pipeline, itemID string) string {
	return fmt.Sprintf("drover:%s:activity:%s", pipeline, itemID)
}

// HandoffKey returns the Redis key for a handoff record hash.
// Pattern: drover:{pipeline}:handoff:{handoff_id}
func HandoffKey(pipeline, handoffID string) string {
	return fmt.Sprintf("drover:%s:handoff:%s", pipeline, handoffID)
}

// HandoffByItemKey returns the Redis key for the source-item->handoff index.
// Pattern: drover:{pipeline}:handoff_by_item:{item_id}
func HandoffByItemKey(pipeline, itemID string) string {
	return fmt.Sprintf("drover:%s:handoff_by_item:%s", pipeline, itemID)
}

// CommentsKey returns the Redis key for a work item's comment list.
// Pattern: drover:{pipeline}:comments:{item_id}
func CommentsKey(pipeline, itemID string) string {
	return fmt.Sprintf("drover:%s:comments:%s", pipeline, itemID)
}

// RateLimitKey returns the Redis key for one fixed rate-limit window counter.
// The bucket is the window start in unix seconds, so successive windows use
// distinct keys and expire independently.
// Pattern: drover:{pipeline}:ratelimit:{instance_id}:{action}:{bucket}
func RateLimitKey(pipeline, instanceID, action string, bucket int64) string {
	return fmt.Sprintf("drover:%s:ratelimit:%s:%s:%d", pipeline, instanceID, action, bucket)
}

// ItemEventsChannel returns the Pub/Sub channel name for work item events.
// Full item JSON is published whenever an item is created.
// Pattern: drover:{pipeline}:item_events
func ItemEventsChannel(pipeline string) string {
	return fmt.Sprintf("drover:%s:item_events", pipeline)
}

// ActivityEventsChannel returns the Pub/Sub channel name for activity events.
// Full entry JSON is published whenever an activity entry is appended.
// Pattern: drover:{pipeline}:activity_events
func ActivityEventsChannel(pipeline string) string {
	return fmt.Sprintf("drover:%s:activity_events", pipeline)
}

// queueScoreBase spaces priority bands far enough apart that creation
// timestamps (unix milliseconds) never cross into the next band.
const queueScoreBase = float64(1 << 41)

// QueueScore computes the ready-queue ZSET score for an item. Lower scores
// sort first: a higher priority weight lands in a lower band, and within a
// band older items (smaller CreatedAtMs) come first.
func QueueScore(priority Priority, createdAtMs int64) float64 {
	band := float64(priorityWeight[PriorityCritical] - priority.Weight())
	return band*queueScoreBase + float64(createdAtMs)
}
