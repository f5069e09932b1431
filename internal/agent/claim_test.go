package agent

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/pkg/board"
)

// setupBoard creates a board client backed by a miniredis instance.
func setupBoard(t *testing.T) *board.Client {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-pipeline")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func seedReadyItem(t *testing.T, client *board.Client, itemType string, priority board.Priority, createdAtMs int64) *board.WorkItem {
	t.Helper()

	item := &board.WorkItem{
		ID:          uuid.New().String(),
		ProjectID:   uuid.New().String(),
		Title:       "seeded item",
		Description: "seeded for testing",
		Type:        itemType,
		Priority:    priority,
		Status:      board.StatusReady,
		Metadata:    map[string]any{},
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: createdAtMs,
	}
	require.NoError(t, client.CreateItem(context.Background(), item))
	return item
}

// newCoordinator wires a claim coordinator with a generous budget and an
// instant sleep so tests never wait out real backoff.
func newCoordinator(client *board.Client, itemTypes []string, budget int) *ClaimCoordinator {
	instanceID := uuid.New().String()
	limiter := NewRateLimiter(client, instanceID, budget, time.Minute)
	c := NewClaimCoordinator(client, limiter, "developer", instanceID, itemTypes, 3, 5)
	c.sleep = func(ctx context.Context, d time.Duration) {}
	return c
}

func TestFindCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("orders by priority then age across types", func(t *testing.T) {
		client := setupBoard(t)
		base := time.Now().UnixMilli()

		lowOld := seedReadyItem(t, client, "story", board.PriorityLow, base-60000)
		critNew := seedReadyItem(t, client, "bug", board.PriorityCritical, base)
		medMid := seedReadyItem(t, client, "task", board.PriorityMedium, base-30000)

		c := newCoordinator(client, []string{"story", "bug", "task"}, 100)
		candidates, err := c.FindCandidates(ctx, 10)
		require.NoError(t, err)
		require.Len(t, candidates, 3)
		assert.Equal(t, critNew.ID, candidates[0].ID)
		assert.Equal(t, medMid.ID, candidates[1].ID)
		assert.Equal(t, lowOld.ID, candidates[2].ID)
	})

	t.Run("only sees routed item types", func(t *testing.T) {
		client := setupBoard(t)
		seedReadyItem(t, client, "prd", board.PriorityCritical, time.Now().UnixMilli())
		story := seedReadyItem(t, client, "story", board.PriorityLow, time.Now().UnixMilli())

		c := newCoordinator(client, []string{"story", "bug", "task"}, 100)
		candidates, err := c.FindCandidates(ctx, 10)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, story.ID, candidates[0].ID)
	})

	t.Run("does not mutate anything", func(t *testing.T) {
		client := setupBoard(t)
		item := seedReadyItem(t, client, "story", board.PriorityMedium, time.Now().UnixMilli())

		c := newCoordinator(client, []string{"story"}, 100)
		_, err := c.FindCandidates(ctx, 10)
		require.NoError(t, err)

		retrieved, err := client.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, board.StatusReady, retrieved.Status)
		assert.Empty(t, retrieved.ClaimedByInstance)
	})
}

func TestClaimOne(t *testing.T) {
	ctx := context.Background()

	t.Run("claims within budget", func(t *testing.T) {
		client := setupBoard(t)
		item := seedReadyItem(t, client, "story", board.PriorityMedium, time.Now().UnixMilli())

		c := newCoordinator(client, []string{"story"}, 100)
		claimed, err := c.ClaimOne(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("throttled claim never reaches the store", func(t *testing.T) {
		client := setupBoard(t)
		item := seedReadyItem(t, client, "story", board.PriorityMedium, time.Now().UnixMilli())

		c := newCoordinator(client, []string{"story"}, 1)

		claimed, err := c.ClaimOne(ctx, item.ID)
		require.NoError(t, err)
		require.True(t, claimed)

		second := seedReadyItem(t, client, "story", board.PriorityMedium, time.Now().UnixMilli())
		claimed, err = c.ClaimOne(ctx, second.ID)
		require.NoError(t, err)
		assert.False(t, claimed)

		// The throttled item is untouched and stays claimable.
		retrieved, err := client.GetItem(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, board.StatusReady, retrieved.Status)
		assert.Empty(t, retrieved.ClaimedByInstance)
	})
}

func TestClaimNext(t *testing.T) {
	ctx := context.Background()

	t.Run("claims the best candidate", func(t *testing.T) {
		client := setupBoard(t)
		base := time.Now().UnixMilli()
		seedReadyItem(t, client, "story", board.PriorityLow, base)
		high := seedReadyItem(t, client, "bug", board.PriorityHigh, base)

		c := newCoordinator(client, []string{"story", "bug"}, 100)
		item, err := c.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, high.ID, item.ID)
		assert.Equal(t, board.StatusInProgress, item.Status)
		assert.Equal(t, c.instanceID, item.ClaimedByInstance)
	})

	t.Run("no eligible work returns immediately", func(t *testing.T) {
		client := setupBoard(t)

		slept := 0
		c := newCoordinator(client, []string{"story"}, 100)
		c.sleep = func(ctx context.Context, d time.Duration) { slept++ }

		item, err := c.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, item)
		assert.Zero(t, slept, "no-work must not trigger retry backoff")
	})

	t.Run("falls through to the next candidate after a lost race", func(t *testing.T) {
		client := setupBoard(t)
		base := time.Now().UnixMilli()
		first := seedReadyItem(t, client, "story", board.PriorityHigh, base-1000)
		second := seedReadyItem(t, client, "story", board.PriorityHigh, base)

		c := newCoordinator(client, []string{"story"}, 100)

		// Another instance wins the first item between our fetch and claim.
		rival := newCoordinator(client, []string{"story"}, 100)
		claimed, err := rival.ClaimOne(ctx, first.ID)
		require.NoError(t, err)
		require.True(t, claimed)

		item, err := c.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, second.ID, item.ID)
	})

	t.Run("exhausted budget backs off and gives up", func(t *testing.T) {
		client := setupBoard(t)
		seedReadyItem(t, client, "story", board.PriorityMedium, time.Now().UnixMilli())

		slept := 0
		c := newCoordinator(client, []string{"story"}, 1)
		c.sleep = func(ctx context.Context, d time.Duration) { slept++ }

		// Burn the whole window budget.
		allowed, err := c.limiter.Allow(ctx, ActionClaim)
		require.NoError(t, err)
		require.True(t, allowed)

		item, err := c.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, item)
		assert.Equal(t, 2, slept, "backoff between each failed attempt except the last")
	})
}
