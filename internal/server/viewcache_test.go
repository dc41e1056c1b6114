package server

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakemint/sagad/pkg/api"
)

func newViewCache(t *testing.T) (*ViewCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewViewCache(rdb, time.Minute), mr
}

func TestViewCacheRoundTrip(t *testing.T) {
	cache, _ := newViewCache(t)
	ctx := context.Background()

	_, ok := cache.GetWorkflow(ctx, 7)
	assert.False(t, ok)

	view := workflowResponse{
		ID:       7,
		Kind:     api.WorkflowSessionAuth,
		ClientID: "client-1",
		Status:   api.WorkflowInProgress,
	}
	cache.PutWorkflow(ctx, 7, view)

	cached, ok := cache.GetWorkflow(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, view, cached)
}

func TestViewCacheInvalidate(t *testing.T) {
	cache, _ := newViewCache(t)
	ctx := context.Background()

	cache.PutWorkflow(ctx, 7, workflowResponse{ID: 7})
	require.NoError(t, cache.InvalidateWorkflow(ctx, 7))

	_, ok := cache.GetWorkflow(ctx, 7)
	assert.False(t, ok)
}

func TestViewCacheExpiry(t *testing.T) {
	cache, mr := newViewCache(t)
	ctx := context.Background()

	cache.PutWorkflow(ctx, 7, workflowResponse{ID: 7})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.GetWorkflow(ctx, 7)
	assert.False(t, ok)
}
