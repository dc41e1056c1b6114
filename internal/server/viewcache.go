package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stakemint/sagad/pkg/api"
	"github.com/stakemint/sagad/pkg/log"
)

// ViewCache is a short-TTL redis cache for workflow status views. The
// retry tool invalidates it when it rewrites history, so status reads
// never show a settled workflow that was just reopened
type ViewCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// DefaultViewTTL bounds how stale a cached status view may be
const DefaultViewTTL = 10 * time.Second

// NewViewCache creates a view cache over the given redis client
func NewViewCache(rdb *redis.Client, ttl time.Duration) *ViewCache {
	if ttl <= 0 {
		ttl = DefaultViewTTL
	}
	return &ViewCache{rdb: rdb, ttl: ttl}
}

// GetWorkflow returns a cached view, if present
func (v *ViewCache) GetWorkflow(
	ctx context.Context, id api.WorkflowID,
) (workflowResponse, bool) {
	var res workflowResponse
	data, err := v.rdb.Get(ctx, workflowViewKey(id)).Bytes()
	if err != nil {
		return res, false
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, false
	}
	return res, true
}

// PutWorkflow stores a view with the cache TTL. Failures are logged
// and otherwise ignored; the store remains the source of truth
func (v *ViewCache) PutWorkflow(
	ctx context.Context, id api.WorkflowID, res workflowResponse,
) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := v.rdb.Set(ctx, workflowViewKey(id), data, v.ttl).Err(); err != nil {
		slog.Warn("Failed to cache workflow view",
			log.WorkflowID(uint(id)),
			log.Error(err))
	}
}

// InvalidateWorkflow implements retry.CacheInvalidator
func (v *ViewCache) InvalidateWorkflow(
	ctx context.Context, id api.WorkflowID,
) error {
	return v.rdb.Del(ctx, workflowViewKey(id)).Err()
}

func workflowViewKey(id api.WorkflowID) string {
	return fmt.Sprintf("workflow-view:%d", id)
}
