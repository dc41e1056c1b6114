// Package retry is the operator escape hatch for a stalled workflow
// step: it rewinds persisted history from the target step onward,
// inserts a fresh queued copy of the target, and replays it through
// the router synchronously, bypassing the broker.
package retry

import (
	"context"
	"log/slog"

	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/api"
	"github.com/stakemint/sagad/pkg/log"
)

type (
	// StepRouter executes one step per invocation
	StepRouter interface {
		Route(ctx context.Context, stepID api.StepID) error
	}

	// CacheInvalidator drops cached workflow/step status views
	CacheInvalidator interface {
		InvalidateWorkflow(ctx context.Context, id api.WorkflowID) error
	}

	// Runner repairs and resumes stalled workflows
	Runner struct {
		store  *store.Store
		router StepRouter
		cache  CacheInvalidator
	}
)

// New creates a retry runner. cache may be nil when no status views
// are cached
func New(s *store.Store, router StepRouter, cache CacheInvalidator) *Runner {
	return &Runner{store: s, router: router, cache: cache}
}

// RetryStep rewinds the workflow owning stepID back to that step and
// replays it. Every step row with id >= stepID loses its status and
// unique hash, which both erases its terminal state and frees the
// dedup guard for the fresh row
func (r *Runner) RetryStep(ctx context.Context, stepID api.StepID) error {
	target, err := r.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	workflowID := api.WorkflowID(target.WorkflowID)

	if err := r.store.RewindSteps(ctx, workflowID, stepID); err != nil {
		return err
	}

	fresh, err := r.store.InsertRetryStep(ctx, target)
	if err != nil {
		return err
	}

	if err := r.store.ReopenWorkflow(ctx, workflowID); err != nil {
		return err
	}

	if r.cache != nil {
		if err := r.cache.InvalidateWorkflow(ctx, workflowID); err != nil {
			slog.Warn("Failed to invalidate status cache",
				log.WorkflowID(uint(workflowID)),
				log.Error(err))
		}
	}

	slog.Info("Replaying step",
		log.WorkflowID(uint(workflowID)),
		log.StepID(fresh.StepID()),
		log.StepKind(fresh.Kind))

	return r.router.Route(ctx, fresh.StepID())
}
