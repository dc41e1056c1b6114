// Package router executes exactly one workflow step per invocation,
// decides the next step from the static transition tables, and
// persists and publishes it. It is the only component besides the
// retry tool that mutates workflow state.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stakemint/sagad/internal/graph"
	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/api"
	"github.com/stakemint/sagad/pkg/log"
)

type (
	// Publisher sends step-ready notices to the broker
	Publisher interface {
		Publish(ctx context.Context, notice *api.Notice) error
	}

	// Router routes steps through their workflow's transition table
	Router struct {
		store     *store.Store
		registry  api.Registry
		publisher Publisher
	}
)

// DefaultRetryAfter is the re-check delay for pending steps whose
// handler did not provide a backoff hint
const DefaultRetryAfter = 5 * time.Second

var ErrNoHandler = errors.New("no handler registered for step kind")

// New creates a router over the given store, handler registry, and
// broker publisher
func New(s *store.Store, registry api.Registry, pub Publisher) *Router {
	return &Router{
		store:     s,
		registry:  registry,
		publisher: pub,
	}
}

// Start creates a workflow and its first step, then publishes the
// step-ready notice that sets the graph in motion
func (r *Router) Start(
	ctx context.Context, kind api.WorkflowKind, clientID string,
	params api.Params,
) (*store.Workflow, error) {
	w, err := r.store.CreateWorkflow(ctx, kind, clientID, params)
	if err != nil {
		return nil, err
	}

	workflowID := api.WorkflowID(w.ID)
	step, err := r.store.InsertStep(ctx, workflowID, graph.First(kind), params)
	if err != nil {
		return nil, err
	}

	if err := r.publishStep(ctx, w, step); err != nil {
		return nil, err
	}
	return w, nil
}

// Route runs the step with the given id and advances the graph
// according to the handler's verdict. Re-invocation of a step whose
// status already reflects a terminal outcome is a no-op, which is what
// makes broker redelivery safe.
func (r *Router) Route(ctx context.Context, stepID api.StepID) error {
	step, err := r.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}

	if step.Retried() {
		slog.Info("Skipping rewound step", log.StepID(stepID))
		return nil
	}
	if step.Status.Settled() {
		slog.Info("Skipping settled step",
			log.StepID(stepID),
			log.Status(*step.Status))
		return nil
	}

	w, err := r.store.GetWorkflow(ctx, api.WorkflowID(step.WorkflowID))
	if err != nil {
		return err
	}
	if w.Status == api.WorkflowQueued {
		err := r.store.SetWorkflowStatus(
			ctx, api.WorkflowID(w.ID), api.WorkflowInProgress,
		)
		if err != nil {
			return err
		}
	}

	edge, err := graph.Next(w.Kind, step.Kind)
	if err != nil {
		return err
	}

	res := r.invoke(ctx, step)
	switch res.Status {
	case api.TaskDone:
		return r.advance(ctx, w, step, res, edge.OnSuccess)
	case api.TaskPending:
		return r.reArm(ctx, w, step, res, edge)
	default:
		return r.fail(ctx, w, step, edge.OnFailure)
	}
}

// invoke runs the handler for the step kind. Unclassified errors are
// treated as failed to avoid silent hangs
func (r *Router) invoke(
	ctx context.Context, step *store.WorkflowStep,
) *api.HandlerResult {
	handler, ok := r.registry[step.Kind]
	if !ok {
		slog.Error("Step kind has no handler",
			log.StepID(step.StepID()),
			log.StepKind(step.Kind),
			log.Error(ErrNoHandler))
		return api.Failed()
	}

	res, err := handler.Handle(ctx, step.Params)
	if err != nil {
		slog.Error("Handler returned unclassified error",
			log.StepID(step.StepID()),
			log.StepKind(step.Kind),
			log.Error(err))
		return api.Failed()
	}
	if res == nil {
		return api.Failed()
	}
	return res
}

func (r *Router) advance(
	ctx context.Context, w *store.Workflow, step *store.WorkflowStep,
	res *api.HandlerResult, next api.StepKind,
) error {
	params := step.Params.Merge(res.Output)
	err := r.store.SetStepResult(
		ctx, step.StepID(), api.StepProcessed, params, res.TxHash,
	)
	if err != nil {
		return err
	}

	if next.Terminal() {
		return r.finish(ctx, w, step, next, params)
	}

	workflowID := api.WorkflowID(w.ID)
	nextStep, err := r.store.InsertStep(ctx, workflowID, next, params)
	if errors.Is(err, store.ErrDuplicateStep) {
		// Another dispatcher won the race for this transition
		slog.Info("Duplicate step insert ignored",
			log.WorkflowID(w.ID),
			log.StepKind(next))
		return nil
	}
	if err != nil {
		return err
	}
	return r.publishStep(ctx, w, nextStep)
}

// reArm keeps the current step alive and schedules a re-check: either
// the table names an explicit pending successor, or the same step is
// republished after the handler's backoff hint
func (r *Router) reArm(
	ctx context.Context, w *store.Workflow, step *store.WorkflowStep,
	res *api.HandlerResult, edge graph.Edge,
) error {
	params := step.Params.Merge(res.Output)
	err := r.store.SetStepResult(
		ctx, step.StepID(), api.StepPending, params, res.TxHash,
	)
	if err != nil {
		return err
	}

	if edge.OnPending != "" {
		workflowID := api.WorkflowID(w.ID)
		next, err := r.store.InsertStep(ctx, workflowID, edge.OnPending, params)
		if errors.Is(err, store.ErrDuplicateStep) {
			return nil
		}
		if err != nil {
			return err
		}
		return r.publishStep(ctx, w, next)
	}

	after := res.RetryAfter
	if after <= 0 {
		after = DefaultRetryAfter
	}
	r.republishLater(w, step, params, after)
	return nil
}

func (r *Router) fail(
	ctx context.Context, w *store.Workflow, step *store.WorkflowStep,
	next api.StepKind,
) error {
	err := r.store.SetStepStatus(ctx, step.StepID(), api.StepFailed)
	if err != nil {
		return err
	}

	if next.Terminal() {
		return r.finish(ctx, w, step, next, step.Params)
	}

	workflowID := api.WorkflowID(w.ID)
	nextStep, err := r.store.InsertStep(ctx, workflowID, next, step.Params)
	if errors.Is(err, store.ErrDuplicateStep) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.publishStep(ctx, w, nextStep)
}

// finish inserts the terminal marker row for the audit trail and
// settles the workflow status
func (r *Router) finish(
	ctx context.Context, w *store.Workflow, step *store.WorkflowStep,
	marker api.StepKind, params api.Params,
) error {
	workflowID := api.WorkflowID(w.ID)
	markerStep, err := r.store.InsertStep(ctx, workflowID, marker, params)
	if errors.Is(err, store.ErrDuplicateStep) {
		return nil
	}
	if err != nil {
		return err
	}
	err = r.store.SetStepStatus(ctx, markerStep.StepID(), api.StepProcessed)
	if err != nil {
		return err
	}

	if marker == api.StepMarkSuccess {
		err := r.store.SetWorkflowStatus(
			ctx, workflowID, api.WorkflowCompleted,
		)
		if err != nil {
			return err
		}
		slog.Info("Workflow completed", log.WorkflowID(w.ID))
		return nil
	}

	if err := r.store.SetWorkflowFailed(ctx, workflowID, step.Kind); err != nil {
		return err
	}
	slog.Warn("Workflow failed",
		log.WorkflowID(w.ID),
		log.StepKind(step.Kind))
	return nil
}

func (r *Router) publishStep(
	ctx context.Context, w *store.Workflow, step *store.WorkflowStep,
) error {
	return r.publisher.Publish(ctx, &api.Notice{
		StepID:     step.StepID(),
		WorkflowID: api.WorkflowID(w.ID),
		StepKind:   step.Kind,
		Params:     step.Params,
	})
}

// republishLater re-publishes the same step after the backoff. The
// timer is process-local; if the process dies first, the step is
// recovered by the retry tool
func (r *Router) republishLater(
	w *store.Workflow, step *store.WorkflowStep, params api.Params,
	after time.Duration,
) {
	notice := &api.Notice{
		StepID:     step.StepID(),
		WorkflowID: api.WorkflowID(w.ID),
		StepKind:   step.Kind,
		Params:     params,
	}
	time.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 10*time.Second,
		)
		defer cancel()

		if err := r.publisher.Publish(ctx, notice); err != nil {
			slog.Error("Failed to republish pending step",
				log.StepID(step.StepID()),
				log.Error(err))
		}
	})
}
