package api

import (
	"context"
	"time"
)

type (
	// Handler executes the business logic behind a single step kind.
	// Handlers classify their own failures: a transient condition is
	// reported as TaskPending with a retry hint, a permanent one as
	// TaskFailed. The router never inspects handler error types
	Handler interface {
		Handle(ctx context.Context, params Params) (*HandlerResult, error)
	}

	// HandlerFunc adapts a function to the Handler interface
	HandlerFunc func(ctx context.Context, params Params) (*HandlerResult, error)

	// HandlerResult is a handler's verdict plus the data it wants to
	// hand to the next step
	HandlerResult struct {
		Output     Params        `json:"output,omitempty"`
		TxHash     string        `json:"tx_hash,omitempty"`
		RetryAfter time.Duration `json:"retry_after,omitempty"`
		Status     TaskStatus    `json:"status"`
	}

	// Registry maps each step kind to its handler. It is built once at
	// startup; the router performs no runtime lookup by name
	Registry map[StepKind]Handler
)

// Handle implements Handler
func (f HandlerFunc) Handle(
	ctx context.Context, params Params,
) (*HandlerResult, error) {
	return f(ctx, params)
}

// Done reports successful completion with optional output params
func Done(output Params) *HandlerResult {
	return &HandlerResult{Status: TaskDone, Output: output}
}

// Pending reports a dispatched side effect whose outcome is not yet
// known; the same step will be re-invoked after the given backoff
func Pending(after time.Duration) *HandlerResult {
	return &HandlerResult{Status: TaskPending, RetryAfter: after}
}

// Failed reports a permanent failure; the workflow is routed to its
// failure path
func Failed() *HandlerResult {
	return &HandlerResult{Status: TaskFailed}
}

// WithTxHash attaches the submitted transaction hash to the result
func (r *HandlerResult) WithTxHash(hash string) *HandlerResult {
	r.TxHash = hash
	return r
}
