package api

import (
	"errors"
	"fmt"
)

type (
	// WorkflowKind identifies one of the fixed business operations the
	// engine knows how to run
	WorkflowKind string

	// WorkflowStatus is the lifecycle state of a workflow. Transitions
	// are monotonic; only the retry tool may move a workflow backwards
	WorkflowStatus string

	// WorkflowID is the primary key of a workflow row
	WorkflowID uint

	// Chain names a blockchain the engine submits transactions to
	Chain string
)

const (
	WorkflowDeviceAuth   WorkflowKind = "deviceAuth"
	WorkflowSessionAuth  WorkflowKind = "sessionAuth"
	WorkflowEconomySetup WorkflowKind = "economySetup"
	WorkflowStakeAndMint WorkflowKind = "stakeAndMint"
	WorkflowRecovery     WorkflowKind = "recovery"
)

const (
	WorkflowQueued     WorkflowStatus = "queued"
	WorkflowInProgress WorkflowStatus = "inProgress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
)

var (
	ErrInvalidWorkflowKind = errors.New("invalid workflow kind")
	ErrInvalidTransition   = errors.New("invalid workflow status transition")

	// WorkflowKinds is the fixed set of supported operations
	WorkflowKinds = []WorkflowKind{
		WorkflowDeviceAuth,
		WorkflowSessionAuth,
		WorkflowEconomySetup,
		WorkflowStakeAndMint,
		WorkflowRecovery,
	}

	statusRank = map[WorkflowStatus]int{
		WorkflowQueued:     0,
		WorkflowInProgress: 1,
		WorkflowCompleted:  2,
		WorkflowFailed:     2,
	}
)

// Validate reports whether the kind is one of the supported operations
func (k WorkflowKind) Validate() error {
	for _, known := range WorkflowKinds {
		if k == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidWorkflowKind, k)
}

// Terminal reports whether the status is an end state
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// CanTransition reports whether moving from s to next preserves the
// monotonic ordering queued -> inProgress -> {completed|failed}
func (s WorkflowStatus) CanTransition(next WorkflowStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}
