// Package graph holds the static per-workflow-kind step transition
// tables. The tables are plain data, validated once at startup; the
// router consults them but never mutates them.
package graph

import (
	"errors"
	"fmt"

	"github.com/stakemint/sagad/pkg/api"
)

type (
	// Edge lists the successors of a step kind. OnPending is optional;
	// when empty a pending step is re-queued for itself
	Edge struct {
		OnSuccess api.StepKind
		OnFailure api.StepKind
		OnPending api.StepKind
	}

	// Transitions is the successor table for one workflow kind
	Transitions map[api.StepKind]Edge
)

var (
	ErrUnknownWorkflowKind = errors.New("unknown workflow kind")
	ErrUnknownStepKind     = errors.New("step kind not in table")
	ErrMissingSuccessor    = errors.New("step kind missing successor")
	ErrUnreachableStep     = errors.New("step kind unreachable")
	ErrNoTerminalPath      = errors.New("no path to terminal marker")

	tables = map[api.WorkflowKind]Transitions{
		api.WorkflowDeviceAuth: {
			api.StepInit: {
				OnSuccess: api.StepVerifyDevice,
				OnFailure: api.StepMarkFailure,
			},
			api.StepVerifyDevice: {
				OnSuccess: api.StepRegisterDevice,
				OnFailure: api.StepMarkFailure,
			},
			api.StepRegisterDevice: {
				OnSuccess: api.StepGrantToken,
				OnFailure: api.StepMarkFailure,
			},
			api.StepGrantToken: {
				OnSuccess: api.StepMarkSuccess,
				OnFailure: api.StepMarkFailure,
			},
		},
		api.WorkflowSessionAuth: {
			api.StepInit: {
				OnSuccess: api.StepVerifySession,
				OnFailure: api.StepMarkFailure,
			},
			api.StepVerifySession: {
				OnSuccess: api.StepAllocateNonce,
				OnFailure: api.StepMarkFailure,
			},
			api.StepAllocateNonce: {
				OnSuccess: api.StepSubmitTx,
				OnFailure: api.StepMarkFailure,
			},
			api.StepSubmitTx: {
				OnSuccess: api.StepCheckTx,
				OnFailure: api.StepMarkFailure,
			},
			api.StepCheckTx: {
				OnSuccess: api.StepGrantToken,
				OnFailure: api.StepMarkFailure,
			},
			api.StepGrantToken: {
				OnSuccess: api.StepMarkSuccess,
				OnFailure: api.StepMarkFailure,
			},
		},
		api.WorkflowEconomySetup: {
			api.StepInit: {
				OnSuccess: api.StepCreateEconomy,
				OnFailure: api.StepMarkFailure,
			},
			api.StepCreateEconomy: {
				OnSuccess: api.StepAllocateNonce,
				OnFailure: api.StepMarkFailure,
			},
			api.StepAllocateNonce: {
				OnSuccess: api.StepDeployRegistry,
				OnFailure: api.StepMarkFailure,
			},
			api.StepDeployRegistry: {
				OnSuccess: api.StepFundTreasury,
				OnFailure: api.StepMarkFailure,
			},
			api.StepFundTreasury: {
				OnSuccess: api.StepMarkSuccess,
				OnFailure: api.StepMarkFailure,
			},
		},
		api.WorkflowStakeAndMint: {
			api.StepInit: {
				OnSuccess: api.StepAllocateNonce,
				OnFailure: api.StepMarkFailure,
			},
			api.StepAllocateNonce: {
				OnSuccess: api.StepStakeTokens,
				OnFailure: api.StepMarkFailure,
			},
			api.StepStakeTokens: {
				OnSuccess: api.StepVerifyStake,
				OnFailure: api.StepMarkFailure,
			},
			api.StepVerifyStake: {
				OnSuccess: api.StepMintBadge,
				OnFailure: api.StepMarkFailure,
			},
			api.StepMintBadge: {
				OnSuccess: api.StepMarkSuccess,
				OnFailure: api.StepMarkFailure,
			},
		},
		api.WorkflowRecovery: {
			api.StepInit: {
				OnSuccess: api.StepVerifyRecovery,
				OnFailure: api.StepMarkFailure,
			},
			api.StepVerifyRecovery: {
				OnSuccess: api.StepRevokeSessions,
				OnFailure: api.StepMarkFailure,
			},
			api.StepRevokeSessions: {
				OnSuccess: api.StepRestoreKeys,
				OnFailure: api.StepMarkFailure,
			},
			api.StepRestoreKeys: {
				OnSuccess: api.StepMarkSuccess,
				OnFailure: api.StepMarkFailure,
			},
		},
	}
)

// First returns the entry step kind for a workflow kind
func First(api.WorkflowKind) api.StepKind {
	return api.StepInit
}

// Next resolves the successor table entry for a step kind within the
// given workflow kind
func Next(kind api.WorkflowKind, step api.StepKind) (Edge, error) {
	table, ok := tables[kind]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s", ErrUnknownWorkflowKind, kind)
	}
	edge, ok := table[step]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s/%s", ErrUnknownStepKind, kind, step)
	}
	return edge, nil
}

// Table returns the transition table for a workflow kind
func Table(kind api.WorkflowKind) (Transitions, error) {
	table, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowKind, kind)
	}
	return table, nil
}

// Validate checks every table for completeness: each workflow kind has
// an entry step, every reachable non-terminal kind has successors,
// every kind in the table is reachable, and every path ends at a
// terminal marker
func Validate() error {
	for _, kind := range api.WorkflowKinds {
		table, ok := tables[kind]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownWorkflowKind, kind)
		}
		if err := validateTable(kind, table); err != nil {
			return err
		}
	}
	return nil
}

func validateTable(kind api.WorkflowKind, table Transitions) error {
	reachable := map[api.StepKind]bool{}
	queue := []api.StepKind{First(kind)}

	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]
		if reachable[step] || step.Terminal() {
			reachable[step] = true
			continue
		}
		reachable[step] = true

		edge, ok := table[step]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownStepKind, kind, step)
		}
		if edge.OnSuccess == "" || edge.OnFailure == "" {
			return fmt.Errorf("%w: %s/%s", ErrMissingSuccessor, kind, step)
		}
		queue = append(queue, edge.OnSuccess, edge.OnFailure)
		if edge.OnPending != "" {
			queue = append(queue, edge.OnPending)
		}
	}

	for step := range table {
		if !reachable[step] {
			return fmt.Errorf("%w: %s/%s", ErrUnreachableStep, kind, step)
		}
	}

	if !reachable[api.StepMarkSuccess] || !reachable[api.StepMarkFailure] {
		return fmt.Errorf("%w: %s", ErrNoTerminalPath, kind)
	}
	return nil
}
