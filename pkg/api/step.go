package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

type (
	// StepKind identifies one unit of work within a workflow. The full
	// set spans all workflow kinds; which kinds are legal for a given
	// workflow is defined by its transition table
	StepKind string

	// StepStatus is the persisted outcome of a step attempt. A rewound
	// step has no status at all (NULL in storage), which is why the
	// store models it as a pointer rather than adding an enum member
	StepStatus string

	// StepID is the primary key of a workflow step row
	StepID uint

	// TaskStatus is a handler's verdict on a single invocation. It is
	// interpreted by the router and never stored verbatim
	TaskStatus string
)

// Shared step kinds
const (
	StepInit        StepKind = "init"
	StepMarkSuccess StepKind = "markSuccess"
	StepMarkFailure StepKind = "markFailure"
)

// Transaction plumbing steps
const (
	StepAllocateNonce StepKind = "allocateNonce"
	StepSubmitTx      StepKind = "submitTx"
	StepCheckTx       StepKind = "checkTx"
)

// Device / session authorization steps
const (
	StepVerifyDevice   StepKind = "verifyDevice"
	StepRegisterDevice StepKind = "registerDevice"
	StepVerifySession  StepKind = "verifySession"
	StepGrantToken     StepKind = "grantToken"
)

// Economy setup steps
const (
	StepCreateEconomy  StepKind = "createEconomy"
	StepDeployRegistry StepKind = "deployRegistry"
	StepFundTreasury   StepKind = "fundTreasury"
)

// Stake-and-mint steps
const (
	StepStakeTokens StepKind = "stakeTokens"
	StepVerifyStake StepKind = "verifyStake"
	StepMintBadge   StepKind = "mintBadge"
)

// Recovery steps
const (
	StepVerifyRecovery StepKind = "verifyRecovery"
	StepRestoreKeys    StepKind = "restoreKeys"
	StepRevokeSessions StepKind = "revokeSessions"
)

const (
	StepQueued    StepStatus = "queued"
	StepPending   StepStatus = "pending"
	StepProcessed StepStatus = "processed"
	StepFailed    StepStatus = "failed"
	StepTimeout   StepStatus = "timeout"
)

// StepKinds is the full set of step kinds a handler registry must
// cover
var StepKinds = []StepKind{
	StepInit, StepMarkSuccess, StepMarkFailure,
	StepAllocateNonce, StepSubmitTx, StepCheckTx,
	StepVerifyDevice, StepRegisterDevice, StepVerifySession,
	StepGrantToken,
	StepCreateEconomy, StepDeployRegistry, StepFundTreasury,
	StepStakeTokens, StepVerifyStake, StepMintBadge,
	StepVerifyRecovery, StepRestoreKeys, StepRevokeSessions,
}

const (
	TaskReadyToStart TaskStatus = "readyToStart"
	TaskDone         TaskStatus = "done"
	TaskPending      TaskStatus = "pending"
	TaskFailed       TaskStatus = "failed"
)

// Terminal reports whether the kind is a graph end marker
func (k StepKind) Terminal() bool {
	return k == StepMarkSuccess || k == StepMarkFailure
}

// Settled reports whether the status reflects a final outcome for the
// step attempt, making any further dispatch of it a no-op
func (s StepStatus) Settled() bool {
	return s == StepProcessed || s == StepFailed || s == StepTimeout
}

// UniqueHash derives the dedup digest for a step of the given kind in
// the given workflow. At most one live step row per workflow may carry
// a given hash, which is what defeats double-dispatch from an
// at-least-once broker
func UniqueHash(workflowID WorkflowID, kind StepKind) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d:%s", workflowID, kind))
	return hex.EncodeToString(sum[:])
}
