package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/stakemint/sagad/pkg/api"
)

type (
	// Workflow is one logical long-running operation. Rows are never
	// deleted; they are the audit trail of everything the engine did
	Workflow struct {
		gorm.Model
		Kind             api.WorkflowKind   `gorm:"type:varchar(32);index"`
		ClientID         string             `gorm:"type:varchar(64);index"`
		Status           api.WorkflowStatus `gorm:"type:varchar(16);index"`
		FailedStepKind   api.StepKind       `gorm:"type:varchar(48)"`
		ParentWorkflowID *uint              `gorm:"index"`
		Params           api.Params         `gorm:"type:json"`
	}

	// WorkflowStep is one attempted unit of work within a workflow.
	// Status and UniqueHash are nullable: the retry tool clears both
	// when it rewinds history, which is also what frees the hash for
	// the replacement row. The unique index on UniqueHash is the dedup
	// guard against concurrent double-dispatch; MySQL permits any
	// number of NULLs under a unique index, so rewound rows never trip
	// it
	WorkflowStep struct {
		gorm.Model
		WorkflowID uint            `gorm:"index;not null"`
		Kind       api.StepKind    `gorm:"type:varchar(48);index"`
		Status     *api.StepStatus `gorm:"type:varchar(16);index"`
		UniqueHash *string         `gorm:"type:varchar(64);uniqueIndex"`
		TxHash     string          `gorm:"type:varchar(80)"`
		Params     api.Params      `gorm:"type:json;column:request_params"`
	}

	// ProcessHeartbeat records the start/stop cycle of a worker
	// process so the liveness monitor can audit it. Continuous workers
	// are judged by LastEndedAt, periodic ones by LastStartedAt
	ProcessHeartbeat struct {
		gorm.Model
		Process       string      `gorm:"type:varchar(64);uniqueIndex"`
		Kind          ProcessKind `gorm:"type:varchar(16)"`
		IntervalSec   int
		LastStartedAt *time.Time
		LastEndedAt   *time.Time
	}

	// ProcessKind distinguishes how a worker's heartbeat is audited
	ProcessKind string
)

const (
	ProcessContinuous ProcessKind = "continuous"
	ProcessPeriodic   ProcessKind = "periodic"
)

// StepID returns the step row's id as a typed value
func (s *WorkflowStep) StepID() api.StepID {
	return api.StepID(s.ID)
}

// Retried reports whether the row was rewound by the retry tool
func (s *WorkflowStep) Retried() bool {
	return s.Status == nil
}
