// Package store is the single source of truth for workflow and step
// state. All writes are single-row and atomic; cross-process
// coordination relies on the step unique-hash guard rather than on
// transactions spanning rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stakemint/sagad/pkg/api"
)

// Store provides persistence for workflows, steps, and process
// heartbeats
type Store struct {
	db *gorm.DB
}

var (
	// ErrDuplicateStep signals that a live step row already holds the
	// unique hash: another dispatcher is handling the same step. It is
	// benign and treated as an idempotent no-op by callers
	ErrDuplicateStep = errors.New("duplicate step")

	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrStepNotFound      = errors.New("step not found")
	ErrHeartbeatNotFound = errors.New("heartbeat not found")
	ErrStatusRegression  = errors.New("workflow status would regress")
)

// Open connects to the MySQL store and runs migrations
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New wraps an existing gorm handle and runs migrations. Tests use it
// with an in-memory sqlite handle
func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(
		&Workflow{}, &WorkflowStep{}, &ProcessHeartbeat{},
	)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// CreateWorkflow inserts a workflow row in the queued state
func (s *Store) CreateWorkflow(
	ctx context.Context, kind api.WorkflowKind, clientID string,
	params api.Params,
) (*Workflow, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	w := &Workflow{
		Kind:     kind,
		ClientID: clientID,
		Status:   api.WorkflowQueued,
		Params:   params,
	}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorkflow loads a workflow by id
func (s *Store) GetWorkflow(
	ctx context.Context, id api.WorkflowID,
) (*Workflow, error) {
	var w Workflow
	err := s.db.WithContext(ctx).First(&w, uint(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// SetWorkflowStatus transitions a workflow's status. Monotonicity is
// enforced here; the retry tool bypasses it via ReopenWorkflow
func (s *Store) SetWorkflowStatus(
	ctx context.Context, id api.WorkflowID, status api.WorkflowStatus,
) error {
	w, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status == status {
		return nil
	}
	if !w.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s",
			ErrStatusRegression, w.Status, status)
	}
	return s.db.WithContext(ctx).Model(&Workflow{}).
		Where("id = ?", uint(id)).
		Update("status", status).Error
}

// SetWorkflowFailed marks a workflow failed and records the step kind
// that triggered the failure so it stays queryable
func (s *Store) SetWorkflowFailed(
	ctx context.Context, id api.WorkflowID, stepKind api.StepKind,
) error {
	w, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status == api.WorkflowFailed {
		return nil
	}
	if !w.Status.CanTransition(api.WorkflowFailed) {
		return fmt.Errorf("%w: %s -> %s",
			ErrStatusRegression, w.Status, api.WorkflowFailed)
	}
	return s.db.WithContext(ctx).Model(&Workflow{}).
		Where("id = ?", uint(id)).
		Updates(map[string]any{
			"status":           api.WorkflowFailed,
			"failed_step_kind": stepKind,
		}).Error
}

// ReopenWorkflow moves a workflow back to inProgress. Retry tool only
func (s *Store) ReopenWorkflow(ctx context.Context, id api.WorkflowID) error {
	return s.db.WithContext(ctx).Model(&Workflow{}).
		Where("id = ?", uint(id)).
		Updates(map[string]any{
			"status":           api.WorkflowInProgress,
			"failed_step_kind": "",
		}).Error
}

// InsertStep inserts a queued step row for the workflow, guarded by
// the unique hash. Returns ErrDuplicateStep when a live row already
// holds the hash
func (s *Store) InsertStep(
	ctx context.Context, workflowID api.WorkflowID, kind api.StepKind,
	params api.Params,
) (*WorkflowStep, error) {
	status := api.StepQueued
	hash := api.UniqueHash(workflowID, kind)
	step := &WorkflowStep{
		WorkflowID: uint(workflowID),
		Kind:       kind,
		Status:     &status,
		UniqueHash: &hash,
		Params:     params,
	}
	err := s.db.WithContext(ctx).Create(step).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: workflow %d kind %s",
			ErrDuplicateStep, workflowID, kind)
	}
	if err != nil {
		return nil, err
	}
	return step, nil
}

// GetStep loads a step by id
func (s *Store) GetStep(
	ctx context.Context, id api.StepID,
) (*WorkflowStep, error) {
	var step WorkflowStep
	err := s.db.WithContext(ctx).First(&step, uint(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrStepNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// SetStepStatus updates a step's status
func (s *Store) SetStepStatus(
	ctx context.Context, id api.StepID, status api.StepStatus,
) error {
	return s.db.WithContext(ctx).Model(&WorkflowStep{}).
		Where("id = ?", uint(id)).
		Update("status", status).Error
}

// SetStepResult records the handler outcome on the step row: final
// status, merged output params, and the transaction hash if any
func (s *Store) SetStepResult(
	ctx context.Context, id api.StepID, status api.StepStatus,
	params api.Params, txHash string,
) error {
	updates := map[string]any{"status": status}
	if params != nil {
		updates["request_params"] = params
	}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	return s.db.WithContext(ctx).Model(&WorkflowStep{}).
		Where("id = ?", uint(id)).
		Updates(updates).Error
}

// ListSteps returns all steps of a workflow in insertion order
func (s *Store) ListSteps(
	ctx context.Context, workflowID api.WorkflowID,
) ([]*WorkflowStep, error) {
	var steps []*WorkflowStep
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", uint(workflowID)).
		Order("id").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// RewindSteps clears status and unique hash for every step of the
// workflow with id >= from, erasing their terminal state and freeing
// the dedup guard so the graph can be replayed from that point
func (s *Store) RewindSteps(
	ctx context.Context, workflowID api.WorkflowID, from api.StepID,
) error {
	return s.db.WithContext(ctx).Model(&WorkflowStep{}).
		Where("workflow_id = ? AND id >= ?", uint(workflowID), uint(from)).
		Updates(map[string]any{
			"status":      nil,
			"unique_hash": nil,
		}).Error
}

// InsertRetryStep inserts a fresh queued row duplicating the rewound
// target's kind and unique hash
func (s *Store) InsertRetryStep(
	ctx context.Context, target *WorkflowStep,
) (*WorkflowStep, error) {
	status := api.StepQueued
	hash := api.UniqueHash(api.WorkflowID(target.WorkflowID), target.Kind)
	step := &WorkflowStep{
		WorkflowID: target.WorkflowID,
		Kind:       target.Kind,
		Status:     &status,
		UniqueHash: &hash,
		Params:     target.Params,
	}
	err := s.db.WithContext(ctx).Create(step).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: workflow %d kind %s",
			ErrDuplicateStep, target.WorkflowID, target.Kind)
	}
	if err != nil {
		return nil, err
	}
	return step, nil
}

// RecordStart upserts a heartbeat row marking the process as started
func (s *Store) RecordStart(
	ctx context.Context, process string, kind ProcessKind, intervalSec int,
) error {
	now := time.Now()
	var hb ProcessHeartbeat
	err := s.db.WithContext(ctx).
		Where("process = ?", process).
		First(&hb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&ProcessHeartbeat{
			Process:       process,
			Kind:          kind,
			IntervalSec:   intervalSec,
			LastStartedAt: &now,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&hb).
		Updates(map[string]any{
			"kind":            kind,
			"interval_sec":    intervalSec,
			"last_started_at": now,
		}).Error
}

// RecordStop marks the process as cleanly stopped
func (s *Store) RecordStop(ctx context.Context, process string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&ProcessHeartbeat{}).
		Where("process = ?", process).
		Update("last_ended_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrHeartbeatNotFound, process)
	}
	return nil
}

// ListHeartbeats returns all registered worker-process records
func (s *Store) ListHeartbeats(
	ctx context.Context,
) ([]*ProcessHeartbeat, error) {
	var rows []*ProcessHeartbeat
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetHeartbeat loads one process record by name
func (s *Store) GetHeartbeat(
	ctx context.Context, process string,
) (*ProcessHeartbeat, error) {
	var hb ProcessHeartbeat
	err := s.db.WithContext(ctx).
		Where("process = ?", process).
		First(&hb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrHeartbeatNotFound, process)
	}
	if err != nil {
		return nil, err
	}
	return &hb, nil
}
