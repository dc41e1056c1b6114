package retry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stakemint/sagad/internal/retry"
	"github.com/stakemint/sagad/internal/router"
	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/api"
)

type (
	capturePublisher struct {
		mu      sync.Mutex
		notices []*api.Notice
	}

	fakeCache struct {
		invalidated []api.WorkflowID
		err         error
	}
)

func (p *capturePublisher) Publish(_ context.Context, n *api.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
	return nil
}

func (c *fakeCache) InvalidateWorkflow(
	_ context.Context, id api.WorkflowID,
) error {
	c.invalidated = append(c.invalidated, id)
	return c.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s, err := store.New(db)
	require.NoError(t, err)
	return s
}

func doneRegistry(kinds ...api.StepKind) api.Registry {
	registry := api.Registry{}
	for _, kind := range kinds {
		registry[kind] = api.HandlerFunc(
			func(context.Context, api.Params) (*api.HandlerResult, error) {
				return api.Done(nil), nil
			},
		)
	}
	return registry
}

// seedFailedWorkflow builds a device-auth workflow whose later steps
// all ran and whose verify step is the replay target
func seedFailedWorkflow(
	t *testing.T, s *store.Store,
) (api.WorkflowID, []*store.WorkflowStep) {
	t.Helper()
	ctx := context.Background()

	w, err := s.CreateWorkflow(ctx, api.WorkflowDeviceAuth, "client-1",
		api.Params{"deviceId": "d-1"})
	require.NoError(t, err)
	workflowID := api.WorkflowID(w.ID)
	require.NoError(t,
		s.SetWorkflowStatus(ctx, workflowID, api.WorkflowInProgress))

	kinds := []api.StepKind{
		api.StepInit, api.StepVerifyDevice, api.StepRegisterDevice,
	}
	var steps []*store.WorkflowStep
	for _, kind := range kinds {
		step, err := s.InsertStep(ctx, workflowID, kind, w.Params)
		require.NoError(t, err)
		require.NoError(t,
			s.SetStepStatus(ctx, step.StepID(), api.StepProcessed))
		steps = append(steps, step)
	}
	require.NoError(t,
		s.SetWorkflowFailed(ctx, workflowID, api.StepRegisterDevice))
	return workflowID, steps
}

func TestRetryStepRewindsAndReplays(t *testing.T) {
	s := newTestStore(t)
	pub := &capturePublisher{}
	cache := &fakeCache{}
	r := router.New(s, doneRegistry(api.StepVerifyDevice), pub)
	runner := retry.New(s, r, cache)
	ctx := context.Background()

	workflowID, steps := seedFailedWorkflow(t, s)
	target := steps[1]

	require.NoError(t, runner.RetryStep(ctx, target.StepID()))

	// Rows from the target onward are rewound; earlier history stays
	init, err := s.GetStep(ctx, steps[0].StepID())
	require.NoError(t, err)
	assert.False(t, init.Retried())

	for _, old := range steps[1:] {
		rewound, err := s.GetStep(ctx, old.StepID())
		require.NoError(t, err)
		assert.True(t, rewound.Retried())
		assert.Nil(t, rewound.UniqueHash)
	}

	// The replacement ran through the router and advanced the graph
	all, err := s.ListSteps(ctx, workflowID)
	require.NoError(t, err)
	require.Len(t, all, 5)

	fresh := all[3]
	assert.Equal(t, api.StepVerifyDevice, fresh.Kind)
	require.NotNil(t, fresh.Status)
	assert.Equal(t, api.StepProcessed, *fresh.Status)

	successor := all[4]
	assert.Equal(t, api.StepRegisterDevice, successor.Kind)

	w, err := s.GetWorkflow(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, api.WorkflowInProgress, w.Status)

	assert.Equal(t, []api.WorkflowID{workflowID}, cache.invalidated)
}

func TestRetryStepCacheFailureIsNotFatal(t *testing.T) {
	s := newTestStore(t)
	pub := &capturePublisher{}
	cache := &fakeCache{err: errors.New("redis down")}
	r := router.New(s, doneRegistry(api.StepVerifyDevice), pub)
	runner := retry.New(s, r, cache)

	_, steps := seedFailedWorkflow(t, s)
	assert.NoError(t,
		runner.RetryStep(context.Background(), steps[1].StepID()))
}

func TestRetryStepWithoutCache(t *testing.T) {
	s := newTestStore(t)
	pub := &capturePublisher{}
	r := router.New(s, doneRegistry(api.StepVerifyDevice), pub)
	runner := retry.New(s, r, nil)

	_, steps := seedFailedWorkflow(t, s)
	assert.NoError(t,
		runner.RetryStep(context.Background(), steps[1].StepID()))
}

func TestRetryStepUnknownStep(t *testing.T) {
	s := newTestStore(t)
	runner := retry.New(s, router.New(s, api.Registry{}, &capturePublisher{}), nil)

	err := runner.RetryStep(context.Background(), api.StepID(999))
	assert.Error(t, err)
}
