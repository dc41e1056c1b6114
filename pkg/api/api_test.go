package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakemint/sagad/pkg/api"
)

func TestWorkflowKindValidate(t *testing.T) {
	assert.NoError(t, api.WorkflowSessionAuth.Validate())
	assert.ErrorIs(t,
		api.WorkflowKind("teleport").Validate(),
		api.ErrInvalidWorkflowKind)
}

func TestStatusMonotonic(t *testing.T) {
	assert.True(t,
		api.WorkflowQueued.CanTransition(api.WorkflowInProgress))
	assert.True(t,
		api.WorkflowInProgress.CanTransition(api.WorkflowCompleted))
	assert.True(t,
		api.WorkflowInProgress.CanTransition(api.WorkflowFailed))

	assert.False(t,
		api.WorkflowCompleted.CanTransition(api.WorkflowInProgress))
	assert.False(t,
		api.WorkflowFailed.CanTransition(api.WorkflowQueued))
	assert.False(t,
		api.WorkflowCompleted.CanTransition(api.WorkflowFailed))
}

func TestStepStatusSettled(t *testing.T) {
	assert.True(t, api.StepProcessed.Settled())
	assert.True(t, api.StepFailed.Settled())
	assert.True(t, api.StepTimeout.Settled())
	assert.False(t, api.StepQueued.Settled())
	assert.False(t, api.StepPending.Settled())
}

func TestUniqueHash(t *testing.T) {
	h1 := api.UniqueHash(1, api.StepSubmitTx)
	h2 := api.UniqueHash(1, api.StepSubmitTx)
	h3 := api.UniqueHash(2, api.StepSubmitTx)
	h4 := api.UniqueHash(1, api.StepCheckTx)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h1, h4)
	assert.Len(t, h1, 64)
}

func TestParamsMerge(t *testing.T) {
	base := api.Params{"a": "1", "b": "2"}
	merged := base.Merge(api.Params{"b": "3", "c": "4"})

	assert.Equal(t, api.Params{"a": "1", "b": "3", "c": "4"}, merged)
	assert.Equal(t, "2", base.String("b"))
}

func TestParamsRoundTrip(t *testing.T) {
	p := api.Params{"nonce": float64(7), "address": "0xA1"}

	val, err := p.Value()
	require.NoError(t, err)

	var restored api.Params
	require.NoError(t, restored.Scan(val))

	assert.Equal(t, "0xA1", restored.String("address"))
	n, ok := restored.Uint64("nonce")
	require.True(t, ok)
	assert.Equal(t, uint64(7), n)
}

func TestParamsScanNil(t *testing.T) {
	var p api.Params
	require.NoError(t, p.Scan(nil))
	assert.Empty(t, p)
}

func TestNoticeCodec(t *testing.T) {
	n := &api.Notice{
		StepID:     12,
		WorkflowID: 3,
		StepKind:   api.StepSubmitTx,
		Params:     api.Params{"chain": "eth"},
	}

	body, err := n.Encode()
	require.NoError(t, err)

	decoded, err := api.DecodeNotice(body)
	require.NoError(t, err)
	assert.Equal(t, n.StepID, decoded.StepID)
	assert.Equal(t, n.StepKind, decoded.StepKind)
	assert.Equal(t, "eth", decoded.Params.String("chain"))
}

func TestNoticeDecodeRejects(t *testing.T) {
	_, err := api.DecodeNotice([]byte("not json"))
	assert.Error(t, err)

	_, err = api.DecodeNotice([]byte(`{"workflow_id":1}`))
	assert.ErrorIs(t, err, api.ErrEmptyNotice)
}
