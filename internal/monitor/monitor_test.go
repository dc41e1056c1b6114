package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stakemint/sagad/internal/monitor"
	"github.com/stakemint/sagad/internal/store"
)

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

func TestAuditContinuousOverdue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A continuous worker that stopped ten minutes ago on a
	// five-minute restart cycle is exactly at the tolerance edge and
	// must alert
	require.NoError(t, s.RecordStart(ctx, "dispatch-1", store.ProcessContinuous, 300))
	require.NoError(t, s.RecordStop(ctx, "dispatch-1"))

	hb, err := s.GetHeartbeat(ctx, "dispatch-1")
	require.NoError(t, err)
	require.NotNil(t, hb.LastEndedAt)
	now := hb.LastEndedAt.Add(10 * time.Minute)

	alerts, err := monitor.New(s).Audit(ctx, now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "dispatch-1", alerts[0].Process)
	assert.Equal(t, store.ProcessContinuous, alerts[0].Kind)
}

func TestAuditContinuousWithinWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordStart(ctx, "dispatch-1", store.ProcessContinuous, 300))
	require.NoError(t, s.RecordStop(ctx, "dispatch-1"))

	hb, err := s.GetHeartbeat(ctx, "dispatch-1")
	require.NoError(t, err)
	now := hb.LastEndedAt.Add(9 * time.Minute)

	alerts, err := monitor.New(s).Audit(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAuditContinuousStillRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No stop marker yet; a running continuous worker is never overdue
	require.NoError(t, s.RecordStart(ctx, "dispatch-1", store.ProcessContinuous, 300))

	alerts, err := monitor.New(s).Audit(
		ctx, time.Now().Add(24*time.Hour),
	)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAuditPeriodic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordStart(ctx, "audit-cron", store.ProcessPeriodic, 60))
	hb, err := s.GetHeartbeat(ctx, "audit-cron")
	require.NoError(t, err)
	require.NotNil(t, hb.LastStartedAt)

	auditor := monitor.New(s)

	alerts, err := auditor.Audit(ctx, hb.LastStartedAt.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts)

	alerts, err = auditor.Audit(ctx, hb.LastStartedAt.Add(7*time.Minute))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.InDelta(t, time.Minute, alerts[0].Overdue, float64(time.Second))
}

func TestAuditProcess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordStart(ctx, "audit-cron", store.ProcessPeriodic, 60))
	require.NoError(t, s.RecordStart(ctx, "other-cron", store.ProcessPeriodic, 60))

	hb, err := s.GetHeartbeat(ctx, "audit-cron")
	require.NoError(t, err)
	now := hb.LastStartedAt.Add(time.Hour)

	alerts, err := monitor.New(s).AuditProcess(ctx, now, "audit-cron")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "audit-cron", alerts[0].Process)

	_, err = monitor.New(s).AuditProcess(ctx, now, "ghost")
	assert.ErrorIs(t, err, store.ErrHeartbeatNotFound)
}
