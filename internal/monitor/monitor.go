// Package monitor audits worker-process heartbeats. It catches
// dispatch processes that died without recording a stop marker. Pure
// read-and-compare; it never mutates workflow state, and alerts go to
// the error log rather than process exit codes.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/log"
)

type (
	// Alert names a process whose heartbeat is overdue
	Alert struct {
		Process string
		Kind    store.ProcessKind
		Overdue time.Duration
	}

	// Auditor runs the liveness check
	Auditor struct {
		store *store.Store
	}
)

// Tolerance is added to every process's expected restart interval
// before an alert is raised
const Tolerance = 5 * time.Minute

// New creates an auditor over the heartbeat table
func New(s *store.Store) *Auditor {
	return &Auditor{store: s}
}

// Audit compares every registered process against its expected cycle
// interval and raises one high-severity alert per overdue process.
// Continuous workers are judged by when they last ended a cycle,
// periodic ones by when they last started
func (a *Auditor) Audit(ctx context.Context, now time.Time) ([]Alert, error) {
	rows, err := a.store.ListHeartbeats(ctx)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, hb := range rows {
		overdue, ok := overdueBy(hb, now)
		if !ok {
			continue
		}
		alert := Alert{
			Process: hb.Process,
			Kind:    hb.Kind,
			Overdue: overdue,
		}
		alerts = append(alerts, alert)
		slog.Error("Worker process heartbeat overdue",
			log.Process(alert.Process),
			log.Status(alert.Kind),
			slog.Duration("overdue", alert.Overdue))
	}
	return alerts, nil
}

// AuditProcess audits a single process by name
func (a *Auditor) AuditProcess(
	ctx context.Context, now time.Time, process string,
) ([]Alert, error) {
	hb, err := a.store.GetHeartbeat(ctx, process)
	if err != nil {
		return nil, err
	}
	overdue, ok := overdueBy(hb, now)
	if !ok {
		return nil, nil
	}
	alert := Alert{Process: hb.Process, Kind: hb.Kind, Overdue: overdue}
	slog.Error("Worker process heartbeat overdue",
		log.Process(alert.Process),
		log.Status(alert.Kind),
		slog.Duration("overdue", alert.Overdue))
	return []Alert{alert}, nil
}

func overdueBy(hb *store.ProcessHeartbeat, now time.Time) (time.Duration, bool) {
	var last *time.Time
	switch hb.Kind {
	case store.ProcessContinuous:
		last = hb.LastEndedAt
	case store.ProcessPeriodic:
		last = hb.LastStartedAt
	}
	if last == nil {
		return 0, false
	}

	expected := time.Duration(hb.IntervalSec)*time.Second + Tolerance
	elapsed := now.Sub(*last)
	if elapsed < expected {
		return 0, false
	}
	return elapsed - expected, true
}
