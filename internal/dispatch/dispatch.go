// Package dispatch consumes step-ready notices from the broker and
// invokes the router for each under bounded concurrency. Delivery is
// at-least-once; retries happen at the workflow-step level, never at
// the transport level.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gocloud.dev/pubsub"

	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/api"
	"github.com/stakemint/sagad/pkg/log"
)

type (
	// StepRouter executes one step per invocation
	StepRouter interface {
		Route(ctx context.Context, stepID api.StepID) error
	}

	// Heartbeats records process start/stop markers
	Heartbeats interface {
		RecordStart(
			ctx context.Context, process string, kind store.ProcessKind,
			intervalSec int,
		) error
		RecordStop(ctx context.Context, process string) error
	}

	// Dispatcher is one bounded-concurrency consumer process. Multiple
	// dispatchers run in parallel across machines; they coordinate only
	// through the store's unique-hash guard and broker acks
	Dispatcher struct {
		sub      *pubsub.Subscription
		router   StepRouter
		beats    Heartbeats
		tracker  *inFlight
		onStuck  func()
		cfg      Config
		tokens   chan struct{}
		wg       sync.WaitGroup
	}

	// Config bounds the dispatcher's concurrency and timing
	Config struct {
		Process      string
		Prefetch     int
		TaskTimeout  time.Duration
		DrainPoll    time.Duration
		ZombieCheck  time.Duration
		HeartbeatSec int
	}
)

var (
	ErrDrainTimeout = errors.New("drain timeout with tasks in flight")

	// ErrTrackerMismatch indicates a leaked task: the in-flight tracker
	// and the concurrency semaphore disagree. Should never happen
	ErrTrackerMismatch = errors.New("in-flight tracker mismatch")
)

// New creates a dispatcher over an open subscription. onStuck is
// called at most once when the zombie threshold is exceeded; the
// caller is expected to trigger process shutdown
func New(
	sub *pubsub.Subscription, router StepRouter, beats Heartbeats,
	cfg Config, onStuck func(),
) *Dispatcher {
	return &Dispatcher{
		sub:     sub,
		router:  router,
		beats:   beats,
		tracker: newInFlight(),
		onStuck: onStuck,
		cfg:     cfg,
		tokens:  make(chan struct{}, cfg.Prefetch),
	}
}

// Run consumes notices until ctx is canceled, then drains. It blocks
// for the lifetime of the process
func (d *Dispatcher) Run(ctx context.Context) error {
	err := d.beats.RecordStart(
		ctx, d.cfg.Process, store.ProcessContinuous, d.cfg.HeartbeatSec,
	)
	if err != nil {
		return err
	}
	slog.Info("Dispatcher started",
		log.Process(d.cfg.Process),
		slog.Int("prefetch", d.cfg.Prefetch))

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go d.watchZombies(watchCtx)

	d.receiveLoop(ctx)
	return d.drain()
}

// InFlight returns the current number of executing tasks
func (d *Dispatcher) InFlight() int {
	return d.tracker.Count()
}

// receiveLoop acquires a concurrency token before asking the broker
// for a message, so excess notices wait unacknowledged at the broker
// (backpressure) instead of piling up in memory
func (d *Dispatcher) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d.tokens <- struct{}{}:
		}

		msg, err := d.sub.Receive(ctx)
		if err != nil {
			<-d.tokens
			if ctx.Err() == nil {
				slog.Error("Broker receive failed", log.Error(err))
			}
			return
		}

		id := d.tracker.Add(time.Now().Add(d.cfg.TaskTimeout))
		d.wg.Add(1)
		go d.handle(msg, id)
	}
}

func (d *Dispatcher) handle(msg *pubsub.Message, id uint64) {
	defer func() {
		d.tracker.Remove(id)
		<-d.tokens
		d.wg.Done()
	}()

	notice, err := api.DecodeNotice(msg.Body)
	if err != nil {
		// Malformed payloads are acknowledged, not requeued
		slog.Error("Dropping unparseable notice", log.Error(err))
		msg.Ack()
		return
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), d.cfg.TaskTimeout,
	)
	defer cancel()

	if err := d.router.Route(ctx, notice.StepID); err != nil {
		// Storage-level failure: leave the message to the broker so a
		// redelivery can retry; the unique-hash guard keeps it safe
		slog.Error("Step routing failed",
			log.StepID(notice.StepID),
			log.StepKind(notice.StepKind),
			log.Error(err))
		if msg.Nackable() {
			msg.Nack()
			return
		}
	}
	msg.Ack()
}

// watchZombies periodically counts past-deadline tasks. Exceeding a
// quarter of the prefetch window means the process is wedged (a hung
// RPC call cannot be canceled from here), so it asks for its own
// shutdown and relies on broker redelivery after restart
func (d *Dispatcher) watchZombies(ctx context.Context) {
	threshold := max(1, d.cfg.Prefetch/4)
	ticker := time.NewTicker(d.cfg.ZombieCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			zombies := d.tracker.Zombies(now)
			if zombies <= threshold {
				continue
			}
			slog.Error("Stuck-task threshold exceeded, shutting down",
				log.Process(d.cfg.Process),
				slog.Int("zombies", zombies),
				slog.Int("threshold", threshold))
			if d.onStuck != nil {
				d.onStuck()
			}
			return
		}
	}
}

// drain waits for in-flight tasks to finish, verifies the tracker and
// the semaphore agree, and records the stopped heartbeat
func (d *Dispatcher) drain() error {
	slog.Info("Dispatcher draining",
		log.Process(d.cfg.Process),
		slog.Int("in_flight", d.tracker.Count()))

	for d.tracker.Count() > 0 {
		time.Sleep(d.cfg.DrainPoll)
	}
	d.wg.Wait()

	if held := len(d.tokens); held != 0 {
		slog.Error("Invariant violation during drain",
			slog.Int("tokens_held", held),
			log.Error(ErrTrackerMismatch))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.sub.Shutdown(ctx); err != nil {
		slog.Error("Subscription shutdown failed", log.Error(err))
	}
	if err := d.beats.RecordStop(ctx, d.cfg.Process); err != nil {
		return err
	}
	slog.Info("Dispatcher stopped", log.Process(d.cfg.Process))
	return nil
}
