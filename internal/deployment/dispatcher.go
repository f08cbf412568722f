package deployment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the pause between accepting a trigger and starting the run.
const DefaultDelay = time.Second

// SubmitResult tells the caller what happened to a trigger.
type SubmitResult int

const (
	// Queued means the trigger took the empty pending slot.
	Queued SubmitResult = iota
	// Coalesced means the trigger replaced one that was already pending.
	Coalesced
	// Rejected means the dispatcher is shutting down.
	Rejected
)

func (r SubmitResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case Coalesced:
		return "coalesced"
	default:
		return "rejected"
	}
}

// Dispatcher hands triggers to a single worker goroutine. At most one run
// executes and at most one trigger waits; a trigger arriving while another
// is pending replaces it, so a burst of pushes produces one follow-up run
// for the newest commit.
type Dispatcher struct {
	orch   *Orchestrator
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending *Trigger
	closed  bool
	wake    chan struct{}
	wg      sync.WaitGroup
	done    chan struct{}
	start   sync.Once

	onDone func(*Run)
}

// NewDispatcher creates a dispatcher for orch. A negative delay is treated
// as zero.
func NewDispatcher(orch *Orchestrator, delay time.Duration, logger *slog.Logger) *Dispatcher {
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		orch:   orch,
		delay:  delay,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// OnRunFinished registers a callback invoked by the worker after each run.
func (d *Dispatcher) OnRunFinished(fn func(*Run)) {
	d.onDone = fn
}

// Start launches the worker. It stops taking new triggers once ctx is
// cancelled but lets the in-flight run finish.
func (d *Dispatcher) Start(ctx context.Context) {
	d.start.Do(func() {
		go d.loop(ctx)
	})
}

// Submit schedules t without blocking.
func (d *Dispatcher) Submit(t Trigger) SubmitResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Rejected
	}

	result := Queued
	if d.pending != nil {
		result = Coalesced
		d.logger.Info("deployment trigger coalesced",
			"replaced_commit", d.pending.Commit,
			"commit", t.Commit,
		)
	} else {
		d.wg.Add(1)
	}
	d.pending = &t

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return result
}

// Pending reports whether a trigger is waiting for the worker.
func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Busy reports whether a run is executing.
func (d *Dispatcher) Busy() bool {
	return d.orch.Busy()
}

// Active returns a snapshot of the executing run, or nil.
func (d *Dispatcher) Active() *Run {
	return d.orch.Active()
}

// Wait blocks until every accepted trigger has been run or dropped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Done is closed when the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return
		case <-d.wake:
		}

		// Let the trigger settle so a quick succession of pushes collapses.
		if !sleep(ctx, d.delay) {
			d.shutdown()
			return
		}

		t, ok := d.take()
		if !ok {
			continue
		}
		d.execute(ctx, t)
		d.wg.Done()
	}
}

func (d *Dispatcher) take() (Trigger, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return Trigger{}, false
	}
	t := *d.pending
	d.pending = nil
	return t, true
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.pending != nil {
		d.logger.Warn("dropping pending deployment on shutdown", "commit", d.pending.Commit)
		d.pending = nil
		d.wg.Done()
	}
}

func (d *Dispatcher) execute(ctx context.Context, t Trigger) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("deployment worker recovered from panic", "panic", p)
		}
	}()

	// The run outlives shutdown; the orchestrator's watchdog bounds it.
	run, err := d.orch.Run(context.WithoutCancel(ctx), t)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			d.logger.Warn("deployment skipped, another run holds the lock", "commit", t.Commit)
			return
		}
		d.logger.Error("deployment could not start", "error", err)
		return
	}
	if d.onDone != nil {
		d.onDone(run)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
