// Package sweep runs MOSFET characterization sweeps: it drives the
// front-end across a two dimensional voltage grid, streams samples to
// storage and analyzes every transfer curve as it completes.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/itohio/gofet/pkg/config"
	"github.com/itohio/gofet/pkg/hal"
	"github.com/itohio/gofet/pkg/logq"
	"github.com/itohio/gofet/pkg/sample"
	"github.com/itohio/gofet/pkg/status"
)

var (
	// ErrAlreadyRunning is returned by Start while a sweep is in progress.
	ErrAlreadyRunning = errors.New("sweep already running")
	// ErrInvalidConfig is returned by Start for configs outside the safe envelope.
	ErrInvalidConfig = errors.New("invalid sweep config")
	// ErrStorageExhausted is returned by Start when storage admission fails.
	ErrStorageExhausted = errors.New("storage exhausted")

	errCancelled = errors.New("sweep cancelled")
)

// State is the controller state.
type State int32

const (
	Idle State = iota
	Running
	Cancelling
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Cancelling:
		return "Cancelling"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Outcome is how a sweep ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Store is the storage the controller writes measurement files to.
type Store interface {
	CheckCapacity() bool
	Exists(name string) bool
	Create(name string) (io.WriteCloser, error)
	Delete(name string) bool
}

// Observer receives sweep events. Calls are made from the worker and must
// not block.
type Observer interface {
	SweepStarted(runID string, cfg Config)
	RowWritten()
	CurveAnalyzed(meta sample.CurveMeta)
	SweepFinished(runID string, outcome Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) SweepStarted(string, Config)                  {}
func (nopObserver) RowWritten()                                  {}
func (nopObserver) CurveAnalyzed(sample.CurveMeta)               {}
func (nopObserver) SweepFinished(string, Outcome, time.Duration) {}

// Options tunes the controller.
type Options struct {
	Limits     Limits
	FlushEvery int           // Rows between explicit flushes
	YieldEvery int           // Rows between cooperative yields
	CancelWait time.Duration // How long Cancel waits for the worker
	StatusWait time.Duration // Bounded wait for progress snapshots
	Now        func() time.Time
}

// OptionsFrom derives controller options from the configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Limits:     LimitsFrom(cfg),
		FlushEvery: cfg.Sweep.FlushEvery,
		YieldEvery: cfg.Sweep.YieldEvery,
		CancelWait: cfg.Sweep.CancelWait,
		StatusWait: cfg.Sweep.StatusWait,
	}
}

// Controller owns the sweep state machine. At most one worker runs at a time
// and it is the only writer of the progress record and the device.
type Controller struct {
	dev    hal.Device
	store  Store
	log    logq.Logger
	status *status.Tracker
	obs    Observer
	opts   Options

	state atomic.Int32

	mu     sync.Mutex // Serializes Start and Cancel handoff
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle controller.
func New(dev hal.Device, store Store, log logq.Logger, opts Options) *Controller {
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 50
	}
	if opts.YieldEvery <= 0 {
		opts.YieldEvery = 10
	}
	if opts.CancelWait <= 0 {
		opts.CancelWait = 200 * time.Millisecond
	}
	if opts.StatusWait <= 0 {
		opts.StatusWait = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		dev:    dev,
		store:  store,
		log:    log,
		status: status.NewTracker(),
		obs:    nopObserver{},
		opts:   opts,
	}
}

// WithObserver registers the sweep event observer.
func (c *Controller) WithObserver(obs Observer) *Controller {
	if obs == nil {
		obs = nopObserver{}
	}
	c.obs = obs
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Progress returns a snapshot of the progress record, false when it could
// not be read within the configured wait.
func (c *Controller) Progress() (status.Progress, bool) {
	return c.status.Snapshot(c.opts.StatusWait)
}

// Start validates cfg, reserves an output file name and spawns the worker.
// It returns the file name without waiting for the sweep.
func (c *Controller) Start(cfg Config) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Running, Cancelling:
		return "", ErrAlreadyRunning
	}

	if cfg.BaseName == "" {
		cfg.BaseName = DefaultBaseName
	}
	if err := cfg.Validate(c.opts.Limits); err != nil {
		return "", err
	}
	if !c.store.CheckCapacity() {
		return "", ErrStorageExhausted
	}

	name := c.reserveName(cfg.BaseName)
	runID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	c.status.Begin(runID, name)
	c.state.Store(int32(Running))

	c.log.Infof("Sweep %s started: %s, %d points, %s", runID, cfg.Axis, cfg.Points(), name)
	go c.run(ctx, &run{
		id:     runID,
		name:   name,
		cfg:    cfg,
		done:   done,
		cancel: cancel,
		start:  c.opts.Now(),
	})

	return name, nil
}

// reserveName picks "<base>_<unix>.csv", bumping the timestamp while a file
// with that name exists.
func (c *Controller) reserveName(base string) string {
	ts := c.opts.Now().Unix()
	name := fileName(base, ts)
	for c.store.Exists(name) {
		ts++
		name = fileName(base, ts)
	}
	return name
}

// Cancel asks a running sweep to stop and waits briefly for the worker to
// observe it. It returns false when no sweep was running. A sweep that
// finishes its last sample before noticing the request still completes.
func (c *Controller) Cancel(ctx context.Context) bool {
	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(Running), int32(Cancelling)) {
		c.mu.Unlock()
		return false
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	c.log.Infof("Sweep cancellation requested")
	cancel()

	timer := time.NewTimer(c.opts.CancelWait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		c.log.Warnf("Sweep worker still running %v after cancellation", c.opts.CancelWait)
	case <-ctx.Done():
	}
	return true
}

// Wait blocks until the current worker, if any, has exited.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any running sweep and waits for its worker.
func (c *Controller) Close(ctx context.Context) error {
	c.Cancel(ctx)
	return c.Wait(ctx)
}
