package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
	"github.com/ai-benchmarks/aiperf/internal/dataset"
	"github.com/ai-benchmarks/aiperf/internal/events"
	"github.com/ai-benchmarks/aiperf/internal/otel"
	"github.com/ai-benchmarks/aiperf/internal/records"
	"github.com/ai-benchmarks/aiperf/internal/timing"
	"github.com/ai-benchmarks/aiperf/internal/worker"
)

// ProfileConfig bundles what a Controller needs to run one benchmark
// profile end to end.
type ProfileConfig struct {
	Warmup    timing.PhaseConfig
	Profiling timing.PhaseConfig
	Workers   []*worker.Worker
}

// Controller is the System Controller: it wires the four subordinate
// services through an explicit, compile-time-known construction table
// (not a runtime plugin registry, per the Design Notes), drives the
// phase state machine, and implements the required graceful shutdown
// ordering: Controller -> WorkerManager -> Timing Manager (drain) ->
// Workers (complete in-flight) -> Records Manager (flush, export) ->
// Controller exit.
type Controller struct {
	serviceID string
	logger    *slog.Logger

	deps    bus.Deps
	dataset *dataset.Manager
	timing  *timing.Manager
	records *records.Manager
	workers []*worker.Worker

	mu    sync.Mutex
	state RunState

	serviceErrs atomic.Int64
}

// New constructs a Controller over already-constructed subordinate
// services. Building those services is itself the factory step named in
// §4.6; the caller constructs each one directly (as cmd/aiperf-bench
// does), with no runtime registry, since the set of five roles is fixed
// at compile time.
func New(serviceID string, logger *slog.Logger, deps bus.Deps, ds *dataset.Manager, tm *timing.Manager, rm *records.Manager, workers []*worker.Worker) *Controller {
	return &Controller{
		serviceID: serviceID,
		logger:    logger,
		deps:      deps,
		dataset:   ds,
		timing:    tm,
		records:   rm,
		workers:   workers,
		state:     StateCreated,
	}
}

func (c *Controller) transition(to RunState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		return NewInvalidTransitionError(c.state, to)
	}
	c.logger.Info("phase transition", "from", c.state, "to", to)
	events.GetGlobalEventLogger().LogPhaseTransition(string(c.state), string(to), "controller_transition")
	switch to {
	case StateWarmupRunning:
		otel.GetGlobalMetrics().SetCurrentPhase(0)
	case StateProfilingRunning:
		otel.GetGlobalMetrics().SetCurrentPhase(1)
	}
	c.state = to
	return nil
}

func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run executes the full ProfileConfigure -> ProfileStart(warmup) ->
// ProfileStart(profiling) -> ProfileStop -> export sequence, returning
// the assembled ProfileResults once the Records Manager has flushed and
// exported.
func (c *Controller) Run(ctx context.Context, cfg ProfileConfig) (*records.ProfileResults, error) {
	c.deps.Events.Subscribe(bus.TypeServiceError, "", c.onServiceError)

	if err := c.startServices(ctx); err != nil {
		return nil, NewInternalError(c.state, err)
	}
	c.records.SetConfigEcho(struct {
		Warmup    timing.PhaseConfig `json:"warmup"`
		Profiling timing.PhaseConfig `json:"profiling"`
	}{cfg.Warmup, cfg.Profiling})

	if cfg.Warmup.Mode != "" {
		if err := c.transition(StateWarmupRunning); err != nil {
			return nil, err
		}
		c.publishPhase(bus.TypeProfileStart, model.PhaseWarmup)
		if err := c.timing.RunPhase(ctx, cfg.Warmup); err != nil {
			return nil, NewInternalError(c.state, err)
		}
	}

	if err := c.transition(StateProfilingRunning); err != nil {
		return nil, err
	}
	c.publishPhase(bus.TypeProfileStart, model.PhaseProfiling)
	if err := c.timing.RunPhase(ctx, cfg.Profiling); err != nil {
		return nil, NewInternalError(c.state, err)
	}
	c.publishPhase(bus.TypeCreditsComplete, model.PhaseProfiling)

	if err := c.shutdown(ctx); err != nil {
		return nil, err
	}
	results := c.records.Results()
	return &results, nil
}

func (c *Controller) startServices(ctx context.Context) error {
	if err := c.dataset.Init(ctx, c.deps); err != nil {
		return err
	}
	if err := c.dataset.Start(ctx); err != nil {
		return fmt.Errorf("dataset manager: %w", err)
	}

	if err := c.timing.Init(ctx, c.deps); err != nil {
		return err
	}
	if err := c.timing.Start(ctx); err != nil {
		return fmt.Errorf("timing manager: %w", err)
	}

	if err := c.records.Init(ctx, c.deps); err != nil {
		return err
	}
	if err := c.records.Start(ctx); err != nil {
		return fmt.Errorf("records manager: %w", err)
	}

	for _, w := range c.workers {
		if err := w.Init(ctx, c.deps); err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}
	return nil
}

// shutdown implements the exact ordering required by §5: Controller
// stops issuing work first, then the Timing Manager drains, then
// Workers finish in-flight requests (their credit queue is closed so
// Pop returns once drained), then the Records Manager flushes and
// exports, and only then does the Controller itself exit.
func (c *Controller) shutdown(ctx context.Context) error {
	if err := c.transition(StateStopping); err != nil {
		return err
	}
	c.publishPhase(bus.TypeProfileStop, model.PhaseProfiling)

	if err := c.timing.Stop(ctx); err != nil {
		c.logger.Warn("timing manager stop error", "error", err)
	}

	c.deps.Credits.Close()
	for _, w := range c.workers {
		if err := w.Stop(ctx); err != nil {
			c.logger.Warn("worker stop error", "error", err)
		}
	}

	c.deps.Records.Close()
	if err := c.transition(StateAnalyzing); err != nil {
		return err
	}
	if err := c.records.Stop(ctx); err != nil {
		c.logger.Warn("records manager stop error", "error", err)
		return c.transition(StateFailed)
	}

	return c.transition(StateCompleted)
}

// Abort performs the immediate (non-graceful) shutdown path: in-flight
// requests are cancelled rather than allowed to finish, per §4.6's
// distinct immediate/graceful StopRun behaviors.
func (c *Controller) Abort(ctx context.Context, cancel context.CancelFunc) error {
	if err := c.transition(StateStopping); err != nil {
		return err
	}
	c.records.SetCancelled(true)
	cancel() // propagates to every in-flight HTTP request's context
	_ = c.shutdownBestEffort(ctx)
	return c.transition(StateAborted)
}

func (c *Controller) shutdownBestEffort(ctx context.Context) error {
	c.timing.Stop(ctx)
	c.deps.Credits.Close()
	for _, w := range c.workers {
		w.Stop(ctx)
	}
	c.deps.Records.Close()
	return c.records.Stop(ctx)
}

func (c *Controller) publishPhase(msgType bus.MessageType, phase model.Phase) {
	c.deps.Events.Publish(bus.Message{
		Envelope: bus.NewEnvelope(msgType, c.serviceID),
		Payload:  phase,
	})
}

func (c *Controller) onServiceError(msg bus.Message) {
	c.serviceErrs.Add(1)
	c.logger.Error("service error", "from", msg.ServiceID, "payload", msg.Payload)
	events.GetGlobalEventLogger().LogWorkerLost(msg.ServiceID, fmt.Sprintf("%v", msg.Payload))
}

// ServiceErrorCount reports how many ServiceError messages have been
// observed, for tests and the demonstration CLI's final log line.
func (c *Controller) ServiceErrorCount() int64 { return c.serviceErrs.Load() }
