// Package job implements the controller for the single in-flight batch
// job: its state machine, progress accounting, and final metrics.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagehub/internal/apperrors"
	"imagehub/internal/observability"
	"imagehub/internal/pool"
	"imagehub/internal/protocol"
)

// Broadcaster publishes one event to every connected observer.
type Broadcaster interface {
	Broadcast(ev protocol.Event)
}

// Store provides the input image set and output locations for a job.
type Store interface {
	ListInputs() ([]string, error)
	OutputPath(input string) string
	EnsureOutputDir() error
}

// Notifier receives job lifecycle notifications for external delivery.
type Notifier interface {
	JobStarted(jobID string, workers, total int)
	JobFinished(jobID string, stopped bool, snapshot MetricsSnapshot)
}

// Config holds the controller's collaborators.
type Config struct {
	Store      Store
	Dispatcher *pool.Dispatcher
	Hub        Broadcaster
	Notifier   Notifier               // optional
	Metrics    *observability.Metrics // optional

	// EngineAvailable reports whether a filter engine is wired in.
	EngineAvailable bool
	// TelemetryAvailable reports sampler health for status snapshots.
	TelemetryAvailable func() bool
}

// Controller owns the job state machine. All transitions happen under its
// mutex; every other component only reads snapshots or delivers events
// through it.
type Controller struct {
	ctx      context.Context
	store    Store
	pool     *pool.Dispatcher
	hub      Broadcaster
	notifier Notifier
	metrics  *observability.Metrics

	engineAvailable    bool
	telemetryAvailable func() bool
	cpuCount           int
	logger             *slog.Logger

	mu    sync.Mutex
	state State
	job   *Job
	run   *pool.Run
}

// NewController creates an idle controller. ctx bounds the lifetime of all
// job executions; cancelling it is server shutdown, not a job stop.
func NewController(ctx context.Context, cfg Config) *Controller {
	return &Controller{
		ctx:                ctx,
		store:              cfg.Store,
		pool:               cfg.Dispatcher,
		hub:                cfg.Hub,
		notifier:           cfg.Notifier,
		metrics:            cfg.Metrics,
		engineAvailable:    cfg.EngineAvailable,
		telemetryAvailable: cfg.TelemetryAvailable,
		cpuCount:           runtime.NumCPU(),
		logger:             slog.With("component", "controller"),
		state:              StateIdle,
	}
}

// Status returns the current state plus static system facts. Never mutates.
func (c *Controller) Status() protocol.StatusData {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	telemetry := false
	if c.telemetryAvailable != nil {
		telemetry = c.telemetryAvailable()
	}
	return protocol.StatusData{
		State:     string(state),
		CPUCount:  c.cpuCount,
		Filter:    c.engineAvailable,
		Telemetry: telemetry,
	}
}

// Start attempts the Idle -> Running transition. A start while a job is
// already running or stopping is rejected, not queued.
func (c *Controller) Start(ops []protocol.Operation, numWorkers int) error {
	if len(ops) == 0 {
		ops = protocol.DefaultOperations()
	}
	workers := clampWorkers(numWorkers, c.cpuCount)

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return apperrors.Conflict("job", "", "a job is already in progress")
	}

	inputs, err := c.store.ListInputs()
	if err != nil {
		c.mu.Unlock()
		c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelError, "failed to scan input directory: "+err.Error()))
		return apperrors.Internal("job.start", err)
	}
	if len(inputs) == 0 {
		c.mu.Unlock()
		c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelWarning, "no images found in input directory"))
		c.hub.Broadcast(protocol.NewStatusEvent(c.Status()))
		return nil
	}
	if err := c.store.EnsureOutputDir(); err != nil {
		c.mu.Unlock()
		c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelError, "failed to create output directory: "+err.Error()))
		return apperrors.Internal("job.start", err)
	}

	j := &Job{
		ID:         uuid.NewString(),
		Operations: ops,
		Workers:    workers,
		TotalItems: len(inputs),
		StartedAt:  time.Now(),
	}

	tasks := make([]pool.Task, len(inputs))
	for i, in := range inputs {
		tasks[i] = pool.Task{InputPath: in, OutputPath: c.store.OutputPath(in)}
	}

	run := c.pool.Start(c.ctx, tasks, ops, workers)
	c.job = j
	c.run = run
	c.state = StateRunning
	c.mu.Unlock()

	c.logger.Info("Job started", "jobId", j.ID, "images", j.TotalItems, "workers", workers)
	c.hub.Broadcast(protocol.NewStatusEvent(c.Status()))
	c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelInfo,
		fmt.Sprintf("%d image(s) found, processing with %d worker(s)", j.TotalItems, workers)))

	if c.metrics != nil {
		c.metrics.RecordJobStarted(c.ctx, workers)
	}
	if c.notifier != nil {
		c.notifier.JobStarted(j.ID, workers, j.TotalItems)
	}

	go c.collect(j, run)
	return nil
}

// Stop attempts the Running -> Stopping transition. In-flight items finish
// naturally; the transition back to Idle happens once they have.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return apperrors.Conflict("job", "", "no job is running")
	}
	c.state = StateStopping
	run := c.run
	jobID := c.job.ID
	c.mu.Unlock()

	run.Stop()
	c.logger.Info("Job stopping", "jobId", jobID)
	c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelWarning, "processing stopped; in-flight images will finish"))
	c.hub.Broadcast(protocol.NewStatusEvent(c.Status()))
	return nil
}

// collect drains the run's completion-order outcomes, then finalizes.
func (c *Controller) collect(j *Job, run *pool.Run) {
	for out := range run.Outcomes() {
		c.mu.Lock()
		j.Completed++
		current, total := j.Completed, j.TotalItems

		var record *ResultRecord
		if out.Err == nil {
			r := ResultRecord{
				File:         out.File,
				Operations:   protocol.OperationNames(j.Operations),
				SizeBeforeKB: out.Result.SizeBeforeKB,
				SizeAfterKB:  out.Result.SizeAfterKB,
				Elapsed:      out.Result.Elapsed,
				Worker:       out.Worker,
			}
			j.Results = append(j.Results, r)
			record = &r
		}
		c.mu.Unlock()

		c.hub.Broadcast(protocol.NewProgressEvent(current, total, out.File))

		if record != nil {
			elapsed := round(record.Elapsed.Seconds(), 3)
			c.hub.Broadcast(protocol.NewResultEvent(protocol.ResultData{
				File:         record.File,
				Operations:   record.Operations,
				SizeBeforeKB: record.SizeBeforeKB,
				SizeAfterKB:  record.SizeAfterKB,
				Time:         elapsed,
				Worker:       record.Worker,
			}))
			c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelInfo,
				fmt.Sprintf("%s processed in %.3fs", record.File, elapsed)))
			if c.metrics != nil {
				c.metrics.RecordImageProcessed(c.ctx, true, record.Elapsed.Seconds())
			}
		} else {
			c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelError,
				fmt.Sprintf("%s: %v", out.File, out.Err)))
			if c.metrics != nil {
				c.metrics.RecordImageProcessed(c.ctx, false, 0)
			}
		}
	}

	c.finish(j)
}

// finish performs the automatic transition back to Idle, computing and
// broadcasting the final metrics snapshot.
func (c *Controller) finish(j *Job) {
	c.mu.Lock()
	stopped := c.state == StateStopping
	wallClock := time.Since(j.StartedAt)
	snapshot := ComputeMetrics(j, wallClock)
	c.state = StateIdle
	c.job = nil
	c.run = nil
	c.mu.Unlock()

	c.logger.Info("Job finished",
		"jobId", j.ID,
		"stopped", stopped,
		"successful", snapshot.Successful,
		"total", snapshot.Total,
		"duration", wallClock,
	)

	c.hub.Broadcast(protocol.NewMetricsEvent(snapshot.Data()))
	c.hub.Broadcast(protocol.NewLogEvent(protocol.LevelInfo,
		fmt.Sprintf("finished in %.2fs | speedup %.2fx | efficiency %.1f%%",
			wallClock.Seconds(), snapshot.Speedup, snapshot.EfficiencyPercent)))
	c.hub.Broadcast(protocol.NewStatusEvent(c.Status()))

	if c.metrics != nil {
		c.metrics.RecordJobCompleted(c.ctx, stopped, wallClock.Seconds())
	}
	if c.notifier != nil {
		c.notifier.JobFinished(j.ID, stopped, snapshot)
	}
}

// clampWorkers keeps the worker count in [1, cores]; zero or negative
// requests default to every core.
func clampWorkers(requested, cores int) int {
	if requested <= 0 {
		requested = cores
	}
	if requested > cores {
		requested = cores
	}
	if requested < 1 {
		requested = 1
	}
	return requested
}
