// Package pool fans a job's images out to a bounded set of worker slots
// and reports outcomes in completion order.
package pool

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"imagehub/internal/filter"
	"imagehub/internal/protocol"
)

// Engine is the filter collaborator invoked by each worker slot.
// Implementations are CPU-bound and synchronous.
type Engine interface {
	Process(ctx context.Context, inputPath, outputPath string, ops []protocol.Operation) (filter.Result, error)
}

// Task is one image to process.
type Task struct {
	InputPath  string
	OutputPath string
}

// Outcome reports one finished task. Err is set on failure; Result is
// meaningful only when Err is nil.
type Outcome struct {
	File   string // base name of the input image
	Worker int    // 1-based worker slot index
	Result filter.Result
	Err    error
}

// Dispatcher owns the worker pool machinery. One Dispatcher serves many
// runs; each Run is a single job's execution.
type Dispatcher struct {
	engine Engine
	logger *slog.Logger
}

// New creates a dispatcher backed by the given engine.
func New(engine Engine) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		logger: slog.With("component", "pool"),
	}
}

// Run is one in-flight execution. Outcomes arrive in completion order, not
// submission order, and the channel closes once every admitted task has
// finished.
type Run struct {
	outcomes chan Outcome
	stop     chan struct{}
	stopOnce sync.Once
}

// Outcomes returns the completion-order result stream.
func (r *Run) Outcomes() <-chan Outcome { return r.outcomes }

// Stop cooperatively halts the run: no further tasks are admitted to free
// slots, but tasks already executing finish naturally. Safe to call more
// than once.
func (r *Run) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Start launches `workers` slots over tasks. No more than `workers` engine
// invocations run concurrently. Cancelling ctx abandons admission as well;
// it is intended for server shutdown, not for job-level stop.
func (d *Dispatcher) Start(ctx context.Context, tasks []Task, ops []protocol.Operation, workers int) *Run {
	if workers < 1 {
		workers = 1
	}

	run := &Run{
		outcomes: make(chan Outcome),
		stop:     make(chan struct{}),
	}
	queue := make(chan Task)

	var wg sync.WaitGroup
	wg.Add(workers)
	for slot := 1; slot <= workers; slot++ {
		go d.worker(ctx, slot, queue, run.outcomes, ops, &wg)
	}

	// Feeder: admission is the only point that honors stop.
	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case <-run.stop:
				return
			case <-ctx.Done():
				return
			case queue <- task:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(run.outcomes)
	}()

	return run
}

func (d *Dispatcher) worker(ctx context.Context, slot int, queue <-chan Task, outcomes chan<- Outcome, ops []protocol.Operation, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range queue {
		file := filepath.Base(task.InputPath)
		result, err := d.engine.Process(ctx, task.InputPath, task.OutputPath, ops)
		if err != nil {
			d.logger.Error("Image processing failed", "file", file, "worker", slot, "error", err)
		}
		outcomes <- Outcome{File: file, Worker: slot, Result: result, Err: err}
	}
}
