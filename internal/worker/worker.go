// ============================================================================
// Wavefront Worker - Cohort Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Runs the tasks the coordinator assigns, one at a time
//
// How it works:
//   Each Worker loops until it receives the shutdown sentinel:
//   1. Receive a task id from the link (blocking wait)
//   2. Look up the task's step range in the shared dependency graph
//   3. Run every step in order, sending StepDone right after each one
//   4. Send WorkerAvailable after the last step
//
// Execution Model:
//   ┌──────────────────────────────────────────┐
//   │  Worker Goroutine                        │
//   │  ┌───────────────────────────────────┐   │
//   │  │ for id := Receive(); id != -1     │   │
//   │  │   ├─ for step in [beg, end)       │   │
//   │  │   │    ├─ result = step(id, s)    │   │
//   │  │   │    └─ ReportStep(id, s, r)    │   │
//   │  │   └─ ReportAvailable()            │   │
//   │  └───────────────────────────────────┘   │
//   └──────────────────────────────────────────┘
//
// Error Handling:
//   - A step error aborts the worker and is returned from Run
//   - Reporting steps out of order or leaving steps unreported is a
//     protocol violation
//   - A task id unknown to the graph is a protocol violation
//
// Scoreboard:
//   When a ScoreRecorder is set, the task is marked Running before its first
//   step and Succeeded or Failed when it ends.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/exchange"
	"github.com/ChuLiYu/wavefront/internal/transport"
	"github.com/ChuLiYu/wavefront/pkg/types"
)

// Worker executes assigned tasks over one WorkerLink
type Worker struct {
	link   transport.WorkerLink
	graph  *depgraph.Graph
	task   TaskFunc
	scores exchange.ScoreRecorder
	logger *slog.Logger
}

// Option configures a Worker
type Option func(*Worker)

// WithScoreRecorder reports task progress to r
func WithScoreRecorder(r exchange.ScoreRecorder) Option {
	return func(w *Worker) { w.scores = r }
}

// WithLogger replaces the default logger
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates a Worker. graph must be the same graph the coordinator schedules.
func New(link transport.WorkerLink, graph *depgraph.Graph, task TaskFunc, opts ...Option) *Worker {
	w := &Worker{
		link:   link,
		graph:  graph,
		task:   task,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "worker", "worker", link.ID())
	return w
}

// ID returns the worker id
func (w *Worker) ID() int {
	return w.link.ID()
}

// Run processes tasks until the shutdown sentinel arrives
func (w *Worker) Run(ctx context.Context) error {
	for {
		taskID, err := w.link.Receive(ctx)
		if err != nil {
			return fmt.Errorf("worker %d receive: %w", w.ID(), err)
		}
		if taskID == types.ShutdownTaskID {
			w.logger.Debug("shutdown received")
			return nil
		}
		if !w.graph.Has(taskID) {
			return fmt.Errorf("%w: worker %d received unknown task %d", types.ErrProtocolViolation, w.ID(), taskID)
		}
		if err := w.runTask(ctx, taskID); err != nil {
			return err
		}
	}
}

func (w *Worker) runTask(ctx context.Context, taskID int) error {
	r := w.graph.StepRange(taskID)
	w.logger.Debug("task started", "task", taskID, "begin", r.Begin, "end", r.End)
	w.setScore(ctx, taskID, exchange.TaskRunning)

	next := r.Begin
	report := func(step int, result int64) error {
		if step != next {
			return fmt.Errorf("%w: task %d reported step %d, expected %d", types.ErrProtocolViolation, taskID, step, next)
		}
		if err := w.link.ReportStep(ctx, types.StepRecord{TaskID: taskID, Step: step, Result: result}); err != nil {
			return fmt.Errorf("report step: %w", err)
		}
		next++
		return nil
	}

	err := w.task(ctx, taskID, r.Begin, r.End, report)
	if err == nil && next != r.End {
		err = fmt.Errorf("%w: task %d stopped after step %d of [%d, %d)", types.ErrProtocolViolation, taskID, next-1, r.Begin, r.End)
	}
	if err != nil {
		w.setScore(ctx, taskID, exchange.TaskFailed)
		return fmt.Errorf("worker %d task %d: %w", w.ID(), taskID, err)
	}

	w.setScore(ctx, taskID, exchange.TaskSucceeded)
	w.logger.Debug("task finished", "task", taskID)
	if err := w.link.ReportAvailable(ctx); err != nil {
		return fmt.Errorf("worker %d report available: %w", w.ID(), err)
	}
	return nil
}

// setScore is best effort; a failed scoreboard write never aborts the task
func (w *Worker) setScore(ctx context.Context, taskID int, state exchange.TaskState) {
	if w.scores == nil {
		return
	}
	if err := w.scores.SetStatus(ctx, taskID, state); err != nil {
		w.logger.Warn("scoreboard update failed", "task", taskID, "state", state.String(), "error", err)
	}
}
