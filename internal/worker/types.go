package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/wavefront/internal/exchange"
	"github.com/ChuLiYu/wavefront/pkg/types"
)

// StepFunc computes one step of one task. The returned value is opaque to the
// scheduler and travels back in StepDone.
type StepFunc func(ctx context.Context, taskID, step int) (int64, error)

// Reporter emits the StepDone of one step. Steps must be reported in order.
type Reporter func(step int, result int64) error

// TaskFunc runs steps [stepBeg, stepEnd) of a task, calling report after each one.
type TaskFunc func(ctx context.Context, taskID, stepBeg, stepEnd int, report Reporter) error

// Task adapts a StepFunc to a TaskFunc.
func (f StepFunc) Task() TaskFunc {
	return func(ctx context.Context, taskID, stepBeg, stepEnd int, report Reporter) error {
		for step := stepBeg; step < stepEnd; step++ {
			result, err := f(ctx, taskID, step)
			if err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
			if err := report(step, result); err != nil {
				return err
			}
		}
		return nil
	}
}

// StepResult packs (taskID, step) into the value returned by the built-in step functions.
func StepResult(taskID, step int) int64 {
	return int64(taskID)<<32 | int64(uint32(step))
}

// Sleep returns a StepFunc that waits delay per step.
func Sleep(delay time.Duration) StepFunc {
	return func(ctx context.Context, taskID, step int) (int64, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		return StepResult(taskID, step), nil
	}
}

// ExchangeStep returns a StepFunc that waits delay, then writes a chunk filled
// with the step's result to cell (taskID, step) of a width-wide table. width
// must cover the longest task (numAgeGroups for a grid) and the store must
// hold NumTasks*width chunks; a cell outside the table is ErrInvalidArgument.
func ExchangeStep(x exchange.Exchange, width int, delay time.Duration) StepFunc {
	sleep := Sleep(delay)
	return func(ctx context.Context, taskID, step int) (int64, error) {
		result, err := sleep(ctx, taskID, step)
		if err != nil {
			return 0, err
		}
		if step < 0 || step >= width {
			return 0, fmt.Errorf("%w: step %d of task %d outside a %d-wide table", types.ErrInvalidArgument, step, taskID, width)
		}
		id := exchange.ChunkID(taskID, step, width)
		if id >= x.NumChunks() {
			return 0, fmt.Errorf("%w: cell (%d,%d) needs chunk %d, exchange has %d", types.ErrInvalidArgument, taskID, step, id, x.NumChunks())
		}
		data := make([]float64, x.ChunkSize())
		for i := range data {
			data[i] = float64(result)
		}
		if err := x.Put(ctx, id, data); err != nil {
			return 0, fmt.Errorf("put chunk %d: %w", id, err)
		}
		return result, nil
	}
}
