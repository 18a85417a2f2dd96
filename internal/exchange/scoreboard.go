package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

// TaskState is a scoreboard entry.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// ScoreRecorder is what workers use to report task progress.
type ScoreRecorder interface {
	SetStatus(ctx context.Context, taskID int, state TaskState) error
}

// Scoreboard keeps one TaskState per task on the owner process. Remote
// workers write entries, the owner reads them.
type Scoreboard struct {
	mu     sync.RWMutex
	states []TaskState
}

// NewScoreboard returns a scoreboard with every task pending.
func NewScoreboard(numTasks int) (*Scoreboard, error) {
	if numTasks <= 0 {
		return nil, fmt.Errorf("%w: numTasks must be positive, got %d", types.ErrInvalidArgument, numTasks)
	}
	return &Scoreboard{states: make([]TaskState, numTasks)}, nil
}

// Store records state for taskID.
func (b *Scoreboard) Store(taskID int, state TaskState) error {
	if state < TaskPending || state > TaskFailed {
		return fmt.Errorf("%w: unknown task state %d", types.ErrInvalidArgument, int(state))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if taskID < 0 || taskID >= len(b.states) {
		return fmt.Errorf("%w: task %d outside [0, %d)", types.ErrInvalidArgument, taskID, len(b.states))
	}
	b.states[taskID] = state
	return nil
}

// SetStatus implements ScoreRecorder for in-process workers.
func (b *Scoreboard) SetStatus(ctx context.Context, taskID int, state TaskState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Store(taskID, state)
}

// State returns the entry of taskID.
func (b *Scoreboard) State(taskID int) TaskState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.states[taskID]
}

// Tasks returns the ids in state, ascending.
func (b *Scoreboard) Tasks(state TaskState) []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]int, 0)
	for id, s := range b.states {
		if s == state {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts returns the number of tasks per state name.
func (b *Scoreboard) Counts() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := map[string]int{}
	for _, s := range b.states {
		counts[s.String()]++
	}
	return counts
}
