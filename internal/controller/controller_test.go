package controller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/taskmanager"
	"github.com/ChuLiYu/wavefront/internal/trace"
	"github.com/ChuLiYu/wavefront/internal/transport"
	"github.com/ChuLiYu/wavefront/internal/worker"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func analyze(t *testing.T, a, steps int) *depgraph.Graph {
	t.Helper()
	g, err := depgraph.Analyze(a, steps)
	require.NoError(t, err)
	return g
}

// runLocal runs a full local session with numWorkers in-process workers
func runLocal(t *testing.T, g *depgraph.Graph, numWorkers int, config Config) []types.StepRecord {
	t.Helper()
	ctx := testContext(t)

	link := transport.NewLocal(numWorkers, 64)
	defer link.Close()

	pool, err := worker.NewPool(link, g, worker.Sleep(0).Task())
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	ctrl, err := NewController(g, link, config)
	require.NoError(t, err)

	records, err := ctrl.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, pool.Wait())
	return records
}

// assertComplete checks one record per (task, step) of g, all in range
func assertComplete(t *testing.T, g *depgraph.Graph, records []types.StepRecord) {
	t.Helper()
	assert.Len(t, records, g.NumCohortSteps())

	seen := make(map[types.Dep]bool, len(records))
	for _, rec := range records {
		require.True(t, g.Has(rec.TaskID), "unknown task %d", rec.TaskID)
		assert.True(t, g.StepRange(rec.TaskID).Contains(rec.Step), "step %d of task %d out of range", rec.Step, rec.TaskID)
		assert.False(t, seen[rec.Key()], "duplicate record %v", rec.Key())
		seen[rec.Key()] = true
		assert.Equal(t, worker.StepResult(rec.TaskID, rec.Step), rec.Result)
	}
}

// fakeWorker drives one end of a local link by hand
type fakeWorker struct {
	t    *testing.T
	link *transport.Local
	id   int
}

func (w fakeWorker) receive(ctx context.Context) int {
	w.t.Helper()
	taskID, err := w.link.Worker(w.id).Receive(ctx)
	require.NoError(w.t, err)
	return taskID
}

func (w fakeWorker) step(ctx context.Context, taskID, step int) {
	w.t.Helper()
	require.NoError(w.t, w.link.Worker(w.id).ReportStep(ctx, types.StepRecord{TaskID: taskID, Step: step}))
}

func (w fakeWorker) available(ctx context.Context) {
	w.t.Helper()
	require.NoError(w.t, w.link.Worker(w.id).ReportAvailable(ctx))
}

// runAsync starts ctrl.Run in the background
func runAsync(ctx context.Context, ctrl *Controller) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Run(ctx)
		done <- err
	}()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not return")
		return nil
	}
}

type fakeRecorder struct {
	assigns, steps, finishes int
	lastReady                int
}

func (r *fakeRecorder) RecordAssign()               { r.assigns++ }
func (r *fakeRecorder) RecordStep(time.Duration)    { r.steps++ }
func (r *fakeRecorder) RecordFinish()               { r.finishes++ }
func (r *fakeRecorder) UpdateState(ready, _, _ int) { r.lastReady = ready }

type fakeTracer struct {
	counts map[trace.EventType]int
}

func (f *fakeTracer) Append(typ trace.EventType, worker, task, step int) error {
	f.counts[typ]++
	return nil
}

// ============================================================================
// Full Run Tests
// ============================================================================

// TestRunScenarioThreeByFive runs the 3x5 grid on two workers
func TestRunScenarioThreeByFive(t *testing.T) {
	g := analyze(t, 3, 5)
	records := runLocal(t, g, 2, Config{NumAgeGroups: 3})

	assert.Len(t, records, 15)
	assertComplete(t, g, records)
}

// TestRunEveryWorkerCount covers 1 <= N <= A over small grids
func TestRunEveryWorkerCount(t *testing.T) {
	for a := 1; a <= 4; a++ {
		for steps := 1; steps <= 5; steps++ {
			g := analyze(t, a, steps)
			for n := 1; n <= a; n++ {
				t.Run(fmt.Sprintf("A%d_T%d_N%d", a, steps, n), func(t *testing.T) {
					records := runLocal(t, g, n, Config{NumAgeGroups: a})
					assert.Len(t, records, a*steps)
					assertComplete(t, g, records)
				})
			}
		}
	}
}

// TestObserverSeesDependenciesComplete checks no task is assigned early
func TestObserverSeesDependenciesComplete(t *testing.T) {
	g := analyze(t, 4, 6)
	assignedTo := make(map[int]int)

	observer := func(taskID, w int, state *taskmanager.SchedulerState) {
		for _, dep := range g.Deps(taskID) {
			assert.True(t, state.IsCompleted(dep), "task %d assigned before %v completed", taskID, dep)
		}
		assert.True(t, state.DepsSatisfied(taskID))
		_, dup := assignedTo[taskID]
		assert.False(t, dup, "task %d assigned twice", taskID)
		assignedTo[taskID] = w
	}

	records := runLocal(t, g, 3, Config{NumAgeGroups: 4, Observer: observer})
	assertComplete(t, g, records)
	assert.Len(t, assignedTo, g.NumTasks())
}

func TestRunWithDependencyGraphOfSingleStepTasks(t *testing.T) {
	g, err := depgraph.FromTaskDependencies(5, map[int][]int{2: {0, 1}, 3: {2}, 4: {2}})
	require.NoError(t, err)

	order := make([]int, 0, 5)
	records := runLocal(t, g, 2, Config{Observer: func(taskID, _ int, _ *taskmanager.SchedulerState) {
		order = append(order, taskID)
	}})
	assert.Len(t, records, 5)
	assert.Equal(t, []int{0, 1}, order[:2])
	assert.Equal(t, 2, order[2])
}

func TestRunRecordsMetricsAndTrace(t *testing.T) {
	g := analyze(t, 3, 5)
	rec := &fakeRecorder{}
	tr := &fakeTracer{counts: make(map[trace.EventType]int)}

	records := runLocal(t, g, 2, Config{Metrics: rec, Trace: tr})
	assertComplete(t, g, records)

	assert.Equal(t, 7, rec.assigns)
	assert.Equal(t, 15, rec.steps)
	assert.Equal(t, 7, rec.finishes)

	assert.Equal(t, 7, tr.counts[trace.EventAssign])
	assert.Equal(t, 15, tr.counts[trace.EventStep])
	assert.Equal(t, 7, tr.counts[trace.EventFinish])
	assert.Equal(t, 2, tr.counts[trace.EventShutdown])
	assert.Equal(t, 7, tr.counts[trace.EventAvailable])
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestNewControllerRejectsWorkerCounts(t *testing.T) {
	g := analyze(t, 3, 5)

	_, err := NewController(g, transport.NewLocal(0, 1), Config{NumAgeGroups: 3})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = NewController(g, transport.NewLocal(4, 1), Config{NumAgeGroups: 3})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = NewController(g, transport.NewLocal(3, 1), Config{NumAgeGroups: 3})
	assert.NoError(t, err)
}

func TestRunTwice(t *testing.T) {
	g, err := depgraph.Independent(1)
	require.NoError(t, err)
	records := runLocal(t, g, 1, Config{})
	assert.Len(t, records, 1)

	link := transport.NewLocal(1, 4)
	ctrl, err := NewController(g, link, Config{})
	require.NoError(t, err)
	ctrl.ran = true
	_, err = ctrl.Run(testContext(t))
	assert.ErrorIs(t, err, ErrAlreadyRan)
}

// ============================================================================
// Protocol Violation Tests
// ============================================================================

func TestStepForUnassignedTask(t *testing.T) {
	ctx := testContext(t)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(analyze(t, 3, 5), link, Config{})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	w := fakeWorker{t: t, link: link, id: 0}
	assert.Equal(t, 0, w.receive(ctx))
	w.step(ctx, 5, 0)
	assert.ErrorIs(t, waitErr(t, done), types.ErrProtocolViolation)
}

func TestStepOutOfOrder(t *testing.T) {
	ctx := testContext(t)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(analyze(t, 3, 5), link, Config{})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	w := fakeWorker{t: t, link: link, id: 0}
	taskID := w.receive(ctx)
	w.step(ctx, taskID, 1)
	assert.ErrorIs(t, waitErr(t, done), types.ErrProtocolViolation)
}

func TestDuplicateStep(t *testing.T) {
	ctx := testContext(t)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(analyze(t, 3, 5), link, Config{})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	w := fakeWorker{t: t, link: link, id: 0}
	taskID := w.receive(ctx)
	w.step(ctx, taskID, 0)
	w.step(ctx, taskID, 0)
	assert.ErrorIs(t, waitErr(t, done), types.ErrProtocolViolation)
}

func TestAvailableFromIdleWorker(t *testing.T) {
	ctx := testContext(t)
	g, err := depgraph.Independent(1)
	require.NoError(t, err)
	link := transport.NewLocal(2, 8)
	ctrl, err := NewController(g, link, Config{})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	assert.Equal(t, 0, fakeWorker{t: t, link: link, id: 0}.receive(ctx))
	fakeWorker{t: t, link: link, id: 1}.available(ctx)
	assert.ErrorIs(t, waitErr(t, done), types.ErrProtocolViolation)
}

func TestMessageFromUnknownWorker(t *testing.T) {
	ctx := testContext(t)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(analyze(t, 2, 2), link, Config{})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	fakeWorker{t: t, link: link, id: 0}.receive(ctx)
	// Worker(7) shares the link channels but carries an id outside the pool
	require.NoError(t, link.Worker(7).ReportAvailable(ctx))
	assert.ErrorIs(t, waitErr(t, done), types.ErrProtocolViolation)
}

// ============================================================================
// Stall and Cancellation Tests
// ============================================================================

func TestStallTimeout(t *testing.T) {
	ctx := testContext(t)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(analyze(t, 3, 5), link, Config{StallTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	done := runAsync(ctx, ctrl)
	fakeWorker{t: t, link: link, id: 0}.receive(ctx)

	assert.ErrorIs(t, waitErr(t, done), types.ErrStalledWorker)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestStallTimerResetsOnProgress(t *testing.T) {
	ctx := testContext(t)
	g, err := depgraph.Independent(1)
	require.NoError(t, err)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(g, link, Config{StallTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	w := fakeWorker{t: t, link: link, id: 0}
	assert.Equal(t, 0, w.receive(ctx))
	time.Sleep(100 * time.Millisecond)
	w.step(ctx, 0, 0)
	w.available(ctx)
	assert.Equal(t, types.ShutdownTaskID, w.receive(ctx))
	assert.NoError(t, waitErr(t, done))
}

// TestShutdownWaitsForLastAvailable checks the sentinel is held back until
// the worker that finished the last task has reported WorkerAvailable
func TestShutdownWaitsForLastAvailable(t *testing.T) {
	ctx := testContext(t)
	g, err := depgraph.Independent(1)
	require.NoError(t, err)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(g, link, Config{})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	w := fakeWorker{t: t, link: link, id: 0}
	assert.Equal(t, 0, w.receive(ctx))
	w.step(ctx, 0, 0)

	select {
	case err := <-done:
		t.Fatalf("controller returned before WorkerAvailable: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, ctrl.State().Done())

	w.available(ctx)
	assert.Equal(t, types.ShutdownTaskID, w.receive(ctx))
	assert.NoError(t, waitErr(t, done))
}

func TestStallWhileWaitingForAvailable(t *testing.T) {
	ctx := testContext(t)
	g, err := depgraph.Independent(1)
	require.NoError(t, err)
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(g, link, Config{StallTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	w := fakeWorker{t: t, link: link, id: 0}
	assert.Equal(t, 0, w.receive(ctx))
	w.step(ctx, 0, 0)
	assert.ErrorIs(t, waitErr(t, done), types.ErrStalledWorker)
}

func TestContextCancelAbortsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	link := transport.NewLocal(1, 8)
	ctrl, err := NewController(analyze(t, 3, 5), link, Config{})
	require.NoError(t, err)
	done := runAsync(ctx, ctrl)

	fakeWorker{t: t, link: link, id: 0}.receive(ctx)
	cancel()
	assert.ErrorIs(t, waitErr(t, done), context.Canceled)
}

func TestGetStatus(t *testing.T) {
	g := analyze(t, 3, 5)
	link := transport.NewLocal(2, 8)
	ctrl, err := NewController(g, link, Config{})
	require.NoError(t, err)

	status := ctrl.GetStatus()
	assert.Equal(t, 2, status["workers"])
	assert.Equal(t, 7, status["tasks"])
	assert.Equal(t, 3, status["ready"])
	assert.Equal(t, []int{0, 1, 2}, status["ready_tasks"])
	assert.Equal(t, 0, status["finished"])
	_, ok := status["uptime"]
	assert.False(t, ok)
}
