package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ChuLiYu/wavefront/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	link := NewLocal(2, 8)
	assert.Equal(t, 2, link.NumWorkers())

	w := link.Worker(1)
	assert.Equal(t, 1, w.ID())

	require.NoError(t, link.Send(ctx, 1, 7))
	taskID, err := w.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, taskID)

	require.NoError(t, w.ReportStep(ctx, types.StepRecord{TaskID: 7, Step: 0, Result: 3}))
	require.NoError(t, w.ReportStep(ctx, types.StepRecord{TaskID: 7, Step: 1, Result: 4}))
	require.NoError(t, w.ReportAvailable(ctx))

	first := <-link.StepDone()
	second := <-link.StepDone()
	assert.Equal(t, StepDone{Worker: 1, Record: types.StepRecord{TaskID: 7, Step: 0, Result: 3}}, first)
	assert.Equal(t, 1, second.Record.Step, "per-sender order is preserved")
	assert.Equal(t, WorkerAvailable{Worker: 1}, <-link.Available())
}

func TestLocalSendUnknownWorker(t *testing.T) {
	link := NewLocal(1, 1)
	err := link.Send(context.Background(), 3, 0)
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestLocalReceiveHonoursContext(t *testing.T) {
	link := NewLocal(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := link.Worker(0).Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalClose(t *testing.T) {
	link := NewLocal(1, 0)
	w := link.Worker(0)

	done := make(chan error, 1)
	go func() {
		_, err := w.Receive(context.Background())
		done <- err
	}()

	link.Close()
	link.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
	assert.ErrorIs(t, w.ReportAvailable(context.Background()), ErrClosed)
}
