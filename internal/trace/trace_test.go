package trace

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSample(t *testing.T, path string, bufferSize int) *Log {
	t.Helper()
	l, err := Create(path, bufferSize)
	require.NoError(t, err)

	require.NoError(t, l.Append(EventAssign, 0, 3, -1))
	require.NoError(t, l.Append(EventStep, 0, 3, 0))
	require.NoError(t, l.Append(EventStep, 0, 3, 1))
	require.NoError(t, l.Append(EventFinish, 0, 3, 1))
	require.NoError(t, l.Append(EventAvailable, 0, -1, -1))
	require.NoError(t, l.Append(EventShutdown, 0, -1, -1))
	require.NoError(t, l.Close())
	return l
}

func TestAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.trace")
	l := writeSample(t, path, 2)
	assert.Equal(t, uint64(6), l.LastSeq())

	events, err := Load(path)
	require.NoError(t, err)
	require.Len(t, events, 6)

	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, l.Run(), e.Run)
		assert.NoError(t, VerifyChecksum(e))
	}
	assert.Equal(t, EventAssign, events[0].Type)
	assert.Equal(t, 1, events[2].Step)
	assert.Equal(t, map[EventType]int{
		EventAssign: 1, EventStep: 2, EventFinish: 1, EventAvailable: 1, EventShutdown: 1,
	}, Counts(events))
}

func TestBufferedEventsAreWrittenOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.trace")
	l, err := Create(path, 100)
	require.NoError(t, err)
	require.NoError(t, l.Append(EventAssign, 1, 0, -1))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NoError(t, l.Close())
	events, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Create(filepath.Join(t.TempDir(), "run.trace"), 0)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Append(EventStep, 0, 0, 0), ErrLogClosed)
	assert.ErrorIs(t, l.Flush(), ErrLogClosed)
}

func TestReplayDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.trace")
	writeSample(t, path, 0)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte(`"task":3,"step":1`), []byte(`"task":4,"step":1`), 1)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	var ce *ChecksumError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, uint64(3), ce.Seq)
}

func TestReplayStopsOnHandlerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.trace")
	writeSample(t, path, 0)

	stop := errors.New("stop")
	seen := 0
	err := Replay(path, func(e Event) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

type failingFile struct{ syncErr error }

func (f *failingFile) Write(p []byte) (int, error) { return len(p), nil }
func (f *failingFile) Sync() error                 { return f.syncErr }
func (f *failingFile) Close() error                { return nil }

func TestFlushReportsSyncFailure(t *testing.T) {
	boom := errors.New("disk gone")
	l := newLog(&failingFile{syncErr: boom}, 1)
	assert.ErrorIs(t, l.Append(EventStep, 0, 0, 0), boom)
}

func TestTimeline(t *testing.T) {
	base := time.Now().Truncate(time.Millisecond)
	at := func(ms int) int64 { return base.Add(time.Duration(ms) * time.Millisecond).UnixMicro() }

	events := []Event{
		{Type: EventAssign, Worker: 1, Task: 1, Step: -1, Timestamp: at(0)},
		{Type: EventAssign, Worker: 0, Task: 0, Step: -1, Timestamp: at(1)},
		{Type: EventStep, Worker: 0, Task: 0, Step: 0, Timestamp: at(10)},
		{Type: EventStep, Worker: 1, Task: 1, Step: 0, Timestamp: at(11)},
		{Type: EventFinish, Worker: 1, Task: 1, Step: 0, Timestamp: at(11)},
		{Type: EventAssign, Worker: 1, Task: 3, Step: -1, Timestamp: at(12)},
		{Type: EventStep, Worker: 0, Task: 0, Step: 1, Timestamp: at(20)},
		{Type: EventFinish, Worker: 0, Task: 0, Step: 1, Timestamp: at(20)},
	}

	spans := Timeline(events)
	require.Len(t, spans, 3)

	assert.Equal(t, 0, spans[0].Task)
	assert.Equal(t, 2, spans[0].Steps)
	assert.Equal(t, 19*time.Millisecond, spans[0].Duration())

	assert.Equal(t, 1, spans[1].Task)
	assert.Equal(t, 1, spans[1].Worker)
	assert.Equal(t, 11*time.Millisecond, spans[1].Duration())

	assert.Equal(t, 3, spans[2].Task)
	assert.True(t, spans[2].End.IsZero())
	assert.Zero(t, spans[2].Duration())
}
