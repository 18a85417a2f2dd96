package metrics

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	return c, reg
}

// value 返回 name（可選 op label）的 counter 或 gauge 值
func value(t *testing.T, reg *prometheus.Registry, name, op string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if op != "" {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "op" && lp.GetValue() == op {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			if m.GetHistogram() != nil {
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestNewCollector(t *testing.T) {
	collector, _ := newTestCollector(t)

	assert.NotNil(t, collector.tasksAssigned)
	assert.NotNil(t, collector.tasksFinished)
	assert.NotNil(t, collector.stepsCompleted)
	assert.NotNil(t, collector.stepInterval)
	assert.NotNil(t, collector.tasksReady)
	assert.NotNil(t, collector.tasksInFlight)
	assert.NotNil(t, collector.workersIdle)
	assert.NotNil(t, collector.exchangeOps)
	assert.NotNil(t, collector.exchangeBytes)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestDefaultRegisterer(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg

	collector, err := NewCollector(nil)
	require.NoError(t, err)
	collector.RecordAssign()
	assert.Equal(t, 1.0, value(t, reg, "wavefront_tasks_assigned_total", ""))
}

func TestSchedulerCounters(t *testing.T) {
	collector, reg := newTestCollector(t)

	for i := 0; i < 7; i++ {
		collector.RecordAssign()
	}
	for i := 0; i < 15; i++ {
		collector.RecordStep(time.Duration(i) * time.Millisecond)
	}
	for i := 0; i < 7; i++ {
		collector.RecordFinish()
	}

	assert.Equal(t, 7.0, value(t, reg, "wavefront_tasks_assigned_total", ""))
	assert.Equal(t, 15.0, value(t, reg, "wavefront_steps_completed_total", ""))
	assert.Equal(t, 15.0, value(t, reg, "wavefront_step_interval_seconds", ""))
	assert.Equal(t, 7.0, value(t, reg, "wavefront_tasks_finished_total", ""))
}

func TestUpdateState(t *testing.T) {
	collector, reg := newTestCollector(t)

	testCases := []struct {
		name     string
		ready    int
		assigned int
		idle     int
	}{
		{"zero values", 0, 0, 0},
		{"start of run", 1, 0, 2},
		{"busy", 2, 2, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			collector.UpdateState(tc.ready, tc.assigned, tc.idle)
			assert.Equal(t, float64(tc.ready), value(t, reg, "wavefront_tasks_ready", ""))
			assert.Equal(t, float64(tc.assigned), value(t, reg, "wavefront_tasks_assigned", ""))
			assert.Equal(t, float64(tc.idle), value(t, reg, "wavefront_workers_idle", ""))
		})
	}
}

func TestRecordExchangeOp(t *testing.T) {
	collector, reg := newTestCollector(t)

	collector.RecordExchangeOp("put", 8)
	collector.RecordExchangeOp("put", 8)
	collector.RecordExchangeOp("get", 4)
	collector.RecordExchangeOp("flush", 0)

	assert.Equal(t, 2.0, value(t, reg, "wavefront_exchange_ops_total", "put"))
	assert.Equal(t, 128.0, value(t, reg, "wavefront_exchange_bytes_total", "put"))
	assert.Equal(t, 32.0, value(t, reg, "wavefront_exchange_bytes_total", "get"))
	assert.Equal(t, 1.0, value(t, reg, "wavefront_exchange_ops_total", "flush"))
	assert.Zero(t, value(t, reg, "wavefront_exchange_bytes_total", "flush"))
}

func TestConcurrentMetricUpdates(t *testing.T) {
	collector, reg := newTestCollector(t)

	// Prometheus metrics should be thread-safe
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				collector.RecordStep(time.Microsecond)
				collector.RecordExchangeOp("accumulate", 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, value(t, reg, "wavefront_steps_completed_total", ""))
	assert.Equal(t, 1000.0, value(t, reg, "wavefront_exchange_ops_total", "accumulate"))
}

func TestServe(t *testing.T) {
	collector, reg := newTestCollector(t)
	collector.RecordAssign()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	status := func() map[string]interface{} { return map[string]interface{}{"ready": 2} }
	go func() { done <- Serve(ctx, lis, reg, status) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wavefront_tasks_assigned_total 1")

	for path, want := range map[string]string{
		"/health": `{"status":"ok"}`,
		"/status": `{"ready":2}`,
	} {
		resp, err := http.Get("http://" + lis.Addr().String() + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.JSONEq(t, want, string(body), path)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}

func TestRouterWithoutStatus(t *testing.T) {
	_, reg := newTestCollector(t)
	router := NewRouter(reg, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// lockedBuffer is a bytes.Buffer safe for the logger and the test to share
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeLogsFailedShutdown(t *testing.T) {
	var out lockedBuffer
	previous := log
	log = slog.New(slog.NewTextHandler(&out, nil))
	t.Cleanup(func() { log = previous })

	_, reg := newTestCollector(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// a /status request that outlives the shutdown timeout
	entered := make(chan struct{})
	release := make(chan struct{})
	status := func() map[string]interface{} {
		close(entered)
		<-release
		return map[string]interface{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, lis, reg, status) }()

	go func() {
		resp, err := http.Get("http://" + lis.Addr().String() + "/status")
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered
	cancel()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "metrics server shutdown failed")
	}, 3*time.Second, 20*time.Millisecond)
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not return")
	}
}
