// ============================================================================
// Wavefront Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露排程器與資料交換層的運行指標
//
// 指標分類:
//
//   1. 排程計數器 (Counter)：
//      - wavefront_tasks_assigned_total: 已分派 cohort 任務總數
//      - wavefront_tasks_finished_total: 已完成 cohort 任務總數
//      - wavefront_steps_completed_total: 已完成時間步總數
//
//   2. 性能指標 (Histogram)：
//      - wavefront_step_interval_seconds: 協調者收到兩個相鄰 StepDone 的間隔
//
//   3. 狀態指標 (Gauge)：
//      - wavefront_tasks_ready: 依賴已滿足、等待分派的任務數
//      - wavefront_tasks_assigned: 已分派但尚未完成的任務數
//      - wavefront_workers_idle: 閒置 worker 數
//
//   4. 資料交換 (CounterVec，label: op)：
//      - wavefront_exchange_ops_total: put/get/accumulate/... 次數
//      - wavefront_exchange_bytes_total: 傳輸的位元組數（float64 × 8）
//
// Prometheus 查詢示例:
//
//   # 每秒完成的時間步
//   rate(wavefront_steps_completed_total[1m])
//
//   # worker 利用率
//   1 - wavefront_workers_idle / <worker 數>
//
// HTTP 端點 (chi 路由):
//   /metrics 由 Prometheus 定期抓取，/health 與 /status 供操作者查詢
//   默認端口 9090
//
// ============================================================================

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wavefront"

var log = slog.Default().With("component", "metrics")

// Collector Prometheus 指標收集器
// 同時實作 controller.Recorder 與 exchange.OpRecorder
type Collector struct {
	// 排程相關指標
	tasksAssigned  prometheus.Counter
	tasksFinished  prometheus.Counter
	stepsCompleted prometheus.Counter
	stepInterval   prometheus.Histogram

	// 狀態指標
	tasksReady    prometheus.Gauge
	tasksInFlight prometheus.Gauge
	workersIdle   prometheus.Gauge

	// 資料交換指標
	exchangeOps   *prometheus.CounterVec
	exchangeBytes *prometheus.CounterVec
}

// NewCollector 創建新的指標收集器並註冊到 reg
//
// 參數：
//   - reg: 指標註冊器，nil 時使用 prometheus.DefaultRegisterer
//
// 返回值：
//   - error: 重複註冊時的錯誤
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		tasksAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_assigned_total",
			Help:      "Total number of cohort tasks assigned to workers",
		}),
		tasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of cohort tasks that reported their last step",
		}),
		stepsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_completed_total",
			Help:      "Total number of cohort time steps completed",
		}),
		stepInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_interval_seconds",
			Help:      "Time between consecutive step completions seen by the coordinator",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		tasksReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_ready",
			Help:      "Tasks whose dependencies are satisfied but not yet assigned",
		}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_assigned",
			Help:      "Tasks assigned to a worker and not yet finished",
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_idle",
			Help:      "Workers waiting for a task",
		}),
		exchangeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_ops_total",
			Help:      "Data exchange operations by kind",
		}, []string{"op"}),
		exchangeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_bytes_total",
			Help:      "Bytes moved by data exchange operations",
		}, []string{"op"}),
	}

	// 註冊所有指標
	for _, m := range []prometheus.Collector{
		c.tasksAssigned, c.tasksFinished, c.stepsCompleted, c.stepInterval,
		c.tasksReady, c.tasksInFlight, c.workersIdle,
		c.exchangeOps, c.exchangeBytes,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return c, nil
}

// RecordAssign 記錄任務分派
func (c *Collector) RecordAssign() {
	c.tasksAssigned.Inc()
}

// RecordStep 記錄一個完成的時間步及其與上一個的間隔
func (c *Collector) RecordStep(interval time.Duration) {
	c.stepsCompleted.Inc()
	c.stepInterval.Observe(interval.Seconds())
}

// RecordFinish 記錄任務完成
func (c *Collector) RecordFinish() {
	c.tasksFinished.Inc()
}

// UpdateState 更新排程狀態統計
func (c *Collector) UpdateState(ready, assigned, idle int) {
	c.tasksReady.Set(float64(ready))
	c.tasksInFlight.Set(float64(assigned))
	c.workersIdle.Set(float64(idle))
}

// RecordExchangeOp 記錄一次資料交換操作，values 為傳輸的 float64 數量
func (c *Collector) RecordExchangeOp(op string, values int) {
	c.exchangeOps.WithLabelValues(op).Inc()
	if values > 0 {
		c.exchangeBytes.WithLabelValues(op).Add(float64(values * 8))
	}
}

// StatusFunc 返回 /status 端點的 JSON 內容
type StatusFunc func() map[string]interface{}

// Handler 返回 gatherer 的 /metrics HTTP handler
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewRouter 建立監控 HTTP 路由
//
// 路由：
//   - GET /metrics: Prometheus 文本格式
//   - GET /health:  {"status":"ok"}
//   - GET /status:  status() 的 JSON，status 為 nil 時不註冊
func NewRouter(gatherer prometheus.Gatherer, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", Handler(gatherer))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	if status != nil {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, status())
		})
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// StartServer 啟動監控 HTTP 伺服器，ctx 取消時關閉
//
// 參數：
//   - ctx: 控制伺服器生命週期
//   - port: HTTP 伺服器端口
//   - gatherer: 指標來源，nil 時使用預設註冊表
//   - status: /status 內容，可為 nil
//
// 返回值：
//   - error: 啟動失敗的錯誤
func StartServer(ctx context.Context, port int, gatherer prometheus.Gatherer, status StatusFunc) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	return Serve(ctx, lis, gatherer, status)
}

// Serve 在 lis 上提供監控路由，ctx 取消時關閉
func Serve(ctx context.Context, lis net.Listener, gatherer prometheus.Gatherer, status StatusFunc) error {
	srv := &http.Server{Handler: NewRouter(gatherer, status), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
