// ============================================================================
// Wavefront 控制器 - coordinator 排程迴圈
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 依照依賴圖把 cohort 任務分派給 worker，直到所有任務完成
//
// 架構設計:
//   Controller 是 coordinator 進程的"大腦"，協調以下組件：
//   - depgraph.Graph: 每個任務的步驟範圍與依賴 (task, step)
//   - taskmanager.SchedulerState: 完成集合、分派集合與 ready frontier
//   - transport.CoordinatorLink: StartTask / StepDone / WorkerAvailable
//   - Recorder / Tracer: 選用的指標與事件日誌
//
// 排程迴圈 (單一 goroutine):
//   a. 非阻塞地取出所有 StepDone：記錄、加入完成集合、最後一步時任務結束
//   b. ready frontier 由 SchedulerState 隨完成事件增量維護
//   c. 將 ready 任務（ID 最小者優先）配對給閒置 worker（ID 最小者優先）
//   d. 非阻塞地取出所有 WorkerAvailable，標記 worker 為閒置
//   e. 若本輪沒有任何進展，以 select 阻塞等待：StepDone、WorkerAvailable、
//      ctx.Done 或 stall timer
//   所有任務完成、且每個 worker 都回報 WorkerAvailable 後，才對每個 worker
//   發送哨兵值 (taskId = -1)；worker 的最後一個回報因此一定先於關閉
//
// 協議驗證 (違反時返回 ErrProtocolViolation):
//   - StepDone 的任務沒有分派給該 worker
//   - 步驟超出範圍、重複或跳號
//   - 閒置 worker 發送 WorkerAvailable
//   - 未知的 worker ID
//
// Stall:
//   StallTimeout == 0 時無限等待；大於 0 時，超過該時間沒有任何訊息即返回
//   ErrStalledWorker
//
// 每次 Run 都使用新的 SchedulerState，Controller 只能執行一次
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/taskmanager"
	"github.com/ChuLiYu/wavefront/internal/trace"
	"github.com/ChuLiYu/wavefront/internal/transport"
	"github.com/ChuLiYu/wavefront/pkg/types"
)

var log = slog.Default()

// ErrAlreadyRan 表示 Run 已經被呼叫過
var ErrAlreadyRan = errors.New("controller already ran")

// ============================================================================
// 資料結構定義
// ============================================================================

// Observer 在每次分派、發送 StartTask 之前被呼叫
type Observer func(taskID, worker int, state *taskmanager.SchedulerState)

// Recorder 接收排程指標
type Recorder interface {
	RecordAssign()
	RecordStep(interval time.Duration)
	RecordFinish()
	UpdateState(ready, assigned, idle int)
}

// Tracer 接收排程事件
type Tracer interface {
	Append(typ trace.EventType, worker, task, step int) error
}

// Config Controller 配置
type Config struct {
	StallTimeout time.Duration // 0 表示無限等待
	NumAgeGroups int           // > 0 時要求 worker 數量 <= NumAgeGroups
	Observer     Observer      // 選用
	Metrics      Recorder      // 選用
	Trace        Tracer        // 選用
	Logger       *slog.Logger  // 選用，預設為 slog.Default()
}

// Controller coordinator 排程器
type Controller struct {
	mu        sync.Mutex // 保護 ran / startTime
	graph     *depgraph.Graph
	link      transport.CoordinatorLink
	config    Config
	state     *taskmanager.SchedulerState
	idle      []bool    // 每個 worker 是否閒置
	lastStep  time.Time // 上一個 StepDone 的時間
	startTime time.Time
	ran       bool
	logger    *slog.Logger
}

// ============================================================================
// 核心方法實作
// ============================================================================

// ValidateWorkers 檢查 worker 數量
//
// 參數：
//   - numWorkers: worker 數量
//   - numAgeGroups: 網格的 age group 數，<= 0 表示不限制上限
func ValidateWorkers(numWorkers, numAgeGroups int) error {
	if numWorkers < 1 {
		return fmt.Errorf("%w: need at least one worker, got %d", types.ErrInvalidArgument, numWorkers)
	}
	if numAgeGroups > 0 && numWorkers > numAgeGroups {
		return fmt.Errorf("%w: %d workers for %d age groups, at most one worker per age group",
			types.ErrInvalidArgument, numWorkers, numAgeGroups)
	}
	return nil
}

// NewController 建立新的 Controller 實例
//
// 參數：
//   - graph: 已驗證的依賴圖，worker 必須使用同一份
//   - link: coordinator 端的連線，決定 worker 數量
//   - config: Controller 配置
//
// 返回值：
//   - *Controller: Controller 實例
//   - error: worker 數量或依賴圖不合法
func NewController(graph *depgraph.Graph, link transport.CoordinatorLink, config Config) (*Controller, error) {
	if err := ValidateWorkers(link.NumWorkers(), config.NumAgeGroups); err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = log
	}

	idle := make([]bool, link.NumWorkers())
	for i := range idle {
		idle[i] = true
	}

	return &Controller{
		graph:  graph,
		link:   link,
		config: config,
		state:  taskmanager.NewSchedulerState(graph),
		idle:   idle,
		logger: logger.With("component", "controller"),
	}, nil
}

// Run 執行排程直到所有任務完成，然後發送哨兵值給每個 worker
//
// 返回值：
//   - []types.StepRecord: 依到達順序排列的所有完成紀錄
//   - error: 協議違規、stall、ctx 取消或連線錯誤（皆為致命錯誤）
func (c *Controller) Run(ctx context.Context) ([]types.StepRecord, error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil, ErrAlreadyRan
	}
	c.ran = true
	c.startTime = time.Now()
	c.mu.Unlock()
	c.lastStep = c.startTime

	c.logger.Info("Scheduling started",
		"tasks", c.graph.NumTasks(),
		"steps", c.graph.NumCohortSteps(),
		"workers", c.link.NumWorkers())

	if err := c.schedule(ctx); err != nil {
		c.logger.Error("Scheduling aborted", "error", err)
		return nil, err
	}
	if err := c.shutdown(ctx); err != nil {
		return nil, err
	}

	records := c.state.Records()
	c.logger.Info("Scheduling completed",
		"records", len(records),
		"duration", time.Since(c.startTime))
	return records, nil
}

// schedule 是排程主迴圈
func (c *Controller) schedule(ctx context.Context) error {
	var stallC <-chan time.Time
	var stall *time.Timer
	if c.config.StallTimeout > 0 {
		stall = time.NewTimer(c.config.StallTimeout)
		defer stall.Stop()
		stallC = stall.C
	}
	heard := func() {
		if stall != nil {
			stall.Reset(c.config.StallTimeout)
		}
	}

	for !c.state.Done() || c.busy() > 0 {
		// a. StepDone
		steps, err := c.drainSteps()
		if err != nil {
			return err
		}

		// c. 分派
		assigned, err := c.assign(ctx)
		if err != nil {
			return err
		}

		// d. WorkerAvailable
		freed, err := c.drainAvailable()
		if err != nil {
			return err
		}

		c.updateGauges()
		if steps+freed > 0 {
			heard()
		}
		if steps+assigned+freed > 0 {
			continue
		}
		if c.state.Done() && c.busy() == 0 {
			break
		}

		// e. 沒有進展，阻塞等待
		select {
		case msg := <-c.link.StepDone():
			if err := c.handleStep(msg); err != nil {
				return err
			}
		case msg := <-c.link.Available():
			if err := c.handleAvailable(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-stallC:
			return fmt.Errorf("%w: no report from %d busy workers (%d assigned tasks) for %s",
				types.ErrStalledWorker, c.busy(), len(c.state.AssignedTasks()), c.config.StallTimeout)
		}
		heard()
	}
	return nil
}

// drainSteps 非阻塞地處理所有已到達的 StepDone
func (c *Controller) drainSteps() (int, error) {
	n := 0
	for {
		select {
		case msg := <-c.link.StepDone():
			if err := c.handleStep(msg); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

// drainAvailable 非阻塞地處理所有已到達的 WorkerAvailable
func (c *Controller) drainAvailable() (int, error) {
	n := 0
	for {
		select {
		case msg := <-c.link.Available():
			if err := c.handleAvailable(msg); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

// busy 返回尚未回報 WorkerAvailable 的 worker 數
func (c *Controller) busy() int {
	n := 0
	for _, idle := range c.idle {
		if !idle {
			n++
		}
	}
	return n
}

func (c *Controller) checkWorker(worker int) error {
	if worker < 0 || worker >= len(c.idle) {
		return fmt.Errorf("%w: message from unknown worker %d", types.ErrProtocolViolation, worker)
	}
	return nil
}

// handleStep 記錄一個完成步驟
func (c *Controller) handleStep(msg transport.StepDone) error {
	if err := c.checkWorker(msg.Worker); err != nil {
		return err
	}
	finished, err := c.state.RecordStep(msg.Worker, msg.Record)
	if err != nil {
		return err
	}

	now := time.Now()
	if c.config.Metrics != nil {
		c.config.Metrics.RecordStep(now.Sub(c.lastStep))
	}
	c.lastStep = now
	c.appendTrace(trace.EventStep, msg.Worker, msg.Record.TaskID, msg.Record.Step)

	if finished {
		if c.config.Metrics != nil {
			c.config.Metrics.RecordFinish()
		}
		c.appendTrace(trace.EventFinish, msg.Worker, msg.Record.TaskID, msg.Record.Step)
		c.logger.Debug("Task finished", "task", msg.Record.TaskID, "worker", msg.Worker)
	}
	return nil
}

// handleAvailable 將 worker 標記為閒置
func (c *Controller) handleAvailable(msg transport.WorkerAvailable) error {
	if err := c.checkWorker(msg.Worker); err != nil {
		return err
	}
	if c.idle[msg.Worker] {
		return fmt.Errorf("%w: WorkerAvailable from idle worker %d", types.ErrProtocolViolation, msg.Worker)
	}
	c.idle[msg.Worker] = true
	c.appendTrace(trace.EventAvailable, msg.Worker, -1, -1)
	return nil
}

// assign 將 ready 任務配對給閒置 worker
func (c *Controller) assign(ctx context.Context) (int, error) {
	if !c.state.HasReady() {
		return 0, nil
	}
	n := 0
	for worker := range c.idle {
		if !c.idle[worker] {
			continue
		}
		taskID, ok := c.state.PopReady()
		if !ok {
			break
		}
		if err := c.state.MarkAssigned(taskID, worker); err != nil {
			return n, err
		}
		if c.config.Observer != nil {
			c.config.Observer(taskID, worker, c.state)
		}
		c.idle[worker] = false

		if err := c.link.Send(ctx, worker, taskID); err != nil {
			return n, fmt.Errorf("send task %d to worker %d: %w", taskID, worker, err)
		}
		if c.config.Metrics != nil {
			c.config.Metrics.RecordAssign()
		}
		c.appendTrace(trace.EventAssign, worker, taskID, -1)
		c.logger.Debug("Task assigned", "task", taskID, "worker", worker)
		n++
	}
	return n, nil
}

// shutdown 對每個 worker 發送哨兵值
func (c *Controller) shutdown(ctx context.Context) error {
	for worker := range c.idle {
		if err := c.link.Send(ctx, worker, types.ShutdownTaskID); err != nil {
			return fmt.Errorf("send shutdown to worker %d: %w", worker, err)
		}
		c.appendTrace(trace.EventShutdown, worker, types.ShutdownTaskID, -1)
	}
	return nil
}

func (c *Controller) updateGauges() {
	if c.config.Metrics == nil {
		return
	}
	stats := c.state.Stats()
	c.config.Metrics.UpdateState(stats[string(types.StatusReady)], stats[string(types.StatusAssigned)], len(c.idle)-c.busy())
}

// appendTrace 寫入事件日誌，失敗只記錄不中止
func (c *Controller) appendTrace(typ trace.EventType, worker, task, step int) {
	if c.config.Trace == nil {
		return
	}
	if err := c.config.Trace.Append(typ, worker, task, step); err != nil {
		c.logger.Error("Failed to append trace event", "type", typ, "error", err)
	}
}

// ============================================================================
// 公開方法
// ============================================================================

// State 返回排程狀態，供觀察與測試使用
func (c *Controller) State() *taskmanager.SchedulerState {
	return c.state
}

// GetStatus 取得排程狀態摘要
func (c *Controller) GetStatus() map[string]interface{} {
	c.mu.Lock()
	start := c.startTime
	c.mu.Unlock()

	stats := c.state.Stats()
	status := map[string]interface{}{
		"workers":         c.link.NumWorkers(),
		"tasks":           c.graph.NumTasks(),
		"unready":         stats[string(types.StatusUnready)],
		"ready":           stats[string(types.StatusReady)],
		"assigned":        stats[string(types.StatusAssigned)],
		"finished":        stats[string(types.StatusFinished)],
		"completed_steps": stats["completed_steps"],
		"ready_tasks":     c.state.ReadyTasks(),
	}
	if !start.IsZero() {
		status["uptime"] = time.Since(start).String()
	}
	return status
}
