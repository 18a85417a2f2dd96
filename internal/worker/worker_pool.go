// ============================================================================
// Wavefront Worker Pool - 同進程 worker 群組
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 在本地 transport 上管理 N 個 Worker goroutine 的生命週期（local 模式）
//
// 架構組件:
//   ┌─────────────┐  Send(worker, task)   ┌─────────────────────┐
//   │ Controller  │ ────────────────────> │ transport.Local     │
//   └─────────────┘ <── StepDone/Avail ── │  startCh[0..N-1]    │
//                                         └─────────────────────┘
//                                                   ↕
//                                         ┌─────────────────────┐
//                                         │ Pool                │
//                                         │  Worker 0..N-1      │
//                                         │  (errgroup)         │
//                                         └─────────────────────┘
//
// 生命週期:
//   1. NewPool() - 建立 Pool，每個 worker 綁定 Local 的一個端點
//   2. Start(ctx) - 以 errgroup 啟動所有 Worker
//   3. Wait() - 等待全部 Worker 收到哨兵值後結束，返回第一個錯誤
//   4. Stop() - 取消 context 並等待（中止執行）
//
// 錯誤處理:
//   - 任一 Worker 返回錯誤時，errgroup 取消其他 Worker 的 context
//   - ErrPoolNotStarted / ErrPoolStarted / ErrPoolClosed 表示生命週期誤用
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/transport"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示 Pool 已停止
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted 表示 Pool 已經啟動過
	ErrPoolStarted = errors.New("worker pool already started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表同一進程內的一組 Worker
type Pool struct {
	workers []*Worker          // 依 worker ID 排列
	group   *errgroup.Group    // 追蹤所有 Worker goroutine
	cancel  context.CancelFunc // Stop() 用來中止執行
	started bool               // 是否已啟動
	stopped bool               // 是否已停止
	mu      sync.Mutex         // 保護 started / stopped
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 為 link 上的每個 worker 端點建立一個 Worker
//
// 參數：
//   - link: 本地 transport，決定 worker 數量
//   - graph: coordinator 使用的同一份依賴圖
//   - task: 每個任務的執行函式
//   - opts: 套用到每個 Worker 的選項
//
// 返回值：
//   - *Pool: Worker Pool 實例
//   - error: link 沒有 worker 時返回 ErrInvalidArgument
func NewPool(link *transport.Local, graph *depgraph.Graph, task TaskFunc, opts ...Option) (*Pool, error) {
	if link.NumWorkers() < 1 {
		return nil, fmt.Errorf("%w: pool needs at least one worker", types.ErrInvalidArgument)
	}
	p := &Pool{workers: make([]*Worker, link.NumWorkers())}
	for i := range p.workers {
		p.workers[i] = New(link.Worker(i), graph, task, opts...)
	}
	return p, nil
}

// Start 啟動所有 Worker
//
// 返回值：
//   - error: 重複啟動返回 ErrPoolStarted，已停止返回 ErrPoolClosed
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolClosed
	}
	if p.started {
		return ErrPoolStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		p.group.Go(func() error {
			return w.Run(ctx)
		})
	}

	p.started = true
	return nil
}

// Wait 等待所有 Worker 結束並返回第一個錯誤
func (p *Pool) Wait() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	group := p.group
	p.mu.Unlock()
	return group.Wait()
}

// Stop 中止所有 Worker 並等待它們退出
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	group := p.group
	p.mu.Unlock()

	cancel()
	_ = group.Wait()
}

// GetWorkerCount 返回 Worker 數量
func (p *Pool) GetWorkerCount() int {
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
