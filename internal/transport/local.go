package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

// Local 是同一進程內的 coordinator/worker 連線，以 channel 實作
//
// 每個 worker 有自己的 StartTask channel（緩衝 1：coordinator 只會對閒置
// worker 發送一個任務或哨兵值），StepDone 與 WorkerAvailable 各用一個
// 共享的帶緩衝 channel，單一 channel 保證每個發送者的 FIFO 順序
type Local struct {
	startCh  []chan int
	stepCh   chan StepDone
	availCh  chan WorkerAvailable
	closeCh  chan struct{}
	closeMu  sync.Mutex
	isClosed bool
}

// NewLocal 建立 numWorkers 個 worker 的本地連線
//
// 參數：
//   - numWorkers: worker 數量
//   - bufferSize: StepDone / WorkerAvailable 通道的緩衝大小
func NewLocal(numWorkers, bufferSize int) *Local {
	l := &Local{
		startCh: make([]chan int, numWorkers),
		stepCh:  make(chan StepDone, bufferSize),
		availCh: make(chan WorkerAvailable, bufferSize),
		closeCh: make(chan struct{}),
	}
	for i := range l.startCh {
		l.startCh[i] = make(chan int, 1)
	}
	return l
}

// NumWorkers 返回 worker 數量
func (l *Local) NumWorkers() int {
	return len(l.startCh)
}

// Send 將任務 ID 發送給指定 worker
func (l *Local) Send(ctx context.Context, worker, taskID int) error {
	if worker < 0 || worker >= len(l.startCh) {
		return fmt.Errorf("%w: %d", ErrUnknownWorker, worker)
	}
	select {
	case l.startCh[worker] <- taskID:
		return nil
	case <-l.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StepDone 返回步驟完成通道
func (l *Local) StepDone() <-chan StepDone {
	return l.stepCh
}

// Available 返回 worker 閒置通道
func (l *Local) Available() <-chan WorkerAvailable {
	return l.availCh
}

// Worker 返回指定 worker 的連線端點
func (l *Local) Worker(id int) *LocalWorker {
	return &LocalWorker{id: id, link: l}
}

// Close 關閉連線，阻塞中的 Send/Receive 會返回 ErrClosed
func (l *Local) Close() {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.isClosed {
		return
	}
	l.isClosed = true
	close(l.closeCh)
}

// LocalWorker 是 Local 連線中單一 worker 的端點
type LocalWorker struct {
	id   int
	link *Local
}

// ID 返回 worker ID
func (w *LocalWorker) ID() int {
	return w.id
}

// Receive 阻塞直到收到下一個任務 ID
func (w *LocalWorker) Receive(ctx context.Context) (int, error) {
	select {
	case taskID := <-w.link.startCh[w.id]:
		return taskID, nil
	case <-w.link.closeCh:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReportStep 發送 StepDone
func (w *LocalWorker) ReportStep(ctx context.Context, rec types.StepRecord) error {
	select {
	case w.link.stepCh <- StepDone{Worker: w.id, Record: rec}:
		return nil
	case <-w.link.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportAvailable 發送 WorkerAvailable
func (w *LocalWorker) ReportAvailable(ctx context.Context) error {
	select {
	case w.link.availCh <- WorkerAvailable{Worker: w.id}:
		return nil
	case <-w.link.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
