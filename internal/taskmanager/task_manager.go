// ============================================================================
// Wavefront 排程狀態 - 任務狀態機實現
// ============================================================================
//
// Package: internal/taskmanager
// 文件: task_manager.go
// 功能: 保存一次執行中的完成集合、分派集合與 ready frontier
//
// 任務狀態轉換 (State Machine):
//   Unready (依賴未滿足)
//      ↓ 最後一個依賴 (task, step) 完成
//   Ready (等待分派)
//      ↓ PopReady() + MarkAssigned()
//   Assigned (在某個 worker 上逐步執行)
//      ↓ RecordStep() 收到最後一步
//   Finished
//
// 數據結構設計:
//   status []TaskStatus         - 主存儲，依任務 ID 索引
//   completed map[Dep]struct{}  - 單調增長的完成集合，永不刪除
//   unmet []int                 - 每個任務尚未滿足的依賴數
//   waiters map[Dep][]int       - 依賴 -> 等待它的任務，完成時遞減 unmet
//   ready []int                 - 依 ID 遞增排序的 ready 佇列（FIFO by id）
//
//   readiness 由完成事件增量推導，不需每輪掃描全部任務
//
// 並發安全:
//   - 排程迴圈是唯一的寫入者
//   - 使用 sync.RWMutex 讓 Stats() 等查詢可從其他 goroutine 呼叫
//
// 每次執行都建立新的 SchedulerState，沒有全域狀態
//
// ============================================================================

package taskmanager

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrTaskNotFound 任務 ID 不在依賴圖中
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotReady 任務不是 Ready 狀態，無法分派
	ErrNotReady = errors.New("task not ready")
)

// NoWorker 表示任務目前沒有分派給任何 worker
const NoWorker = -1

// ============================================================================
// 資料結構定義
// ============================================================================

// SchedulerState 代表一次執行的 coordinator 私有狀態
type SchedulerState struct {
	mu        sync.RWMutex
	graph     *depgraph.Graph
	status    []types.TaskStatus     // 每個任務的狀態
	owner     []int                  // 執行中任務所屬的 worker
	nextStep  []int                  // 每個任務下一個預期回報的步驟
	unmet     []int                  // 尚未滿足的依賴數
	waiters   map[types.Dep][]int    // 依賴 -> 等待它的任務
	completed map[types.Dep]struct{} // 已完成的 (task, step)
	ready     []int                  // Ready 任務，依 ID 遞增
	records   []types.StepRecord     // 依到達順序保存的完成紀錄
	finished  int                    // Finished 任務數
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewSchedulerState 建立新的排程狀態
//
// 參數：
//   - graph: 不可變的依賴圖
//
// 返回值：
//   - *SchedulerState: 所有無依賴任務都已在 ready 佇列中
func NewSchedulerState(graph *depgraph.Graph) *SchedulerState {
	n := graph.NumTasks()
	s := &SchedulerState{
		graph:     graph,
		status:    make([]types.TaskStatus, n),
		owner:     make([]int, n),
		nextStep:  make([]int, n),
		unmet:     make([]int, n),
		waiters:   make(map[types.Dep][]int),
		completed: make(map[types.Dep]struct{}, graph.NumCohortSteps()),
		ready:     make([]int, 0, n),
		records:   make([]types.StepRecord, 0, graph.NumCohortSteps()),
	}

	for id := 0; id < n; id++ {
		s.owner[id] = NoWorker
		s.nextStep[id] = graph.StepRange(id).Begin

		seen := make(map[types.Dep]bool)
		for _, d := range graph.Deps(id) {
			if seen[d] {
				continue
			}
			seen[d] = true
			s.unmet[id]++
			s.waiters[d] = append(s.waiters[d], id)
		}

		if s.unmet[id] == 0 {
			s.status[id] = types.StatusReady
			s.ready = append(s.ready, id)
		} else {
			s.status[id] = types.StatusUnready
		}
	}
	return s
}

// ReadyTasks 返回目前 ready frontier 的副本（ID 遞增）
func (s *SchedulerState) ReadyTasks() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.ready...)
}

// HasReady 判斷是否有等待分派的任務
func (s *SchedulerState) HasReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ready) > 0
}

// PopReady 取出 ID 最小的 Ready 任務
//
// 返回值：
//   - int: 任務 ID
//   - bool: 佇列為空時為 false
func (s *SchedulerState) PopReady() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ready) == 0 {
		return 0, false
	}
	id := s.ready[0]
	s.ready = s.ready[1:]
	return id, true
}

// MarkAssigned 將 Ready 任務標記為分派給 worker
//
// 任務必須已經由 PopReady() 取出，或仍在 ready 佇列中（此時會一併移除）
func (s *SchedulerState) MarkAssigned(taskID, worker int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.graph.Has(taskID) {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}
	if s.status[taskID] != types.StatusReady {
		return fmt.Errorf("%w: task %d is %s", ErrNotReady, taskID, s.status[taskID])
	}

	if i := sort.SearchInts(s.ready, taskID); i < len(s.ready) && s.ready[i] == taskID {
		s.ready = append(s.ready[:i], s.ready[i+1:]...)
	}
	s.status[taskID] = types.StatusAssigned
	s.owner[taskID] = worker
	return nil
}

// RecordStep 記錄 worker 回報的一個完成步驟
//
// 驗證規則（違反時返回 ErrProtocolViolation）：
//   - 任務存在且目前分派給該 worker
//   - 步驟落在任務範圍內
//   - 步驟依序回報，不重複也不跳號
//
// 返回值：
//   - bool: 這一步是任務的最後一步（任務進入 Finished）
//   - error: 協議違規
func (s *SchedulerState) RecordStep(worker int, rec types.StepRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.graph.Has(rec.TaskID) {
		return false, fmt.Errorf("%w: worker %d reported unknown task %d", types.ErrProtocolViolation, worker, rec.TaskID)
	}
	if s.status[rec.TaskID] != types.StatusAssigned || s.owner[rec.TaskID] != worker {
		return false, fmt.Errorf("%w: worker %d reported task %d which is %s on worker %d",
			types.ErrProtocolViolation, worker, rec.TaskID, s.status[rec.TaskID], s.owner[rec.TaskID])
	}
	r := s.graph.StepRange(rec.TaskID)
	if !r.Contains(rec.Step) {
		return false, fmt.Errorf("%w: step %d of task %d outside [%d, %d)",
			types.ErrProtocolViolation, rec.Step, rec.TaskID, r.Begin, r.End)
	}
	if rec.Step != s.nextStep[rec.TaskID] {
		return false, fmt.Errorf("%w: task %d reported step %d, expected %d",
			types.ErrProtocolViolation, rec.TaskID, rec.Step, s.nextStep[rec.TaskID])
	}

	s.nextStep[rec.TaskID]++
	s.records = append(s.records, rec)
	key := rec.Key()
	s.completed[key] = struct{}{}

	for _, waiting := range s.waiters[key] {
		s.unmet[waiting]--
		if s.unmet[waiting] == 0 && s.status[waiting] == types.StatusUnready {
			s.status[waiting] = types.StatusReady
			s.insertReadyLocked(waiting)
		}
	}

	if rec.Step == r.Last() {
		s.status[rec.TaskID] = types.StatusFinished
		s.owner[rec.TaskID] = NoWorker
		s.finished++
		return true, nil
	}
	return false, nil
}

// insertReadyLocked 以排序方式插入 ready 佇列，呼叫者必須持有 s.mu
func (s *SchedulerState) insertReadyLocked(taskID int) {
	i := sort.SearchInts(s.ready, taskID)
	s.ready = append(s.ready, 0)
	copy(s.ready[i+1:], s.ready[i:])
	s.ready[i] = taskID
}

// IsCompleted 判斷 (task, step) 是否已在完成集合中
func (s *SchedulerState) IsCompleted(d types.Dep) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[d]
	return ok
}

// DepsSatisfied 判斷任務的所有依賴是否都已完成
func (s *SchedulerState) DepsSatisfied(taskID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.graph.Deps(taskID) {
		if _, ok := s.completed[d]; !ok {
			return false
		}
	}
	return true
}

// Status 返回任務目前的狀態
func (s *SchedulerState) Status(taskID int) types.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[taskID]
}

// Owner 返回執行任務的 worker，未分派時為 NoWorker
func (s *SchedulerState) Owner(taskID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner[taskID]
}

// AssignedTasks 返回目前分派中的任務 ID
func (s *SchedulerState) AssignedTasks() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0)
	for id, st := range s.status {
		if st == types.StatusAssigned {
			ids = append(ids, id)
		}
	}
	return ids
}

// Done 判斷所有任務是否都已完成
func (s *SchedulerState) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished == len(s.status)
}

// Records 返回依到達順序排列的完成紀錄副本
func (s *SchedulerState) Records() []types.StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.StepRecord(nil), s.records...)
}

// Stats 返回各狀態的任務數與已完成步數
func (s *SchedulerState) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{
		string(types.StatusUnready):  0,
		string(types.StatusReady):    0,
		string(types.StatusAssigned): 0,
		string(types.StatusFinished): 0,
		"completed_steps":            len(s.completed),
	}
	for _, st := range s.status {
		stats[string(st)]++
	}
	return stats
}
