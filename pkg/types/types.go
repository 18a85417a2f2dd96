// Package types 定義了 wavefront 排程系統中使用的核心領域模型
package types

import (
	"errors"
	"fmt"
)

// ShutdownTaskID 是 StartTask 通道上的「沒有更多工作」哨兵值
const ShutdownTaskID = -1

// 錯誤分類，所有套件以 %w 包裝後由呼叫端用 errors.Is 判斷
var (
	// ErrInvalidArgument 表示網格大小、worker 數量或 chunk 參數不合法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrProtocolViolation 表示收到格式錯誤或不符合排程狀態的訊息
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrStalledWorker 表示在 stall timeout 內沒有任何 worker 回報
	ErrStalledWorker = errors.New("stalled worker")
)

// Dep 是一條依賴邊的目標：任務 Task 的第 Step 步必須已完成
type Dep struct {
	Task int `json:"task"`
	Step int `json:"step"`
}

func (d Dep) String() string {
	return fmt.Sprintf("(%d,%d)", d.Task, d.Step)
}

// StepRange 是任務需要依序執行的半開區間 [Begin, End)
type StepRange struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Len 返回區間內的步數
func (r StepRange) Len() int {
	return r.End - r.Begin
}

// Contains 判斷 step 是否落在區間內
func (r StepRange) Contains(step int) bool {
	return step >= r.Begin && step < r.End
}

// Last 返回區間的最後一步
func (r StepRange) Last() int {
	return r.End - 1
}

// StepRecord 是一筆 (task, step, result) 完成紀錄
type StepRecord struct {
	TaskID int   `json:"task_id"` // 任務 ID
	Step   int   `json:"step"`    // 步驟索引
	Result int64 `json:"result"`  // 由 step function 回傳，對排程器不透明
}

// Key 返回紀錄對應的 (task, step) 配對
func (r StepRecord) Key() Dep {
	return Dep{Task: r.TaskID, Step: r.Step}
}

// TaskStatus 任務狀態
type TaskStatus string

// 定義任務狀態常數
const (
	StatusUnready  TaskStatus = "unready"  // 依賴尚未滿足
	StatusReady    TaskStatus = "ready"    // 依賴已滿足，等待分派
	StatusAssigned TaskStatus = "assigned" // 已分派給 worker，正在逐步執行
	StatusFinished TaskStatus = "finished" // 最後一步已回報
)
