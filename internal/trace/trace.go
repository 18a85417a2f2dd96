package trace

// ============================================================================
// Trace 日誌核心實作
// 職責：
// 1. 以 JSON lines 追加排程事件（append-only）
// 2. 批次緩衝寫入，Close 時 flush
// 3. 提供重放功能並驗證每個事件的 checksum
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// DefaultBufferSize 是批次寫入的預設事件數
const DefaultBufferSize = 256

// Log 表示一次執行的事件日誌
type Log struct {
	mu      sync.Mutex    // 保護並發寫入
	file    FileInterface // 日誌檔案
	encoder *json.Encoder // JSON 編碼器
	run     string        // 執行 ID
	seq     uint64        // 當前事件序號
	closed  bool

	buffer     []Event // 批次寫入事件緩衝區
	bufferSize int
}

// Create 建立新的事件日誌，既有檔案會被覆寫
//
// 參數：
//
//	path       - 日誌檔案路徑
//	bufferSize - 批次寫入事件數，<= 0 時使用 DefaultBufferSize
func Create(path string, bufferSize int) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	return newLog(file, bufferSize), nil
}

func newLog(file FileInterface, bufferSize int) *Log {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Log{
		file:       file,
		encoder:    json.NewEncoder(file),
		run:        uuid.NewString(),
		buffer:     make([]Event, 0, bufferSize),
		bufferSize: bufferSize,
	}
}

// Run 返回本日誌的執行 ID
func (l *Log) Run() string {
	return l.run
}

// Append 追加一個事件
//
// 行為：
// - 自動遞增 seq
// - 計算 checksum
// - 緩衝區滿時寫入檔案
func (l *Log) Append(typ EventType, worker, task, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	l.seq++
	event := Event{
		Seq:       l.seq,
		Run:       l.run,
		Type:      typ,
		Worker:    worker,
		Task:      task,
		Step:      step,
		Timestamp: time.Now().UnixMicro(),
	}
	event.Checksum = CalculateChecksum(event)
	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= l.bufferSize {
		return l.flushLocked()
	}
	return nil
}

// Flush 將緩衝事件寫入並同步到磁碟
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	return l.flushLocked()
}

// Close flush 後關閉日誌，關閉後不可再使用
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.flushLocked(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// LastSeq 取得當前的事件序號
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// flushLocked 假設調用者已經持有 l.mu 鎖
func (l *Log) flushLocked() error {
	for _, event := range l.buffer {
		if err := l.encoder.Encode(event); err != nil {
			return fmt.Errorf("trace: write seq=%d: %w", event.Seq, err)
		}
	}
	l.buffer = l.buffer[:0]
	return l.file.Sync()
}

// Replay 依序讀取日誌檔案中的所有事件
//
// 行為：
// - 驗證每個事件的 checksum
// - 呼叫 handler 處理事件
// - 遇到錯誤立即停止
func Replay(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for decoder.More() {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			return fmt.Errorf("trace: decode %s: %w", path, err)
		}
		if err := VerifyChecksum(event); err != nil {
			return err
		}
		if err := handler(event); err != nil {
			return err
		}
	}
	return nil
}

// Load 讀取日誌檔案中的所有事件
func Load(path string) ([]Event, error) {
	var events []Event
	err := Replay(path, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
