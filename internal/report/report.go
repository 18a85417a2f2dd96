package report

// ============================================================================
// 職責說明：
// 1. 將一次執行的結果摘要序列化為 JSON 報告
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 計算實際與理想加速比
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/pkg/types"
)

// SchemaVersion 是目前的報告格式版本
const SchemaVersion = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedReport     = errors.New("report file is corrupted")
	ErrIncompatibleVersion = errors.New("report schema version is incompatible")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Report 一次執行的摘要
type Report struct {
	SchemaVer    int       `json:"schema_version"`
	Run          string    `json:"run,omitempty"` // trace 日誌的執行 ID
	Mode         string    `json:"mode"`
	AgeGroups    int       `json:"age_groups"`
	TimeSteps    int       `json:"time_steps"`
	Workers      int       `json:"workers"`
	Tasks        int       `json:"tasks"`
	Records      int       `json:"records"`
	StepDelayMs  float64   `json:"step_delay_ms"`
	ElapsedMs    float64   `json:"elapsed_ms"`
	Speedup      float64   `json:"speedup"`       // records × stepDelay / elapsed
	IdealSpeedup float64   `json:"ideal_speedup"` // min(workers, 總步數 / 關鍵路徑)
	FinishedAt   time.Time `json:"finished_at"`
}

// Summary 描述一次完成的執行
type Summary struct {
	Run       string
	Mode      string
	Graph     *depgraph.Graph
	AgeGroups int
	TimeSteps int
	Workers   int
	Records   []types.StepRecord
	StepDelay time.Duration
	Elapsed   time.Duration
}

// Build 由執行摘要計算報告
func Build(s Summary) Report {
	r := Report{
		SchemaVer:   SchemaVersion,
		Run:         s.Run,
		Mode:        s.Mode,
		AgeGroups:   s.AgeGroups,
		TimeSteps:   s.TimeSteps,
		Workers:     s.Workers,
		Records:     len(s.Records),
		StepDelayMs: float64(s.StepDelay) / float64(time.Millisecond),
		ElapsedMs:   float64(s.Elapsed) / float64(time.Millisecond),
		FinishedAt:  time.Now().UTC(),
	}
	if s.Elapsed > 0 {
		r.Speedup = float64(len(s.Records)) * float64(s.StepDelay) / float64(s.Elapsed)
	}
	if s.Graph != nil {
		r.Tasks = s.Graph.NumTasks()
		r.IdealSpeedup = IdealSpeedup(s.Graph, s.Workers)
	}
	return r
}

// IdealSpeedup 返回每步耗時相同時 numWorkers 個 worker 的加速比上限
func IdealSpeedup(g *depgraph.Graph, numWorkers int) float64 {
	cp := g.CriticalPath()
	if cp == 0 || numWorkers <= 0 {
		return 0
	}
	ideal := float64(g.NumCohortSteps()) / float64(cp)
	if ideal > float64(numWorkers) {
		ideal = float64(numWorkers)
	}
	return ideal
}

// Manager 報告檔案管理器
type Manager struct {
	path string     // 報告檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewManager 建立報告管理器實例
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// GetPath 取得報告檔案路徑
func (m *Manager) GetPath() string {
	return m.path
}

// Write 原子性寫入報告
//
// 使用原子性寫入流程：
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Write(r Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.SchemaVer = SchemaVersion

	jsonBytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp report: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename report: %w", err)
	}
	return nil
}

// Load 載入報告並驗證版本
func (m *Manager) Load() (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r Report
	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		return r, fmt.Errorf("failed to read report: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrCorruptedReport, err)
	}
	if r.SchemaVer != SchemaVersion {
		return r, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, r.SchemaVer, SchemaVersion)
	}
	return r, nil
}
