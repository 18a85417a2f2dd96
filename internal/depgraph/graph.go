// ============================================================================
// Wavefront 依賴圖 - 任務步驟範圍與依賴集合
// ============================================================================
//
// Package: internal/depgraph
// 文件: graph.go
// 功能: 不可變的任務依賴圖，供 Coordinator 與 Worker 共享
//
// 資料模型:
//   - 任務 ID 為 [0, NumTasks) 的連續整數
//   - 每個任務有一個半開步驟區間 [Begin, End)
//   - 每個任務有一組 (otherTask, otherStep) 依賴，只在任務開始前檢查一次
//
// 建構方式:
//   1. Analyze()              - 年齡 × 時間網格（wavefront）
//   2. NewGraph()             - 使用者指定的步驟範圍與依賴
//   3. Independent()          - 無依賴的單步任務（plain task farm）
//   4. FromTaskDependencies() - 任務層級依賴，映射到對方最後一步
//
// 所有建構函式都會呼叫 Validate()，圖建立後即不可變，可被多個 goroutine 讀取
//
// ============================================================================

package depgraph

import (
	"fmt"
	"sort"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

// Graph 保存每個任務的步驟範圍與依賴集合
type Graph struct {
	ranges []types.StepRange // 依任務 ID 索引的步驟範圍
	deps   [][]types.Dep     // 依任務 ID 索引的依賴集合

	// Analyze 建立的網格尺寸，其他建構方式為 0
	ageGroups, timeSteps int
}

// NewGraph 由明確的步驟範圍與依賴建立圖
//
// 參數：
//   - ranges: taskID -> 步驟範圍，ID 必須是 [0, len(ranges)) 的連續整數
//   - deps: taskID -> 依賴集合，缺少的任務視為無依賴
//
// 返回值：
//   - *Graph: 驗證過的依賴圖
//   - error: 參數不合法或圖中有環時返回 ErrInvalidArgument
func NewGraph(ranges map[int]types.StepRange, deps map[int][]types.Dep) (*Graph, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: graph has no tasks", types.ErrInvalidArgument)
	}

	g := &Graph{
		ranges: make([]types.StepRange, len(ranges)),
		deps:   make([][]types.Dep, len(ranges)),
	}
	for id, r := range ranges {
		if id < 0 || id >= len(ranges) {
			return nil, fmt.Errorf("%w: task id %d outside [0, %d)", types.ErrInvalidArgument, id, len(ranges))
		}
		g.ranges[id] = r
	}
	for id, d := range deps {
		if id < 0 || id >= len(ranges) {
			return nil, fmt.Errorf("%w: dependency for unknown task %d", types.ErrInvalidArgument, id)
		}
		g.deps[id] = append([]types.Dep(nil), d...)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Independent 建立 numTasks 個無依賴的單步任務
func Independent(numTasks int) (*Graph, error) {
	if numTasks <= 0 {
		return nil, fmt.Errorf("%w: numTasks must be positive, got %d", types.ErrInvalidArgument, numTasks)
	}
	ranges := make(map[int]types.StepRange, numTasks)
	for id := 0; id < numTasks; id++ {
		ranges[id] = types.StepRange{Begin: 0, End: 1}
	}
	return NewGraph(ranges, nil)
}

// FromTaskDependencies 建立單步任務圖，任務層級的依賴映射到對方任務的最後一步
func FromTaskDependencies(numTasks int, taskDeps map[int][]int) (*Graph, error) {
	if numTasks <= 0 {
		return nil, fmt.Errorf("%w: numTasks must be positive, got %d", types.ErrInvalidArgument, numTasks)
	}
	ranges := make(map[int]types.StepRange, numTasks)
	for id := 0; id < numTasks; id++ {
		ranges[id] = types.StepRange{Begin: 0, End: 1}
	}
	deps := make(map[int][]types.Dep, len(taskDeps))
	for id, others := range taskDeps {
		for _, other := range others {
			deps[id] = append(deps[id], types.Dep{Task: other, Step: 0})
		}
	}
	return NewGraph(ranges, deps)
}

// NumTasks 返回任務總數
func (g *Graph) NumTasks() int {
	return len(g.ranges)
}

// StepRange 返回任務的步驟範圍
func (g *Graph) StepRange(taskID int) types.StepRange {
	return g.ranges[taskID]
}

// NumSteps 返回任務的步數
func (g *Graph) NumSteps(taskID int) int {
	return g.ranges[taskID].Len()
}

// Deps 返回任務依賴集合的副本
func (g *Graph) Deps(taskID int) []types.Dep {
	return append([]types.Dep(nil), g.deps[taskID]...)
}

// Has 判斷 taskID 是否屬於此圖
func (g *Graph) Has(taskID int) bool {
	return taskID >= 0 && taskID < len(g.ranges)
}

// Grid 返回 Analyze 的 (numAgeGroups, numTimeSteps)，非網格圖返回 (0, 0)
func (g *Graph) Grid() (int, int) {
	return g.ageGroups, g.timeSteps
}

// NumCohortSteps 返回所有任務的步數總和，也就是一次完整執行應產生的紀錄數
func (g *Graph) NumCohortSteps() int {
	total := 0
	for _, r := range g.ranges {
		total += r.Len()
	}
	return total
}

// Roots 返回沒有依賴的任務 ID（遞增排序）
func (g *Graph) Roots() []int {
	roots := make([]int, 0)
	for id := range g.ranges {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Validate 檢查圖的一致性
//
// 檢查項目：
//  1. 每個步驟範圍非空且 Begin >= 0
//  2. 每條依賴指向存在的任務、且步驟落在對方範圍內
//  3. 沒有自我依賴，且整體無環（Kahn 拓撲排序）
func (g *Graph) Validate() error {
	for id, r := range g.ranges {
		if r.Begin < 0 || r.Len() <= 0 {
			return fmt.Errorf("%w: task %d has empty step range [%d, %d)", types.ErrInvalidArgument, id, r.Begin, r.End)
		}
	}

	indegree := make([]int, len(g.ranges))
	dependents := make([][]int, len(g.ranges))
	for id, deps := range g.deps {
		seen := make(map[int]bool, len(deps))
		for _, d := range deps {
			if !g.Has(d.Task) {
				return fmt.Errorf("%w: task %d depends on unknown task %d", types.ErrInvalidArgument, id, d.Task)
			}
			if d.Task == id {
				return fmt.Errorf("%w: task %d depends on itself", types.ErrInvalidArgument, id)
			}
			if !g.ranges[d.Task].Contains(d.Step) {
				return fmt.Errorf("%w: task %d depends on step %d of task %d outside %v",
					types.ErrInvalidArgument, id, d.Step, d.Task, g.ranges[d.Task])
			}
			if !seen[d.Task] {
				seen[d.Task] = true
				indegree[id]++
				dependents[d.Task] = append(dependents[d.Task], id)
			}
		}
	}

	queue := make([]int, 0, len(g.ranges))
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.ranges) {
		return fmt.Errorf("%w: dependency graph has a cycle", types.ErrInvalidArgument)
	}
	return nil
}

// TopologicalOrder 返回一個滿足依賴的任務順序（同層以 ID 遞增）
func (g *Graph) TopologicalOrder() []int {
	indegree := make([]int, len(g.ranges))
	dependents := make([][]int, len(g.ranges))
	for id, deps := range g.deps {
		seen := make(map[int]bool, len(deps))
		for _, d := range deps {
			if !seen[d.Task] {
				seen[d.Task] = true
				indegree[id]++
				dependents[d.Task] = append(dependents[d.Task], id)
			}
		}
	}

	order := make([]int, 0, len(g.ranges))
	frontier := make([]int, 0)
	for id, n := range indegree {
		if n == 0 {
			frontier = append(frontier, id)
		}
	}
	for len(frontier) > 0 {
		sort.Ints(frontier)
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}
	return order
}

// CriticalPath 返回無限多 worker 且每步耗時 1 單位時，完成整張圖所需的步數
//
// 任務的最早開始時間 = 各依賴步驟完成時間的最大值；
// 依賴 (task, step) 的完成時間 = start(task) + (step - Begin) + 1
func (g *Graph) CriticalPath() int {
	start := make([]int, len(g.ranges))
	longest := 0
	for _, id := range g.TopologicalOrder() {
		for _, d := range g.deps[id] {
			if done := start[d.Task] + d.Step - g.ranges[d.Task].Begin + 1; done > start[id] {
				start[id] = done
			}
		}
		if end := start[id] + g.ranges[id].Len(); end > longest {
			longest = end
		}
	}
	return longest
}
