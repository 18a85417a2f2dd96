package depgraph

// ============================================================================
// 年齡 × 時間網格分析
// 職責：由 (numAgeGroups, numTimeSteps) 推導任務步驟範圍與依賴
// ============================================================================
//
// 編號方式（A = numAgeGroups, T = numTimeSteps）：
//
//   - 任務 k < A 是初始年齡層 k，從第 0 步開始、存活 min(A-k, T) 步
//   - 任務 t >= A 是在全域時間 t-A+1 出生的新世代，存活 min(A, T+A-t-1) 步
//
// 任務 t >= A 的依賴：對每個祖先槽位 i ∈ [0, A)，自然祖先為 a = t-i-1
//
//   - a >= A：依賴 (a, i)，即祖先處於年齡 i 的那一步
//   - a <  A：祖先尚未進入滿寬的網格，步驟折疊為 t-A；
//     初始任務依年齡遞增編號，所以對應的是鏡像 ID A-1-a
//
// a = A-1 時折疊步驟 t-A 剛好等於 i，兩種邊界判斷得到相同的步驟索引

import (
	"fmt"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

// Analyze 建立 wavefront 網格的依賴圖
//
// 參數：
//   - numAgeGroups: 年齡層數量 A
//   - numTimeSteps: 全域時間步數 T
//
// 返回值：
//   - *Graph: A+T-1 個任務的依賴圖，步數總和為 A*T
//   - error: 任一參數 <= 0 時返回 ErrInvalidArgument
func Analyze(numAgeGroups, numTimeSteps int) (*Graph, error) {
	if numAgeGroups <= 0 {
		return nil, fmt.Errorf("%w: numAgeGroups must be positive, got %d", types.ErrInvalidArgument, numAgeGroups)
	}
	if numTimeSteps <= 0 {
		return nil, fmt.Errorf("%w: numTimeSteps must be positive, got %d", types.ErrInvalidArgument, numTimeSteps)
	}

	na, nt := numAgeGroups, numTimeSteps
	numTasks := na + nt - 1

	g := &Graph{
		ranges:    make([]types.StepRange, numTasks),
		deps:      make([][]types.Dep, numTasks),
		ageGroups: na,
		timeSteps: nt,
	}

	for id := 0; id < numTasks; id++ {
		if id < na {
			g.ranges[id] = types.StepRange{Begin: 0, End: min(na-id, nt)}
			continue
		}

		g.ranges[id] = types.StepRange{Begin: 0, End: min(na, nt+na-id-1)}
		deps := make([]types.Dep, 0, na)
		for i := 0; i < na; i++ {
			ancestor := id - i - 1
			if ancestor >= na {
				deps = append(deps, types.Dep{Task: ancestor, Step: i})
			} else {
				deps = append(deps, types.Dep{Task: na - 1 - ancestor, Step: id - na})
			}
		}
		g.deps[id] = deps
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("grid %dx%d: %w", na, nt, err)
	}
	return g, nil
}
