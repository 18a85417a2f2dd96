package exchange

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

// Local 是同一進程內對 Store 的存取端點
type Local struct {
	store *Store
	rank  int
	epoch *epoch
}

// NewLocal 建立 rank 的本地端點
//
// 參數：
//   - store: 擁有者進程上的 Store
//   - rank: 呼叫者的 rank（worker ID）
//   - asyncLimit: 每個 epoch 同時進行的傳輸上限，<= 0 時使用 DefaultAsyncLimit
func NewLocal(store *Store, rank, asyncLimit int) *Local {
	return &Local{store: store, rank: rank, epoch: newEpoch(asyncLimit)}
}

// Rank 返回呼叫者的 rank
func (l *Local) Rank() int { return l.rank }

// NumChunks 返回 chunk 數量
func (l *Local) NumChunks() int { return l.store.NumChunks() }

// ChunkSize 返回 chunk 大小
func (l *Local) ChunkSize() int { return l.store.ChunkSize() }

// Put 同步寫入一個 chunk
func (l *Local) Put(ctx context.Context, chunkID int, data []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.store.Put(chunkID, data)
}

// Get 同步讀取一個 chunk
func (l *Local) Get(ctx context.Context, chunkID int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.Get(chunkID)
}

// StartEpoch 開啟一個非同步傳輸批次
func (l *Local) StartEpoch() error { return l.epoch.start() }

// GetAsync 排程讀取 chunk 到 out，Flush 之後 out 才有效
func (l *Local) GetAsync(ctx context.Context, chunkID int, out []float64) error {
	if len(out) != l.store.ChunkSize() {
		return fmt.Errorf("%w: out has %d values, want %d", types.ErrInvalidArgument, len(out), l.store.ChunkSize())
	}
	return l.epoch.submit(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return l.store.GetInto(chunkID, out)
	})
}

// PutAsync 排程寫入 chunk，Flush 之前不可修改 data
func (l *Local) PutAsync(ctx context.Context, chunkID int, data []float64) error {
	if len(data) != l.store.ChunkSize() {
		return fmt.Errorf("%w: data has %d values, want %d", types.ErrInvalidArgument, len(data), l.store.ChunkSize())
	}
	return l.epoch.submit(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return l.store.Put(chunkID, data)
	})
}

// Flush 等待目前已排程的傳輸全部完成
func (l *Local) Flush() error { return l.epoch.flush() }

// EndEpoch 完成所有傳輸並關閉批次
func (l *Local) EndEpoch() error { return l.epoch.end() }

// Expose 發布本 rank 的本地緩衝區
func (l *Local) Expose(ctx context.Context, buf []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.store.Expose(l.rank, buf)
}

// Fetch 讀取其他 rank 的公開緩衝區
func (l *Local) Fetch(ctx context.Context, rank int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.Fetch(rank)
}

// Accumulate 將所有公開緩衝區加總到 target
func (l *Local) Accumulate(ctx context.Context, target int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.Accumulate(target)
}
