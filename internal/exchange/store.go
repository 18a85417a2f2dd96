// ============================================================================
// Wavefront DataExchange - 常駐 chunk 陣列
// ============================================================================
//
// Package: internal/exchange
// 文件: store.go
// 功能: 擁有者進程（coordinator）上的 numChunks × chunkSize 陣列，
//       以及各 rank 公開的本地緩衝區與 accumulate 接收緩衝區
//
// 鎖粒度:
//   每個 chunk 一把 sync.RWMutex：
//   - 不同 chunk 的 Put 互不阻塞
//   - 同一 chunk 的 Get 不會看到寫到一半的 Put
//   - 不提供跨 chunk 的順序保證
//   同一 chunk 的並發 Put 是呼叫者錯誤，最後寫入者勝出
//
// 公開緩衝區:
//   Expose(rank, buf) 發布 rank 本地緩衝區的副本，所有 rank 的長度必須一致
//   Accumulate(target) 先將 target 的接收緩衝區清零，再逐元素加總所有公開緩衝區
//
// ============================================================================

package exchange

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

// OpRecorder 接收每次存取的操作名稱與傳輸的 float64 數量
type OpRecorder interface {
	RecordExchangeOp(op string, values int)
}

// Store 是擁有者進程上的常駐資料
type Store struct {
	numChunks int
	chunkSize int
	data      []float64
	locks     []sync.RWMutex

	bufMu     sync.Mutex
	exposed   map[int][]float64 // rank -> 公開緩衝區
	received  map[int][]float64 // target -> accumulate 結果
	bufLength int               // 公開緩衝區長度，第一次 Expose 時決定

	recorder OpRecorder
	closed   atomic.Bool
}

// NewStore 配置 numChunks × chunkSize 的常駐陣列
//
// 返回值：
//   - error: numChunks 或 chunkSize <= 0 時返回 ErrInvalidArgument
func NewStore(numChunks, chunkSize int) (*Store, error) {
	if numChunks <= 0 {
		return nil, fmt.Errorf("%w: numChunks must be positive, got %d", types.ErrInvalidArgument, numChunks)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunkSize must be positive, got %d", types.ErrInvalidArgument, chunkSize)
	}
	return &Store{
		numChunks: numChunks,
		chunkSize: chunkSize,
		data:      make([]float64, numChunks*chunkSize),
		locks:     make([]sync.RWMutex, numChunks),
		exposed:   make(map[int][]float64),
		received:  make(map[int][]float64),
	}, nil
}

// SetRecorder 設定操作統計的接收者，必須在開始存取前呼叫
func (s *Store) SetRecorder(r OpRecorder) {
	s.recorder = r
}

// NumChunks 返回 chunk 數量
func (s *Store) NumChunks() int {
	return s.numChunks
}

// ChunkSize 返回每個 chunk 的 float64 數量
func (s *Store) ChunkSize() int {
	return s.chunkSize
}

// checkChunk 驗證 chunk ID 與資料長度
func (s *Store) checkChunk(chunkID, length int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if chunkID < 0 || chunkID >= s.numChunks {
		return fmt.Errorf("%w: chunk %d outside [0, %d)", types.ErrInvalidArgument, chunkID, s.numChunks)
	}
	if length != s.chunkSize {
		return fmt.Errorf("%w: chunk payload has %d values, want %d", types.ErrInvalidArgument, length, s.chunkSize)
	}
	return nil
}

// Put 寫入一個 chunk
func (s *Store) Put(chunkID int, data []float64) error {
	if err := s.checkChunk(chunkID, len(data)); err != nil {
		return err
	}
	off := chunkID * s.chunkSize

	s.locks[chunkID].Lock()
	if s.data == nil {
		s.locks[chunkID].Unlock()
		return ErrClosed
	}
	copy(s.data[off:off+s.chunkSize], data)
	s.locks[chunkID].Unlock()

	s.record("put", s.chunkSize)
	return nil
}

// Get 讀取一個 chunk 的副本
func (s *Store) Get(chunkID int) ([]float64, error) {
	out := make([]float64, s.chunkSize)
	if err := s.GetInto(chunkID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInto 將一個 chunk 讀入 out，len(out) 必須等於 chunkSize
func (s *Store) GetInto(chunkID int, out []float64) error {
	if err := s.checkChunk(chunkID, len(out)); err != nil {
		return err
	}
	off := chunkID * s.chunkSize

	s.locks[chunkID].RLock()
	if s.data == nil {
		s.locks[chunkID].RUnlock()
		return ErrClosed
	}
	copy(out, s.data[off:off+s.chunkSize])
	s.locks[chunkID].RUnlock()

	s.record("get", s.chunkSize)
	return nil
}

// Snapshot 返回整個陣列的副本，每個 chunk 各自一致
func (s *Store) Snapshot() []float64 {
	out := make([]float64, s.numChunks*s.chunkSize)
	for id := 0; id < s.numChunks; id++ {
		off := id * s.chunkSize
		s.locks[id].RLock()
		if s.data != nil {
			copy(out[off:off+s.chunkSize], s.data[off:off+s.chunkSize])
		}
		s.locks[id].RUnlock()
	}
	return out
}

// Expose 發布 rank 的本地緩衝區
func (s *Store) Expose(rank int, buf []float64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if rank < 0 {
		return fmt.Errorf("%w: rank %d", types.ErrInvalidArgument, rank)
	}
	if len(buf) == 0 {
		return fmt.Errorf("%w: empty buffer", types.ErrInvalidArgument)
	}

	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	if s.bufLength == 0 {
		s.bufLength = len(buf)
	} else if len(buf) != s.bufLength {
		return fmt.Errorf("%w: rank %d exposed %d values, want %d", types.ErrInvalidArgument, rank, len(buf), s.bufLength)
	}
	s.exposed[rank] = append([]float64(nil), buf...)

	s.record("expose", len(buf))
	return nil
}

// Fetch 返回 rank 公開緩衝區的副本
func (s *Store) Fetch(rank int) ([]float64, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	buf, ok := s.exposed[rank]
	if !ok {
		return nil, fmt.Errorf("%w: rank %d has not exposed a buffer", types.ErrInvalidArgument, rank)
	}
	s.record("fetch", len(buf))
	return append([]float64(nil), buf...), nil
}

// Accumulate 將所有公開緩衝區逐元素加總到 target 的接收緩衝區
//
// 接收緩衝區在加總前清零，結果同時保存在 Store 中並以副本返回
func (s *Store) Accumulate(target int) ([]float64, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if target < 0 {
		return nil, fmt.Errorf("%w: target %d", types.ErrInvalidArgument, target)
	}

	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	if len(s.exposed) == 0 {
		return nil, fmt.Errorf("%w: no buffers exposed", types.ErrInvalidArgument)
	}

	recv := s.received[target]
	if len(recv) != s.bufLength {
		recv = make([]float64, s.bufLength)
	}
	clear(recv)

	ranks := make([]int, 0, len(s.exposed))
	for rank := range s.exposed {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	for _, rank := range ranks {
		for i, v := range s.exposed[rank] {
			recv[i] += v
		}
	}
	s.received[target] = recv

	s.record("accumulate", len(recv)*len(ranks))
	return append([]float64(nil), recv...), nil
}

// Received 返回 target 最近一次 accumulate 的結果
func (s *Store) Received(target int) ([]float64, bool) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	recv, ok := s.received[target]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), recv...), true
}

// Close 釋放常駐資料，之後的存取返回 ErrClosed
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	for id := range s.locks {
		s.locks[id].Lock()
	}
	s.data = nil
	for id := range s.locks {
		s.locks[id].Unlock()
	}

	s.bufMu.Lock()
	s.exposed = make(map[int][]float64)
	s.received = make(map[int][]float64)
	s.bufMu.Unlock()
}

func (s *Store) record(op string, values int) {
	if s.recorder != nil {
		s.recorder.RecordExchangeOp(op, values)
	}
}
