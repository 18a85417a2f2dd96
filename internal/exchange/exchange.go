package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned after the owning Store has been released
	ErrClosed = errors.New("exchange closed")
	// ErrNoEpoch is returned by async calls and Flush outside an epoch
	ErrNoEpoch = errors.New("no epoch open")
	// ErrEpochOpen is returned by StartEpoch while an epoch is already open
	ErrEpochOpen = errors.New("epoch already open")
)

// DefaultAsyncLimit bounds the number of transfers in flight inside one epoch.
const DefaultAsyncLimit = 8

// Exchange is one rank's handle on the chunk array and the exposed buffers.
//
// Put and Get complete before they return. Transfers scheduled with GetAsync
// and PutAsync may still be running until Flush returns; their buffers must not
// be touched before that.
type Exchange interface {
	Rank() int
	NumChunks() int
	ChunkSize() int

	Put(ctx context.Context, chunkID int, data []float64) error
	Get(ctx context.Context, chunkID int) ([]float64, error)

	StartEpoch() error
	GetAsync(ctx context.Context, chunkID int, out []float64) error
	PutAsync(ctx context.Context, chunkID int, data []float64) error
	Flush() error
	EndEpoch() error

	Expose(ctx context.Context, buf []float64) error
	Fetch(ctx context.Context, rank int) ([]float64, error)
	Accumulate(ctx context.Context, target int) ([]float64, error)
}

// ChunkID maps a (row, col) cell of a width-wide table to a chunk id, so that
// distinct cells never share a chunk.
func ChunkID(row, col, width int) int {
	return row*width + col
}

// epoch batches async transfers on an errgroup.
type epoch struct {
	mu    sync.Mutex
	limit int
	group *errgroup.Group
}

func newEpoch(limit int) *epoch {
	if limit <= 0 {
		limit = DefaultAsyncLimit
	}
	return &epoch{limit: limit}
}

func (e *epoch) start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.group != nil {
		return ErrEpochOpen
	}
	e.group = new(errgroup.Group)
	e.group.SetLimit(e.limit)
	return nil
}

func (e *epoch) submit(fn func() error) error {
	e.mu.Lock()
	g := e.group
	e.mu.Unlock()
	if g == nil {
		return ErrNoEpoch
	}
	g.Go(fn)
	return nil
}

// flush waits for every transfer submitted so far and keeps the epoch open.
func (e *epoch) flush() error {
	e.mu.Lock()
	g := e.group
	if g != nil {
		next := new(errgroup.Group)
		next.SetLimit(e.limit)
		e.group = next
	}
	e.mu.Unlock()
	if g == nil {
		return ErrNoEpoch
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (e *epoch) end() error {
	err := e.flush()
	e.mu.Lock()
	e.group = nil
	e.mu.Unlock()
	return err
}
