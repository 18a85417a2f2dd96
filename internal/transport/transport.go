// ============================================================================
// Wavefront Transport - Coordinator/Worker message links
// ============================================================================
//
// Package: internal/transport
// File: transport.go
// Purpose: Message kinds exchanged between the coordinator and its workers,
//          and the two ends of the link that carries them
//
// Message kinds (each on its own channel so they can be polled independently):
//   StartTask       coordinator -> worker   task id, or ShutdownTaskID
//   StepDone        worker -> coordinator   (task, step, result) after every step
//   WorkerAvailable worker -> coordinator   after the last step of a task
//
// Ordering:
//   Messages from one worker arrive in the order that worker sent them.
//   Nothing is guaranteed across workers.
//
// Implementations:
//   - Local: in-process channels (this package)
//   - gRPC:  server.Scheduler on the coordinator, worker.GrpcLink on workers
//
// ============================================================================

package transport

import (
	"context"
	"errors"

	"github.com/ChuLiYu/wavefront/pkg/types"
)

var (
	// ErrClosed is returned by links that have been shut down
	ErrClosed = errors.New("transport closed")
	// ErrUnknownWorker is returned when addressing a worker id outside the pool
	ErrUnknownWorker = errors.New("unknown worker")
)

// StepDone reports one completed step
type StepDone struct {
	Worker int
	Record types.StepRecord
}

// WorkerAvailable reports that a worker finished its task and is idle
type WorkerAvailable struct {
	Worker int
}

// CoordinatorLink is the coordinator's end of the link
type CoordinatorLink interface {
	// NumWorkers returns the pool size; worker ids are [0, NumWorkers)
	NumWorkers() int
	// Send delivers a StartTask to one worker
	Send(ctx context.Context, worker, taskID int) error
	// StepDone yields step completions from every worker
	StepDone() <-chan StepDone
	// Available yields idle notifications from every worker
	Available() <-chan WorkerAvailable
}

// WorkerLink is one worker's end of the link
type WorkerLink interface {
	// ID returns the worker id assigned by the coordinator
	ID() int
	// Receive blocks until the next StartTask arrives
	Receive(ctx context.Context) (int, error)
	// ReportStep sends one StepDone
	ReportStep(ctx context.Context, rec types.StepRecord) error
	// ReportAvailable sends WorkerAvailable
	ReportAvailable(ctx context.Context) error
}
