package trace

import (
	"errors"
	"fmt"
)

// ============================================================================
// Trace Type Definitions
// Responsibility: Define the scheduling events written to the trace log
// ============================================================================

// EventType defines trace event types
type EventType string

const (
	EventAssign    EventType = "ASSIGN"    // Task sent to a worker
	EventStep      EventType = "STEP"      // Worker reported one step
	EventFinish    EventType = "FINISH"    // Last step of a task reported
	EventAvailable EventType = "AVAILABLE" // Worker reported idle
	EventShutdown  EventType = "SHUTDOWN"  // Sentinel sent to a worker
)

// Event represents one trace record. Task and Step are -1 when they do not
// apply to the event type.
type Event struct {
	Seq       uint64    `json:"seq"`       // Monotonically increasing within a run
	Run       string    `json:"run"`       // Run id shared by all events of one log
	Type      EventType `json:"type"`      // Event type
	Worker    int       `json:"worker"`    // Worker id
	Task      int       `json:"task"`      // Task id
	Step      int       `json:"step"`      // Step index
	Timestamp int64     `json:"timestamp"` // Unix microsecond timestamp
	Checksum  uint32    `json:"checksum"`  // CRC32 checksum
}

// EventHandler processes one event during Replay
type EventHandler func(event Event) error

// Predefined errors
var (
	// ErrChecksumMismatch indicates a corrupted or edited event
	ErrChecksumMismatch = errors.New("trace: checksum mismatch")

	// ErrLogClosed indicates the log has been closed
	ErrLogClosed = errors.New("trace: already closed")
)

// ChecksumError represents checksum error with detailed information
type ChecksumError struct {
	Seq      uint64 // Sequence number of failed event
	Expected uint32 // Expected checksum
	Actual   uint32 // Actual checksum
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("trace: checksum mismatch at seq=%d (expected=%08x, actual=%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}
