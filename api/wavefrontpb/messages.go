package wavefrontpb

import "google.golang.org/protobuf/encoding/protowire"

// RegisterRequest is sent by a worker process joining the pool. NumTasks and,
// for grid graphs, AgeGroups and TimeSteps must match the coordinator's graph.
type RegisterRequest struct {
	NumTasks  int64
	Hostname  string
	AgeGroups int64
	TimeSteps int64
}

func (r *RegisterRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, r.NumTasks)
	b = appendString(b, 2, r.Hostname)
	b = appendInt(b, 3, r.AgeGroups)
	b = appendInt(b, 4, r.TimeSteps)
	return b
}

func (r *RegisterRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &r.NumTasks)
	case 2:
		return consumeString(num, typ, b, &r.Hostname)
	case 3:
		return consumeInt(num, typ, b, &r.AgeGroups)
	case 4:
		return consumeInt(num, typ, b, &r.TimeSteps)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// RegisterResponse carries the worker id assigned by the coordinator.
type RegisterResponse struct {
	WorkerID   int64
	NumWorkers int64
}

func (r *RegisterResponse) appendWire(b []byte) []byte {
	b = appendInt(b, 1, r.WorkerID)
	b = appendInt(b, 2, r.NumWorkers)
	return b
}

func (r *RegisterResponse) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &r.WorkerID)
	case 2:
		return consumeInt(num, typ, b, &r.NumWorkers)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// AttachRequest opens the StartTask stream of a registered worker.
type AttachRequest struct {
	WorkerID int64
}

func (a *AttachRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, a.WorkerID)
	return b
}

func (a *AttachRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &a.WorkerID)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// StartTask assigns a task. TaskID -1 is the shutdown sentinel.
type StartTask struct {
	TaskID int64
}

func (s *StartTask) appendWire(b []byte) []byte {
	b = appendInt(b, 1, s.TaskID)
	return b
}

func (s *StartTask) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &s.TaskID)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// StepDone reports one completed step.
type StepDone struct {
	WorkerID int64
	TaskID   int64
	Step     int64
	Result   int64
}

func (s *StepDone) appendWire(b []byte) []byte {
	b = appendInt(b, 1, s.WorkerID)
	b = appendInt(b, 2, s.TaskID)
	b = appendInt(b, 3, s.Step)
	b = appendInt(b, 4, s.Result)
	return b
}

func (s *StepDone) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &s.WorkerID)
	case 2:
		return consumeInt(num, typ, b, &s.TaskID)
	case 3:
		return consumeInt(num, typ, b, &s.Step)
	case 4:
		return consumeInt(num, typ, b, &s.Result)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// WorkerAvailable reports that a worker is idle again.
type WorkerAvailable struct {
	WorkerID int64
}

func (w *WorkerAvailable) appendWire(b []byte) []byte {
	b = appendInt(b, 1, w.WorkerID)
	return b
}

func (w *WorkerAvailable) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &w.WorkerID)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// Ack is the empty response of one-way calls.
type Ack struct{}

func (*Ack) appendWire(b []byte) []byte { return b }

func (*Ack) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	return protowire.ConsumeFieldValue(num, typ, b)
}

// LayoutRequest asks for the exchange geometry.
type LayoutRequest struct{}

func (*LayoutRequest) appendWire(b []byte) []byte { return b }

func (*LayoutRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	return protowire.ConsumeFieldValue(num, typ, b)
}

// Layout describes the resident chunk array.
type Layout struct {
	NumChunks int64
	ChunkSize int64
}

func (l *Layout) appendWire(b []byte) []byte {
	b = appendInt(b, 1, l.NumChunks)
	b = appendInt(b, 2, l.ChunkSize)
	return b
}

func (l *Layout) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &l.NumChunks)
	case 2:
		return consumeInt(num, typ, b, &l.ChunkSize)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// PutRequest writes one chunk.
type PutRequest struct {
	ChunkID int64
	Data    []float64
}

func (p *PutRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, p.ChunkID)
	b = appendDoubles(b, 2, p.Data)
	return b
}

func (p *PutRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &p.ChunkID)
	case 2:
		return consumeDoubles(num, typ, b, &p.Data)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// GetRequest reads one chunk.
type GetRequest struct {
	ChunkID int64
}

func (g *GetRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, g.ChunkID)
	return b
}

func (g *GetRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &g.ChunkID)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// Chunk carries chunk or buffer contents.
type Chunk struct {
	Data []float64
}

func (c *Chunk) appendWire(b []byte) []byte {
	b = appendDoubles(b, 1, c.Data)
	return b
}

func (c *Chunk) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeDoubles(num, typ, b, &c.Data)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// ExposeRequest publishes the local buffer of a rank.
type ExposeRequest struct {
	Rank int64
	Data []float64
}

func (e *ExposeRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, e.Rank)
	b = appendDoubles(b, 2, e.Data)
	return b
}

func (e *ExposeRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &e.Rank)
	case 2:
		return consumeDoubles(num, typ, b, &e.Data)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// FetchRequest reads the exposed buffer of a rank.
type FetchRequest struct {
	Rank int64
}

func (f *FetchRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, f.Rank)
	return b
}

func (f *FetchRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &f.Rank)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// AccumulateRequest sums every exposed buffer into the receive buffer of Target.
type AccumulateRequest struct {
	Target int64
}

func (a *AccumulateRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, a.Target)
	return b
}

func (a *AccumulateRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &a.Target)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// ScoreRequest stores a task status on the scoreboard.
type ScoreRequest struct {
	TaskID int64
	Status int64
}

func (s *ScoreRequest) appendWire(b []byte) []byte {
	b = appendInt(b, 1, s.TaskID)
	b = appendInt(b, 2, s.Status)
	return b
}

func (s *ScoreRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &s.TaskID)
	case 2:
		return consumeInt(num, typ, b, &s.Status)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// ScoreQuery lists the tasks in one status.
type ScoreQuery struct {
	Status int64
}

func (s *ScoreQuery) appendWire(b []byte) []byte {
	b = appendInt(b, 1, s.Status)
	return b
}

func (s *ScoreQuery) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInt(num, typ, b, &s.Status)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// ScoreList holds task ids.
type ScoreList struct {
	TaskIDs []int64
}

func (s *ScoreList) appendWire(b []byte) []byte {
	b = appendInts(b, 1, s.TaskIDs)
	return b
}

func (s *ScoreList) consumeField(num protowire.Number, typ protowire.Type, b []byte) int {
	switch num {
	case 1:
		return consumeInts(num, typ, b, &s.TaskIDs)
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}
