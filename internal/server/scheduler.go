package server

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/ChuLiYu/wavefront/api/wavefrontpb"
	"github.com/ChuLiYu/wavefront/internal/transport"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Scheduler implements the Scheduler gRPC service and is the coordinator's
// transport.CoordinatorLink at the same time: StartTask messages passed to Send
// are streamed to the attached worker, and reports received over RPC come out
// of StepDone and Available.
type Scheduler struct {
	numWorkers int
	shape      Shape

	mu         sync.Mutex
	registered int
	attached   []bool
	startCh    []chan int

	stepCh  chan transport.StepDone
	availCh chan transport.WorkerAvailable

	allRegistered chan struct{}
	closeCh       chan struct{}
	closeOnce     sync.Once
}

var _ pb.SchedulerServer = (*Scheduler)(nil)
var _ transport.CoordinatorLink = (*Scheduler)(nil)

// Shape is the graph a registering worker must have built.
type Shape struct {
	NumTasks  int
	AgeGroups int // 0 for graphs not built by depgraph.Analyze
	TimeSteps int
}

// NewScheduler returns a service that accepts exactly numWorkers registrations
// from workers that agree on shape.
func NewScheduler(numWorkers int, shape Shape, bufferSize int) (*Scheduler, error) {
	if numWorkers < 1 {
		return nil, fmt.Errorf("%w: need at least one worker, got %d", types.ErrInvalidArgument, numWorkers)
	}
	s := &Scheduler{
		numWorkers:    numWorkers,
		shape:         shape,
		attached:      make([]bool, numWorkers),
		startCh:       make([]chan int, numWorkers),
		stepCh:        make(chan transport.StepDone, bufferSize),
		availCh:       make(chan transport.WorkerAvailable, bufferSize),
		allRegistered: make(chan struct{}),
		closeCh:       make(chan struct{}),
	}
	for i := range s.startCh {
		s.startCh[i] = make(chan int, 1)
	}
	return s, nil
}

// Register hands out the next worker id.
func (s *Scheduler) Register(ctx context.Context, req *pb.RegisterRequest) (*pb.RegisterResponse, error) {
	if int(req.NumTasks) != s.shape.NumTasks {
		return nil, status.Errorf(codes.InvalidArgument,
			"worker built a graph of %d tasks, coordinator has %d", req.NumTasks, s.shape.NumTasks)
	}
	if s.shape.AgeGroups > 0 && (int(req.AgeGroups) != s.shape.AgeGroups || int(req.TimeSteps) != s.shape.TimeSteps) {
		return nil, status.Errorf(codes.InvalidArgument,
			"worker built a %dx%d grid, coordinator has %dx%d",
			req.AgeGroups, req.TimeSteps, s.shape.AgeGroups, s.shape.TimeSteps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered >= s.numWorkers {
		return nil, status.Errorf(codes.ResourceExhausted, "all %d worker slots taken", s.numWorkers)
	}
	id := s.registered
	s.registered++
	if s.registered == s.numWorkers {
		close(s.allRegistered)
	}

	log.Info("worker registered", "worker", id, "hostname", req.Hostname, "registered", s.registered, "expected", s.numWorkers)
	return &pb.RegisterResponse{WorkerID: int64(id), NumWorkers: int64(s.numWorkers)}, nil
}

// Attach streams StartTask messages to one worker until the shutdown sentinel
// has been delivered.
func (s *Scheduler) Attach(req *pb.AttachRequest, stream grpc.ServerStreamingServer[pb.StartTask]) error {
	id := int(req.WorkerID)
	if err := s.checkRegistered(id); err != nil {
		return err
	}

	s.mu.Lock()
	if s.attached[id] {
		s.mu.Unlock()
		return status.Errorf(codes.FailedPrecondition, "worker %d already attached", id)
	}
	s.attached[id] = true
	s.mu.Unlock()

	ctx := stream.Context()
	for {
		select {
		case taskID := <-s.startCh[id]:
			if done, err := sendStart(stream, taskID); done || err != nil {
				return err
			}
		case <-s.closeCh:
			return s.drainStart(id, stream)
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
}

// sendStart reports done once the shutdown sentinel has been sent.
func sendStart(stream grpc.ServerStreamingServer[pb.StartTask], taskID int) (bool, error) {
	if err := stream.Send(&pb.StartTask{TaskID: int64(taskID)}); err != nil {
		return false, err
	}
	return taskID == types.ShutdownTaskID, nil
}

// drainStart delivers messages queued before Close, the sentinel included.
func (s *Scheduler) drainStart(id int, stream grpc.ServerStreamingServer[pb.StartTask]) error {
	for {
		select {
		case taskID := <-s.startCh[id]:
			if done, err := sendStart(stream, taskID); done || err != nil {
				return err
			}
		default:
			return status.Error(codes.Unavailable, "scheduler closed")
		}
	}
}

// ReportStep queues one StepDone before acknowledging it.
func (s *Scheduler) ReportStep(ctx context.Context, req *pb.StepDone) (*pb.Ack, error) {
	id := int(req.WorkerID)
	if err := s.checkRegistered(id); err != nil {
		return nil, err
	}
	msg := transport.StepDone{
		Worker: id,
		Record: types.StepRecord{TaskID: int(req.TaskID), Step: int(req.Step), Result: req.Result},
	}
	select {
	case s.stepCh <- msg:
		return &pb.Ack{}, nil
	case <-s.closeCh:
		return nil, status.Error(codes.Unavailable, "scheduler closed")
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// ReportAvailable queues one WorkerAvailable before acknowledging it.
func (s *Scheduler) ReportAvailable(ctx context.Context, req *pb.WorkerAvailable) (*pb.Ack, error) {
	id := int(req.WorkerID)
	if err := s.checkRegistered(id); err != nil {
		return nil, err
	}
	select {
	case s.availCh <- transport.WorkerAvailable{Worker: id}:
		return &pb.Ack{}, nil
	case <-s.closeCh:
		return nil, status.Error(codes.Unavailable, "scheduler closed")
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

func (s *Scheduler) checkRegistered(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= s.registered {
		return status.Errorf(codes.FailedPrecondition, "%v: worker %d is not registered", types.ErrProtocolViolation, id)
	}
	return nil
}

// WaitForWorkers blocks until every worker slot has been registered.
func (s *Scheduler) WaitForWorkers(ctx context.Context) error {
	select {
	case <-s.allRegistered:
		return nil
	case <-s.closeCh:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NumWorkers implements transport.CoordinatorLink.
func (s *Scheduler) NumWorkers() int {
	return s.numWorkers
}

// Send implements transport.CoordinatorLink. The message is buffered until the
// worker attaches.
func (s *Scheduler) Send(ctx context.Context, worker, taskID int) error {
	if worker < 0 || worker >= s.numWorkers {
		return fmt.Errorf("%w: %d", transport.ErrUnknownWorker, worker)
	}
	select {
	case s.startCh[worker] <- taskID:
		return nil
	case <-s.closeCh:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StepDone implements transport.CoordinatorLink.
func (s *Scheduler) StepDone() <-chan transport.StepDone {
	return s.stepCh
}

// Available implements transport.CoordinatorLink.
func (s *Scheduler) Available() <-chan transport.WorkerAvailable {
	return s.availCh
}

// Close releases blocked streams and RPCs.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}
