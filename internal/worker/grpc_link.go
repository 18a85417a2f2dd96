package worker

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/ChuLiYu/wavefront/api/wavefrontpb"
	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/transport"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"google.golang.org/grpc"
)

// GrpcLink is a transport.WorkerLink that talks to a remote coordinator.
type GrpcLink struct {
	client     *pb.SchedulerClient
	id         int
	numWorkers int
	stream     grpc.ServerStreamingClient[pb.StartTask]

	// reports from one worker must reach the coordinator in order
	reportMu sync.Mutex
}

var _ transport.WorkerLink = (*GrpcLink)(nil)

// DialGrpcLink registers with the coordinator on cc and attaches to its task
// stream. The coordinator rejects workers whose graph has a different task
// count or grid shape. The stream lives as long as ctx.
func DialGrpcLink(ctx context.Context, cc grpc.ClientConnInterface, graph *depgraph.Graph, hostname string) (*GrpcLink, error) {
	client := pb.NewSchedulerClient(cc)

	ageGroups, timeSteps := graph.Grid()
	resp, err := client.Register(ctx, &pb.RegisterRequest{
		NumTasks:  int64(graph.NumTasks()),
		Hostname:  hostname,
		AgeGroups: int64(ageGroups),
		TimeSteps: int64(timeSteps),
	})
	if err != nil {
		return nil, fmt.Errorf("rpc register failed: %w", pb.FromStatus(err))
	}

	stream, err := client.Attach(ctx, &pb.AttachRequest{WorkerID: resp.WorkerID})
	if err != nil {
		return nil, fmt.Errorf("rpc attach failed: %w", pb.FromStatus(err))
	}

	return &GrpcLink{
		client:     client,
		id:         int(resp.WorkerID),
		numWorkers: int(resp.NumWorkers),
		stream:     stream,
	}, nil
}

// ID returns the id the coordinator assigned at registration.
func (l *GrpcLink) ID() int {
	return l.id
}

// NumWorkers returns the pool size announced by the coordinator.
func (l *GrpcLink) NumWorkers() int {
	return l.numWorkers
}

// Receive blocks until the next StartTask arrives on the stream.
func (l *GrpcLink) Receive(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := l.stream.Recv()
	if err != nil {
		return 0, fmt.Errorf("rpc receive failed: %w", pb.FromStatus(err))
	}
	return int(msg.TaskID), nil
}

// ReportStep sends one StepDone and returns once the coordinator has queued it.
func (l *GrpcLink) ReportStep(ctx context.Context, rec types.StepRecord) error {
	l.reportMu.Lock()
	defer l.reportMu.Unlock()

	_, err := l.client.ReportStep(ctx, &pb.StepDone{
		WorkerID: int64(l.id),
		TaskID:   int64(rec.TaskID),
		Step:     int64(rec.Step),
		Result:   rec.Result,
	})
	if err != nil {
		return fmt.Errorf("rpc report step failed: %w", pb.FromStatus(err))
	}
	return nil
}

// ReportAvailable tells the coordinator this worker is idle.
func (l *GrpcLink) ReportAvailable(ctx context.Context) error {
	l.reportMu.Lock()
	defer l.reportMu.Unlock()

	if _, err := l.client.ReportAvailable(ctx, &pb.WorkerAvailable{WorkerID: int64(l.id)}); err != nil {
		return fmt.Errorf("rpc report available failed: %w", pb.FromStatus(err))
	}
	return nil
}
