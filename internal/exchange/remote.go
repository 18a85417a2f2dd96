package exchange

import (
	"context"
	"fmt"

	pb "github.com/ChuLiYu/wavefront/api/wavefrontpb"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"google.golang.org/grpc"
)

// Remote reaches the Store of another process through the Exchange service.
type Remote struct {
	client    *pb.ExchangeClient
	rank      int
	numChunks int
	chunkSize int
	epoch     *epoch
}

// DialRemote asks the owner for the chunk layout and returns a handle for rank.
// cc should be an established gRPC connection to the coordinator.
func DialRemote(ctx context.Context, cc grpc.ClientConnInterface, rank, asyncLimit int) (*Remote, error) {
	client := pb.NewExchangeClient(cc)
	layout, err := client.Describe(ctx, &pb.LayoutRequest{})
	if err != nil {
		return nil, fmt.Errorf("rpc describe failed: %w", pb.FromStatus(err))
	}
	return &Remote{
		client:    client,
		rank:      rank,
		numChunks: int(layout.NumChunks),
		chunkSize: int(layout.ChunkSize),
		epoch:     newEpoch(asyncLimit),
	}, nil
}

// Rank returns the caller's rank.
func (r *Remote) Rank() int { return r.rank }

// NumChunks returns the number of chunks on the owner.
func (r *Remote) NumChunks() int { return r.numChunks }

// ChunkSize returns the number of values per chunk.
func (r *Remote) ChunkSize() int { return r.chunkSize }

func (r *Remote) checkPayload(chunkID, length int) error {
	if chunkID < 0 || chunkID >= r.numChunks {
		return fmt.Errorf("%w: chunk %d outside [0, %d)", types.ErrInvalidArgument, chunkID, r.numChunks)
	}
	if length != r.chunkSize {
		return fmt.Errorf("%w: chunk payload has %d values, want %d", types.ErrInvalidArgument, length, r.chunkSize)
	}
	return nil
}

// Put writes one chunk and waits for the owner to apply it.
func (r *Remote) Put(ctx context.Context, chunkID int, data []float64) error {
	if err := r.checkPayload(chunkID, len(data)); err != nil {
		return err
	}
	_, err := r.client.Put(ctx, &pb.PutRequest{ChunkID: int64(chunkID), Data: data})
	if err != nil {
		return fmt.Errorf("rpc put %d failed: %w", chunkID, pb.FromStatus(err))
	}
	return nil
}

// Get reads one chunk.
func (r *Remote) Get(ctx context.Context, chunkID int) ([]float64, error) {
	out := make([]float64, r.chunkSize)
	if err := r.getInto(ctx, chunkID, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Remote) getInto(ctx context.Context, chunkID int, out []float64) error {
	if err := r.checkPayload(chunkID, len(out)); err != nil {
		return err
	}
	resp, err := r.client.Get(ctx, &pb.GetRequest{ChunkID: int64(chunkID)})
	if err != nil {
		return fmt.Errorf("rpc get %d failed: %w", chunkID, pb.FromStatus(err))
	}
	if len(resp.Data) != len(out) {
		return fmt.Errorf("%w: owner returned %d values for chunk %d", types.ErrProtocolViolation, len(resp.Data), chunkID)
	}
	copy(out, resp.Data)
	return nil
}

// StartEpoch opens a batch of async transfers.
func (r *Remote) StartEpoch() error { return r.epoch.start() }

// GetAsync schedules a read of chunkID into out.
func (r *Remote) GetAsync(ctx context.Context, chunkID int, out []float64) error {
	if err := r.checkPayload(chunkID, len(out)); err != nil {
		return err
	}
	return r.epoch.submit(func() error {
		return r.getInto(ctx, chunkID, out)
	})
}

// PutAsync schedules a write of data to chunkID.
func (r *Remote) PutAsync(ctx context.Context, chunkID int, data []float64) error {
	if err := r.checkPayload(chunkID, len(data)); err != nil {
		return err
	}
	return r.epoch.submit(func() error {
		return r.Put(ctx, chunkID, data)
	})
}

// Flush waits for the transfers scheduled so far.
func (r *Remote) Flush() error { return r.epoch.flush() }

// EndEpoch flushes and closes the batch.
func (r *Remote) EndEpoch() error { return r.epoch.end() }

// Expose publishes this rank's local buffer on the owner.
func (r *Remote) Expose(ctx context.Context, buf []float64) error {
	_, err := r.client.Expose(ctx, &pb.ExposeRequest{Rank: int64(r.rank), Data: buf})
	if err != nil {
		return fmt.Errorf("rpc expose failed: %w", pb.FromStatus(err))
	}
	return nil
}

// Fetch reads the buffer exposed by rank.
func (r *Remote) Fetch(ctx context.Context, rank int) ([]float64, error) {
	resp, err := r.client.Fetch(ctx, &pb.FetchRequest{Rank: int64(rank)})
	if err != nil {
		return nil, fmt.Errorf("rpc fetch %d failed: %w", rank, pb.FromStatus(err))
	}
	return resp.Data, nil
}

// Accumulate sums every exposed buffer into target's receive buffer.
func (r *Remote) Accumulate(ctx context.Context, target int) ([]float64, error) {
	resp, err := r.client.Accumulate(ctx, &pb.AccumulateRequest{Target: int64(target)})
	if err != nil {
		return nil, fmt.Errorf("rpc accumulate %d failed: %w", target, pb.FromStatus(err))
	}
	return resp.Data, nil
}

// RemoteScoreboard writes scoreboard entries on the owner.
type RemoteScoreboard struct {
	client *pb.ExchangeClient
}

// NewRemoteScoreboard returns a ScoreRecorder bound to cc.
func NewRemoteScoreboard(cc grpc.ClientConnInterface) *RemoteScoreboard {
	return &RemoteScoreboard{client: pb.NewExchangeClient(cc)}
}

// SetStatus implements ScoreRecorder.
func (s *RemoteScoreboard) SetStatus(ctx context.Context, taskID int, state TaskState) error {
	_, err := s.client.StoreScore(ctx, &pb.ScoreRequest{TaskID: int64(taskID), Status: int64(state)})
	if err != nil {
		return fmt.Errorf("rpc store score failed: %w", pb.FromStatus(err))
	}
	return nil
}

// Tasks lists the ids in state.
func (s *RemoteScoreboard) Tasks(ctx context.Context, state TaskState) ([]int, error) {
	resp, err := s.client.ListScores(ctx, &pb.ScoreQuery{Status: int64(state)})
	if err != nil {
		return nil, fmt.Errorf("rpc list scores failed: %w", pb.FromStatus(err))
	}
	ids := make([]int, len(resp.TaskIDs))
	for i, id := range resp.TaskIDs {
		ids[i] = int(id)
	}
	return ids, nil
}
