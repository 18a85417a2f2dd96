package server

import (
	"context"

	pb "github.com/ChuLiYu/wavefront/api/wavefrontpb"
	"github.com/ChuLiYu/wavefront/internal/exchange"
)

// ExchangeService serves the coordinator's Store and Scoreboard to remote ranks.
type ExchangeService struct {
	store *exchange.Store
	board *exchange.Scoreboard
}

var _ pb.ExchangeServer = (*ExchangeService)(nil)

// NewExchangeService wraps store and board. board may be nil, in which case the
// scoreboard RPCs fail with FailedPrecondition.
func NewExchangeService(store *exchange.Store, board *exchange.Scoreboard) *ExchangeService {
	return &ExchangeService{store: store, board: board}
}

func (e *ExchangeService) Describe(ctx context.Context, _ *pb.LayoutRequest) (*pb.Layout, error) {
	return &pb.Layout{NumChunks: int64(e.store.NumChunks()), ChunkSize: int64(e.store.ChunkSize())}, nil
}

func (e *ExchangeService) Put(ctx context.Context, req *pb.PutRequest) (*pb.Ack, error) {
	if err := e.store.Put(int(req.ChunkID), req.Data); err != nil {
		return nil, pb.ToStatus(err)
	}
	return &pb.Ack{}, nil
}

func (e *ExchangeService) Get(ctx context.Context, req *pb.GetRequest) (*pb.Chunk, error) {
	data, err := e.store.Get(int(req.ChunkID))
	if err != nil {
		return nil, pb.ToStatus(err)
	}
	return &pb.Chunk{Data: data}, nil
}

func (e *ExchangeService) Expose(ctx context.Context, req *pb.ExposeRequest) (*pb.Ack, error) {
	if err := e.store.Expose(int(req.Rank), req.Data); err != nil {
		return nil, pb.ToStatus(err)
	}
	return &pb.Ack{}, nil
}

func (e *ExchangeService) Fetch(ctx context.Context, req *pb.FetchRequest) (*pb.Chunk, error) {
	data, err := e.store.Fetch(int(req.Rank))
	if err != nil {
		return nil, pb.ToStatus(err)
	}
	return &pb.Chunk{Data: data}, nil
}

func (e *ExchangeService) Accumulate(ctx context.Context, req *pb.AccumulateRequest) (*pb.Chunk, error) {
	data, err := e.store.Accumulate(int(req.Target))
	if err != nil {
		return nil, pb.ToStatus(err)
	}
	return &pb.Chunk{Data: data}, nil
}

func (e *ExchangeService) StoreScore(ctx context.Context, req *pb.ScoreRequest) (*pb.Ack, error) {
	if e.board == nil {
		return nil, errNoScoreboard
	}
	if err := e.board.Store(int(req.TaskID), exchange.TaskState(req.Status)); err != nil {
		return nil, pb.ToStatus(err)
	}
	return &pb.Ack{}, nil
}

func (e *ExchangeService) ListScores(ctx context.Context, req *pb.ScoreQuery) (*pb.ScoreList, error) {
	if e.board == nil {
		return nil, errNoScoreboard
	}
	ids := e.board.Tasks(exchange.TaskState(req.Status))
	out := &pb.ScoreList{TaskIDs: make([]int64, len(ids))}
	for i, id := range ids {
		out.TaskIDs[i] = int64(id)
	}
	return out, nil
}
