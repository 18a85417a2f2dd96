package server

import (
	"context"
	"net"
	"sort"
	"testing"
	"time"

	pb "github.com/ChuLiYu/wavefront/api/wavefrontpb"
	"github.com/ChuLiYu/wavefront/internal/controller"
	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/exchange"
	"github.com/ChuLiYu/wavefront/internal/worker"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixture struct {
	srv   *Server
	store *exchange.Store
	board *exchange.Scoreboard
	lis   *bufconn.Listener
}

func newFixture(t *testing.T, numWorkers, numTasks, numChunks, chunkSize int) *fixture {
	t.Helper()
	return newFixtureWith(t, Config{NumWorkers: numWorkers, NumTasks: numTasks}, numChunks, chunkSize)
}

// newFixtureWith fills in the store and scoreboard of cfg
func newFixtureWith(t *testing.T, cfg Config, numChunks, chunkSize int) *fixture {
	t.Helper()
	store, err := exchange.NewStore(numChunks, chunkSize)
	require.NoError(t, err)
	board, err := exchange.NewScoreboard(cfg.NumTasks)
	require.NoError(t, err)

	cfg.Store = store
	cfg.Scoreboard = board
	srv, err := New(cfg)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() {
		srv.Stop()
		store.Close()
	})
	return &fixture{srv: srv, store: store, board: board, lis: lis}
}

func (f *fixture) dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return f.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{NumWorkers: 1, NumTasks: 1})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	store, err := exchange.NewStore(1, 1)
	require.NoError(t, err)
	_, err = New(Config{NumWorkers: 0, NumTasks: 1, Store: store})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

// TestEndToEndRun runs the 3x5 grid over gRPC: a controller on the server's
// scheduler and two workers with remote exchange handles.
func TestEndToEndRun(t *testing.T) {
	const numAgeGroups, numTimeSteps, numWorkers = 3, 5, 2

	graph, err := depgraph.Analyze(numAgeGroups, numTimeSteps)
	require.NoError(t, err)
	numChunks := graph.NumTasks() * numAgeGroups
	f := newFixture(t, numWorkers, graph.NumTasks(), numChunks, 4)
	ctx := testContext(t)

	workerErrs := make(chan error, numWorkers)
	for i := 0; i < numWorkers; i++ {
		conn := f.dial(t)
		go func() {
			link, err := worker.DialGrpcLink(ctx, conn, graph, "test")
			if err != nil {
				workerErrs <- err
				return
			}
			x, err := exchange.DialRemote(ctx, conn, link.ID(), 4)
			if err != nil {
				workerErrs <- err
				return
			}
			task := worker.ExchangeStep(x, numAgeGroups, time.Millisecond).Task()
			w := worker.New(link, graph, task, worker.WithScoreRecorder(exchange.NewRemoteScoreboard(conn)))
			workerErrs <- w.Run(ctx)
		}()
	}

	require.NoError(t, f.srv.Scheduler().WaitForWorkers(ctx))
	ctrl, err := controller.NewController(graph, f.srv.Scheduler(), controller.Config{NumAgeGroups: numAgeGroups})
	require.NoError(t, err)

	records, err := ctrl.Run(ctx)
	require.NoError(t, err)
	require.Len(t, records, numAgeGroups*numTimeSteps)

	// Run returns only after every WorkerAvailable, so stopping the server
	// right away must not fail any worker
	f.srv.Stop()

	seen := make(map[types.Dep]bool)
	for _, rec := range records {
		assert.False(t, seen[rec.Key()], "duplicate record %v", rec.Key())
		seen[rec.Key()] = true
		assert.True(t, graph.StepRange(rec.TaskID).Contains(rec.Step))
		assert.Equal(t, worker.StepResult(rec.TaskID, rec.Step), rec.Result)
	}

	for i := 0; i < numWorkers; i++ {
		assert.NoError(t, <-workerErrs)
	}

	succeeded := f.board.Tasks(exchange.TaskSucceeded)
	sort.Ints(succeeded)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, succeeded)

	for _, rec := range records {
		chunk, err := f.store.Get(exchange.ChunkID(rec.TaskID, rec.Step, numAgeGroups))
		require.NoError(t, err)
		assert.Equal(t, []float64{float64(rec.Result), float64(rec.Result), float64(rec.Result), float64(rec.Result)}, chunk)
	}
}

func TestRegisterRejections(t *testing.T) {
	f := newFixture(t, 1, 7, 1, 1)
	ctx := testContext(t)
	client := pb.NewSchedulerClient(f.dial(t))

	_, err := client.Register(ctx, &pb.RegisterRequest{NumTasks: 8})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.ErrorIs(t, pb.FromStatus(err), types.ErrInvalidArgument)

	resp, err := client.Register(ctx, &pb.RegisterRequest{NumTasks: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp.WorkerID)
	assert.Equal(t, int64(1), resp.NumWorkers)
	require.NoError(t, f.srv.Scheduler().WaitForWorkers(ctx))

	_, err = client.Register(ctx, &pb.RegisterRequest{NumTasks: 7})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

// TestRegisterRejectsGridMismatch: 4x4 and 3x5 both have 7 tasks
func TestRegisterRejectsGridMismatch(t *testing.T) {
	f := newFixtureWith(t, Config{NumWorkers: 1, NumTasks: 7, AgeGroups: 3, TimeSteps: 5}, 1, 1)
	ctx := testContext(t)
	conn := f.dial(t)

	other, err := depgraph.Analyze(4, 4)
	require.NoError(t, err)
	require.Equal(t, 7, other.NumTasks())
	_, err = worker.DialGrpcLink(ctx, conn, other, "test")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	same, err := depgraph.Analyze(3, 5)
	require.NoError(t, err)
	link, err := worker.DialGrpcLink(ctx, conn, same, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, link.ID())
}

func TestReportsFromUnregisteredWorker(t *testing.T) {
	f := newFixture(t, 2, 7, 1, 1)
	ctx := testContext(t)
	client := pb.NewSchedulerClient(f.dial(t))

	_, err := client.ReportStep(ctx, &pb.StepDone{WorkerID: 1, TaskID: 0, Step: 0})
	assert.ErrorIs(t, pb.FromStatus(err), types.ErrProtocolViolation)

	_, err = client.ReportAvailable(ctx, &pb.WorkerAvailable{WorkerID: 5})
	assert.ErrorIs(t, pb.FromStatus(err), types.ErrProtocolViolation)
}

func TestAttachTwice(t *testing.T) {
	f := newFixture(t, 1, 7, 1, 1)
	ctx := testContext(t)
	client := pb.NewSchedulerClient(f.dial(t))

	_, err := client.Register(ctx, &pb.RegisterRequest{NumTasks: 7})
	require.NoError(t, err)

	first, err := client.Attach(ctx, &pb.AttachRequest{WorkerID: 0})
	require.NoError(t, err)
	require.NoError(t, f.srv.Scheduler().Send(ctx, 0, 2))
	msg, err := first.Recv()
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.TaskID)

	second, err := client.Attach(ctx, &pb.AttachRequest{WorkerID: 0})
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestSentinelQueuedBeforeCloseIsDelivered(t *testing.T) {
	f := newFixture(t, 1, 7, 1, 1)
	ctx := testContext(t)
	client := pb.NewSchedulerClient(f.dial(t))

	_, err := client.Register(ctx, &pb.RegisterRequest{NumTasks: 7})
	require.NoError(t, err)
	require.NoError(t, f.srv.Scheduler().Send(ctx, 0, types.ShutdownTaskID))
	f.srv.Scheduler().Close()

	stream, err := client.Attach(ctx, &pb.AttachRequest{WorkerID: 0})
	require.NoError(t, err)
	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, int64(types.ShutdownTaskID), msg.TaskID)
}

func TestRemoteExchange(t *testing.T) {
	f := newFixture(t, 2, 7, 4, 3)
	ctx := testContext(t)
	conn := f.dial(t)

	x0, err := exchange.DialRemote(ctx, conn, 0, 2)
	require.NoError(t, err)
	x1, err := exchange.DialRemote(ctx, conn, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, x0.NumChunks())
	assert.Equal(t, 3, x0.ChunkSize())

	require.NoError(t, x0.Put(ctx, 2, []float64{1, 2, 3}))
	got, err := x1.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)

	require.NoError(t, x1.StartEpoch())
	out := make([]float64, 3)
	require.NoError(t, x1.GetAsync(ctx, 2, out))
	require.NoError(t, x1.PutAsync(ctx, 3, []float64{7, 7, 7}))
	require.NoError(t, x1.EndEpoch())
	assert.Equal(t, []float64{1, 2, 3}, out)
	chunk, err := f.store.Get(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 7, 7}, chunk)

	ones := []float64{1, 1, 1, 1, 1}
	require.NoError(t, x0.Expose(ctx, ones))
	require.NoError(t, x1.Expose(ctx, ones))
	sum, err := x0.Accumulate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, sum)

	fetched, err := x0.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ones, fetched)

	assert.ErrorIs(t, x0.Put(ctx, 9, []float64{1, 2, 3}), types.ErrInvalidArgument)
	_, err = x0.Fetch(ctx, 5)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestServerValidatesChunks(t *testing.T) {
	f := newFixture(t, 1, 7, 2, 2)
	ctx := testContext(t)
	client := pb.NewExchangeClient(f.dial(t))

	_, err := client.Put(ctx, &pb.PutRequest{ChunkID: 5, Data: []float64{1, 2}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Put(ctx, &pb.PutRequest{ChunkID: 0, Data: []float64{1}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRemoteScoreboard(t *testing.T) {
	f := newFixture(t, 1, 4, 1, 1)
	ctx := testContext(t)
	board := exchange.NewRemoteScoreboard(f.dial(t))

	require.NoError(t, board.SetStatus(ctx, 1, exchange.TaskRunning))
	require.NoError(t, board.SetStatus(ctx, 3, exchange.TaskRunning))
	running, err := board.Tasks(ctx, exchange.TaskRunning)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, running)
	assert.Equal(t, exchange.TaskRunning, f.board.State(3))

	assert.ErrorIs(t, board.SetStatus(ctx, 9, exchange.TaskFailed), types.ErrInvalidArgument)
}

func TestScoreboardMissing(t *testing.T) {
	store, err := exchange.NewStore(1, 1)
	require.NoError(t, err)
	defer store.Close()

	svc := NewExchangeService(store, nil)
	_, err = svc.StoreScore(context.Background(), &pb.ScoreRequest{TaskID: 0})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
