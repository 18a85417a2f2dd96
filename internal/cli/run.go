package cli

// ============================================================================
// run 命令的三種模式
// - local:       coordinator 與 worker pool 在同一進程，透過 channel 溝通
// - coordinator: 提供 gRPC Scheduler / Exchange 服務，等待 worker 註冊後排程
// - worker:      連線到 coordinator，執行被分派的任務直到收到哨兵值
// ============================================================================

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ChuLiYu/wavefront/internal/controller"
	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/exchange"
	"github.com/ChuLiYu/wavefront/internal/metrics"
	"github.com/ChuLiYu/wavefront/internal/report"
	"github.com/ChuLiYu/wavefront/internal/server"
	"github.com/ChuLiYu/wavefront/internal/trace"
	"github.com/ChuLiYu/wavefront/internal/transport"
	"github.com/ChuLiYu/wavefront/internal/worker"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Run modes
const (
	ModeLocal       = "local"
	ModeCoordinator = "coordinator"
	ModeWorker      = "worker"
)

// runner carries what every mode shares
type runner struct {
	cfg    *Config
	out    io.Writer
	logger *slog.Logger
}

// coordinatorSide is the state owned by the process that runs the controller
type coordinatorSide struct {
	graph     *depgraph.Graph
	store     *exchange.Store
	board     *exchange.Scoreboard
	collector *metrics.Collector
	registry  *prometheus.Registry
	tracer    *trace.Log
}

func (r *runner) run(ctx context.Context, mode string) error {
	switch mode {
	case ModeLocal:
		_, err := r.runLocal(ctx)
		return err
	case ModeCoordinator:
		lis, err := net.Listen("tcp", r.cfg.Server.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", r.cfg.Server.Listen, err)
		}
		_, err = r.runCoordinator(ctx, lis)
		return err
	case ModeWorker:
		return r.runWorker(ctx)
	default:
		return fmt.Errorf("%w: unknown mode %q (local, coordinator, worker)", types.ErrInvalidArgument, mode)
	}
}

// prepare builds the graph, the exchange store and the optional metrics
// registry and trace log. close releases them.
func (r *runner) prepare() (*coordinatorSide, error) {
	graph, err := depgraph.Analyze(r.cfg.Grid.AgeGroups, r.cfg.Grid.TimeSteps)
	if err != nil {
		return nil, err
	}
	if err := controller.ValidateWorkers(r.cfg.Workers.Count, r.cfg.Grid.AgeGroups); err != nil {
		return nil, err
	}

	store, err := exchange.NewStore(r.cfg.numChunks(), r.cfg.Exchange.ChunkSize)
	if err != nil {
		return nil, err
	}
	board, err := exchange.NewScoreboard(graph.NumTasks())
	if err != nil {
		store.Close()
		return nil, err
	}
	side := &coordinatorSide{graph: graph, store: store, board: board}

	if r.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := metrics.NewCollector(reg)
		if err != nil {
			side.close(r.logger)
			return nil, err
		}
		store.SetRecorder(collector)
		side.collector = collector
		side.registry = reg
	}

	if r.cfg.Trace.Path != "" {
		tracer, err := trace.Create(r.cfg.Trace.Path, trace.DefaultBufferSize)
		if err != nil {
			side.close(r.logger)
			return nil, err
		}
		side.tracer = tracer
	}
	return side, nil
}

// serveMetrics 在啟用時於背景提供 /metrics 與 /status
func (r *runner) serveMetrics(ctx context.Context, side *coordinatorSide, ctrl *controller.Controller) {
	if side.registry == nil {
		return
	}
	status := func() map[string]interface{} {
		st := ctrl.GetStatus()
		st["scoreboard"] = side.board.Counts()
		return st
	}
	go func() {
		r.logger.Info("Starting metrics server", "port", r.cfg.Metrics.Port)
		if err := metrics.StartServer(ctx, r.cfg.Metrics.Port, side.registry, status); err != nil {
			r.logger.Error("Metrics server error", "error", err)
		}
	}()
}

func (s *coordinatorSide) close(logger *slog.Logger) {
	if s.tracer != nil {
		if err := s.tracer.Close(); err != nil {
			logger.Warn("failed to close trace", "error", err)
		}
	}
	s.store.Close()
}

func (r *runner) controllerConfig(side *coordinatorSide) controller.Config {
	cfg := controller.Config{
		StallTimeout: r.cfg.Scheduler.StallTimeout,
		NumAgeGroups: r.cfg.Grid.AgeGroups,
		Logger:       r.logger,
	}
	// 只在啟用時設置，避免 nil 指標變成非 nil 介面
	if side.collector != nil {
		cfg.Metrics = side.collector
	}
	if side.tracer != nil {
		cfg.Trace = side.tracer
	}
	return cfg
}

// finish builds the report, writes it if configured and prints a summary.
func (r *runner) finish(mode string, side *coordinatorSide, records []types.StepRecord, elapsed time.Duration) (report.Report, error) {
	summary := report.Summary{
		Mode:      mode,
		Graph:     side.graph,
		AgeGroups: r.cfg.Grid.AgeGroups,
		TimeSteps: r.cfg.Grid.TimeSteps,
		Workers:   r.cfg.Workers.Count,
		Records:   records,
		StepDelay: r.cfg.Workers.StepDelay,
		Elapsed:   elapsed,
	}
	if side.tracer != nil {
		summary.Run = side.tracer.Run()
	}
	rep := report.Build(summary)

	if r.cfg.Report.Path != "" {
		if err := report.NewManager(r.cfg.Report.Path).Write(rep); err != nil {
			return rep, err
		}
	}

	fmt.Fprintf(r.out, "%s run: %d steps over %d tasks on %d workers in %s (speedup %.2f, ideal %.2f)\n",
		mode, rep.Records, rep.Tasks, rep.Workers, elapsed.Round(time.Millisecond), rep.Speedup, rep.IdealSpeedup)
	return rep, nil
}

// runLocal 在同一進程中執行 coordinator 與 worker pool
func (r *runner) runLocal(ctx context.Context) (report.Report, error) {
	side, err := r.prepare()
	if err != nil {
		return report.Report{}, err
	}
	defer side.close(r.logger)

	link := transport.NewLocal(r.cfg.Workers.Count, side.graph.NumCohortSteps())
	defer link.Close()

	x := exchange.NewLocal(side.store, 0, r.cfg.Exchange.AsyncLimit)
	task := worker.ExchangeStep(x, r.cfg.cellWidth(), r.cfg.Workers.StepDelay).Task()

	pool, err := worker.NewPool(link, side.graph, task,
		worker.WithScoreRecorder(side.board), worker.WithLogger(r.logger))
	if err != nil {
		return report.Report{}, err
	}
	ctrl, err := controller.NewController(side.graph, link, r.controllerConfig(side))
	if err != nil {
		return report.Report{}, err
	}

	r.serveMetrics(ctx, side, ctrl)
	r.logger.Info("Starting local run",
		"age_groups", r.cfg.Grid.AgeGroups, "time_steps", r.cfg.Grid.TimeSteps, "workers", r.cfg.Workers.Count)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if err := pool.Start(gctx); err != nil {
		return report.Report{}, err
	}
	var records []types.StepRecord
	g.Go(pool.Wait)
	g.Go(func() error {
		var err error
		records, err = ctrl.Run(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		pool.Stop()
		return report.Report{}, err
	}

	return r.finish(ModeLocal, side, records, time.Since(start))
}

// runCoordinator 在 lis 上提供 gRPC 服務，等待所有 worker 註冊後排程
func (r *runner) runCoordinator(ctx context.Context, lis net.Listener) (report.Report, error) {
	side, err := r.prepare()
	if err != nil {
		lis.Close()
		return report.Report{}, err
	}
	defer side.close(r.logger)

	srv, err := server.New(server.Config{
		NumWorkers: r.cfg.Workers.Count,
		NumTasks:   side.graph.NumTasks(),
		AgeGroups:  r.cfg.Grid.AgeGroups,
		TimeSteps:  r.cfg.Grid.TimeSteps,
		BufferSize: side.graph.NumCohortSteps(),
		Store:      side.store,
		Scoreboard: side.board,
	})
	if err != nil {
		lis.Close()
		return report.Report{}, err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()
	defer srv.Stop()

	r.logger.Info("Waiting for workers", "addr", lis.Addr().String(), "workers", r.cfg.Workers.Count)
	waitErr := make(chan error, 1)
	go func() { waitErr <- srv.Scheduler().WaitForWorkers(ctx) }()
	select {
	case err := <-waitErr:
		if err != nil {
			return report.Report{}, err
		}
	case err := <-serveErr:
		return report.Report{}, fmt.Errorf("gRPC server failed: %w", err)
	}

	ctrl, err := controller.NewController(side.graph, srv.Scheduler(), r.controllerConfig(side))
	if err != nil {
		return report.Report{}, err
	}
	r.serveMetrics(ctx, side, ctrl)

	start := time.Now()
	records, err := ctrl.Run(ctx)
	if err != nil {
		return report.Report{}, err
	}
	return r.finish(ModeCoordinator, side, records, time.Since(start))
}

// runWorker 連線到 coordinator 並執行一個 worker
func (r *runner) runWorker(ctx context.Context) error {
	if r.cfg.Server.Coordinator == "" {
		return fmt.Errorf("%w: coordinator address is required in worker mode", types.ErrInvalidArgument)
	}

	r.logger.Info("Connecting to coordinator", "addr", r.cfg.Server.Coordinator)
	conn, err := grpc.NewClient(r.cfg.Server.Coordinator, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer conn.Close()

	return r.workerSession(ctx, conn)
}

// workerSession registers over cc and runs until the shutdown sentinel.
func (r *runner) workerSession(ctx context.Context, cc grpc.ClientConnInterface) error {
	graph, err := depgraph.Analyze(r.cfg.Grid.AgeGroups, r.cfg.Grid.TimeSteps)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	link, err := worker.DialGrpcLink(ctx, cc, graph, hostname)
	if err != nil {
		return err
	}
	x, err := exchange.DialRemote(ctx, cc, link.ID(), r.cfg.Exchange.AsyncLimit)
	if err != nil {
		return err
	}

	task := worker.ExchangeStep(x, r.cfg.cellWidth(), r.cfg.Workers.StepDelay).Task()
	w := worker.New(link, graph, task,
		worker.WithScoreRecorder(exchange.NewRemoteScoreboard(cc)), worker.WithLogger(r.logger))

	r.logger.Info("Worker registered", "worker", link.ID(), "workers", link.NumWorkers())
	if err := w.Run(ctx); err != nil {
		return err
	}
	r.logger.Info("Worker stopped", "worker", link.ID())
	return nil
}
