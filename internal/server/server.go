package server

import (
	"fmt"
	"log/slog"
	"net"

	pb "github.com/ChuLiYu/wavefront/api/wavefrontpb"
	"github.com/ChuLiYu/wavefront/internal/exchange"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var log = slog.Default().With("component", "server")

var errNoScoreboard = status.Error(codes.FailedPrecondition, "scoreboard not enabled on this coordinator")

// Config holds what the coordinator process serves.
type Config struct {
	NumWorkers int
	NumTasks   int
	AgeGroups  int // grid shape workers must match; 0 skips the check
	TimeSteps  int
	BufferSize int // StepDone / WorkerAvailable queue size

	Store      *exchange.Store
	Scoreboard *exchange.Scoreboard
}

// Server hosts the Scheduler and Exchange services on one grpc.Server.
type Server struct {
	grpc      *grpc.Server
	scheduler *Scheduler
	exchange  *ExchangeService
}

// New builds the services described by cfg. Store is required.
func New(cfg Config, opts ...grpc.ServerOption) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: server needs an exchange store", types.ErrInvalidArgument)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	sched, err := NewScheduler(cfg.NumWorkers, Shape{NumTasks: cfg.NumTasks, AgeGroups: cfg.AgeGroups, TimeSteps: cfg.TimeSteps}, cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		grpc:      grpc.NewServer(opts...),
		scheduler: sched,
		exchange:  NewExchangeService(cfg.Store, cfg.Scoreboard),
	}
	pb.RegisterSchedulerServer(s.grpc, s.scheduler)
	pb.RegisterExchangeServer(s.grpc, s.exchange)
	return s, nil
}

// Scheduler returns the coordinator link backed by this server.
func (s *Server) Scheduler() *Scheduler {
	return s.scheduler
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	log.Info("serving", "addr", lis.Addr().String(), "workers", s.scheduler.NumWorkers())
	return s.grpc.Serve(lis)
}

// Stop ends open streams and waits for in-flight RPCs.
func (s *Server) Stop() {
	s.scheduler.Close()
	s.grpc.GracefulStop()
}
