package wavefrontpb

import (
	"context"

	"google.golang.org/grpc"
)

// SchedulerServiceName is the fully qualified name of the Scheduler service.
const SchedulerServiceName = "wavefront.v1.Scheduler"

// SchedulerServer is implemented by the process hosting the Scheduler service.
type SchedulerServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	ReportStep(context.Context, *StepDone) (*Ack, error)
	ReportAvailable(context.Context, *WorkerAvailable) (*Ack, error)
	Attach(*AttachRequest, grpc.ServerStreamingServer[StartTask]) error
}

// RegisterSchedulerServer registers srv on s.
func RegisterSchedulerServer(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&SchedulerServiceDesc, srv)
}

func schedulerRegisterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Scheduler/Register"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).Register(ctx, req.(*RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func schedulerReportStepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StepDone)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).ReportStep(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Scheduler/ReportStep"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).ReportStep(ctx, req.(*StepDone))
	}
	return interceptor(ctx, in, info, handler)
}

func schedulerReportAvailableHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WorkerAvailable)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).ReportAvailable(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Scheduler/ReportAvailable"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).ReportAvailable(ctx, req.(*WorkerAvailable))
	}
	return interceptor(ctx, in, info, handler)
}

func schedulerAttachHandler(srv any, stream grpc.ServerStream) error {
	in := new(AttachRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SchedulerServer).Attach(in, &grpc.GenericServerStream[AttachRequest, StartTask]{ServerStream: stream})
}

// SchedulerServiceDesc describes the Scheduler service for grpc.Server.
var SchedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: SchedulerServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: schedulerRegisterHandler},
		{MethodName: "ReportStep", Handler: schedulerReportStepHandler},
		{MethodName: "ReportAvailable", Handler: schedulerReportAvailableHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Attach", Handler: schedulerAttachHandler, ServerStreams: true},
	},
	Metadata: "wavefront/v1/scheduler.proto",
}

// SchedulerClient calls the Scheduler service.
type SchedulerClient struct {
	cc grpc.ClientConnInterface
}

// NewSchedulerClient returns a client bound to cc.
func NewSchedulerClient(cc grpc.ClientConnInterface) *SchedulerClient {
	return &SchedulerClient{cc: cc}
}

// Register joins the worker pool.
func (c *SchedulerClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	out := new(RegisterResponse)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Scheduler/Register", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportStep sends one StepDone; the coordinator has queued it when the call returns.
func (c *SchedulerClient) ReportStep(ctx context.Context, in *StepDone, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Scheduler/ReportStep", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportAvailable tells the coordinator the worker is idle.
func (c *SchedulerClient) ReportAvailable(ctx context.Context, in *WorkerAvailable, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Scheduler/ReportAvailable", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Attach opens the stream of StartTask messages for one worker.
func (c *SchedulerClient) Attach(ctx context.Context, in *AttachRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StartTask], error) {
	stream, err := c.cc.NewStream(ctx, &SchedulerServiceDesc.Streams[0], "/wavefront.v1.Scheduler/Attach", withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[AttachRequest, StartTask]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
