package wavefrontpb

import (
	"context"

	"google.golang.org/grpc"
)

// ExchangeServiceName is the fully qualified name of the Exchange service.
const ExchangeServiceName = "wavefront.v1.Exchange"

// ExchangeServer is implemented by the process hosting the Exchange service.
type ExchangeServer interface {
	Describe(context.Context, *LayoutRequest) (*Layout, error)
	Put(context.Context, *PutRequest) (*Ack, error)
	Get(context.Context, *GetRequest) (*Chunk, error)
	Expose(context.Context, *ExposeRequest) (*Ack, error)
	Fetch(context.Context, *FetchRequest) (*Chunk, error)
	Accumulate(context.Context, *AccumulateRequest) (*Chunk, error)
	StoreScore(context.Context, *ScoreRequest) (*Ack, error)
	ListScores(context.Context, *ScoreQuery) (*ScoreList, error)
}

// RegisterExchangeServer registers srv on s.
func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ExchangeServiceDesc, srv)
}

func exchangeDescribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LayoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/Describe"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).Describe(ctx, req.(*LayoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangePutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/Put"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).Put(ctx, req.(*PutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeGetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/Get"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeExposeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExposeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).Expose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/Expose"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).Expose(ctx, req.(*ExposeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeFetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/Fetch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).Fetch(ctx, req.(*FetchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeAccumulateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AccumulateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).Accumulate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/Accumulate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).Accumulate(ctx, req.(*AccumulateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeStoreScoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ScoreRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).StoreScore(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/StoreScore"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).StoreScore(ctx, req.(*ScoreRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeListScoresHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ScoreQuery)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).ListScores(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/wavefront.v1.Exchange/ListScores"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExchangeServer).ListScores(ctx, req.(*ScoreQuery))
	}
	return interceptor(ctx, in, info, handler)
}

// ExchangeServiceDesc describes the Exchange service for grpc.Server.
var ExchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: ExchangeServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: exchangeDescribeHandler},
		{MethodName: "Put", Handler: exchangePutHandler},
		{MethodName: "Get", Handler: exchangeGetHandler},
		{MethodName: "Expose", Handler: exchangeExposeHandler},
		{MethodName: "Fetch", Handler: exchangeFetchHandler},
		{MethodName: "Accumulate", Handler: exchangeAccumulateHandler},
		{MethodName: "StoreScore", Handler: exchangeStoreScoreHandler},
		{MethodName: "ListScores", Handler: exchangeListScoresHandler},
	},
	Streams: []grpc.StreamDesc{
	},
	Metadata: "wavefront/v1/exchange.proto",
}

// ExchangeClient calls the Exchange service.
type ExchangeClient struct {
	cc grpc.ClientConnInterface
}

// NewExchangeClient returns a client bound to cc.
func NewExchangeClient(cc grpc.ClientConnInterface) *ExchangeClient {
	return &ExchangeClient{cc: cc}
}

// Describe returns the chunk geometry.
func (c *ExchangeClient) Describe(ctx context.Context, in *LayoutRequest, opts ...grpc.CallOption) (*Layout, error) {
	out := new(Layout)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/Describe", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Put writes one chunk.
func (c *ExchangeClient) Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/Put", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Get reads one chunk.
func (c *ExchangeClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*Chunk, error) {
	out := new(Chunk)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/Get", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Expose publishes a rank's local buffer.
func (c *ExchangeClient) Expose(ctx context.Context, in *ExposeRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/Expose", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch reads a rank's exposed buffer.
func (c *ExchangeClient) Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*Chunk, error) {
	out := new(Chunk)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/Fetch", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Accumulate sums all exposed buffers into the target's receive buffer.
func (c *ExchangeClient) Accumulate(ctx context.Context, in *AccumulateRequest, opts ...grpc.CallOption) (*Chunk, error) {
	out := new(Chunk)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/Accumulate", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// StoreScore records a task status on the scoreboard.
func (c *ExchangeClient) StoreScore(ctx context.Context, in *ScoreRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/StoreScore", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListScores lists the task ids in one status.
func (c *ExchangeClient) ListScores(ctx context.Context, in *ScoreQuery, opts ...grpc.CallOption) (*ScoreList, error) {
	out := new(ScoreList)
	if err := c.cc.Invoke(ctx, "/wavefront.v1.Exchange/ListScores", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
