package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MonitorServiceName is the fully-qualified gRPC service name.
const MonitorServiceName = "occupancy.monitor.v1.MonitorService"

// MonitorServer is the server API for the monitor service. Messages are
// protobuf well-known types so no generated code is needed.
type MonitorServer interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetMetrics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListPositions(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetEvent(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetResponder(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetDensity(context.Context, *wrapperspb.Int32Value) (*structpb.Struct, error)
	SetOverride(context.Context, *wrapperspb.BoolValue) (*structpb.Struct, error)
	SetRefresh(context.Context, *wrapperspb.BoolValue) (*wrapperspb.StringValue, error)
	MarkSafe(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Tick(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterMonitorServer registers srv on s.
func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&MonitorServiceDesc, srv)
}

// MonitorServiceDesc describes the monitor service for grpc.Server.
var MonitorServiceDesc = grpc.ServiceDesc{
	ServiceName: MonitorServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: unary("GetSnapshot", newEmpty, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.GetSnapshot(ctx, in.(*emptypb.Empty))
		})},
		{MethodName: "GetMetrics", Handler: unary("GetMetrics", newEmpty, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.GetMetrics(ctx, in.(*emptypb.Empty))
		})},
		{MethodName: "ListPositions", Handler: unary("ListPositions", func() any { return new(wrapperspb.StringValue) }, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.ListPositions(ctx, in.(*wrapperspb.StringValue))
		})},
		{MethodName: "GetEvent", Handler: unary("GetEvent", newEmpty, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.GetEvent(ctx, in.(*emptypb.Empty))
		})},
		{MethodName: "GetResponder", Handler: unary("GetResponder", newEmpty, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.GetResponder(ctx, in.(*emptypb.Empty))
		})},
		{MethodName: "GetDensity", Handler: unary("GetDensity", func() any { return new(wrapperspb.Int32Value) }, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.GetDensity(ctx, in.(*wrapperspb.Int32Value))
		})},
		{MethodName: "SetOverride", Handler: unary("SetOverride", newBool, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.SetOverride(ctx, in.(*wrapperspb.BoolValue))
		})},
		{MethodName: "SetRefresh", Handler: unary("SetRefresh", newBool, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.SetRefresh(ctx, in.(*wrapperspb.BoolValue))
		})},
		{MethodName: "MarkSafe", Handler: unary("MarkSafe", func() any { return new(structpb.Struct) }, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.MarkSafe(ctx, in.(*structpb.Struct))
		})},
		{MethodName: "Tick", Handler: unary("Tick", newEmpty, func(s MonitorServer, ctx context.Context, in any) (any, error) {
			return s.Tick(ctx, in.(*emptypb.Empty))
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "occupancy/monitor/v1/monitor.proto",
}

func newEmpty() any { return new(emptypb.Empty) }
func newBool() any  { return new(wrapperspb.BoolValue) }

// unary builds a grpc.MethodHandler that decodes into a fresh request,
// runs the interceptor chain and dispatches to call.
func unary(method string, newReq func() any, call func(MonitorServer, context.Context, any) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + MonitorServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MonitorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MonitorServer), ctx, req)
		}
		return interceptor(ctx, in, info, handler)
	}
}
