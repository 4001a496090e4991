// Package api is the daemon's gRPC control service. Payloads are protobuf
// well-known types, so no generated code is needed on either side.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mpp.v1.Control"

// ControlServer is the server side of the control service.
type ControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartConnections(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StopConnections(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetOnline(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	EnableAccount(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	DisableAccount(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	UnreadCount(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	Watch(*wrapperspb.StringValue, WatchServer) error
}

// WatchServer streams bus events to a client.
type WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchServer struct {
	grpc.ServerStream
}

func (s watchServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ControlServer.Status),
		unary("StartConnections", ControlServer.StartConnections),
		unary("StopConnections", ControlServer.StopConnections),
		unary("SetOnline", ControlServer.SetOnline),
		unary("EnableAccount", ControlServer.EnableAccount),
		unary("DisableAccount", ControlServer.DisableAccount),
		unary("SendMessage", ControlServer.SendMessage),
		unary("ListChats", ControlServer.ListChats),
		unary("ListMessages", ControlServer.ListMessages),
		unary("SearchMessages", ControlServer.SearchMessages),
		unary("MarkRead", ControlServer.MarkRead),
		unary("UnreadCount", ControlServer.UnreadCount),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(wrapperspb.StringValue)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(ControlServer).Watch(in, watchServer{stream})
		},
	}},
	Metadata: "mpp/v1/control.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor of one request/response call.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(ControlServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(PReq))
			})
		},
	}
}
