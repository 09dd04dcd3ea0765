package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Service names on the wire.
const (
	ReaderServiceName   = "readerbridge.v1.Reader"
	ReadBackServiceName = "readerbridge.v1.ReadBack"
)

// Full method names.
const (
	methodInitialize         = "/" + ReaderServiceName + "/Initialize"
	methodGetData            = "/" + ReaderServiceName + "/GetData"
	methodShutdown           = "/" + ReaderServiceName + "/Shutdown"
	methodTryGetElementProps = "/" + ReadBackServiceName + "/TryGetElementProps"
	methodGetAspectProps     = "/" + ReadBackServiceName + "/GetExternalSourceAspectProps"
	methodDetectChange       = "/" + ReadBackServiceName + "/DetectChange"
	methodExecuteQuery       = "/" + ReadBackServiceName + "/ExecuteQuery"
)

// readerServer is the wire-level Control/Data handler.
type readerServer interface {
	Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error)
	GetData(req *GetDataRequest, stream grpc.ServerStream) error
	Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error)
}

// readBackServer is the wire-level read-back handler.
type readBackServer interface {
	TryGetElementProps(ctx context.Context, req *ElementSelectorRequest) (*ElementPropsResponse, error)
	GetExternalSourceAspectProps(ctx context.Context, req *AspectRequest) (*AspectPropsResponse, error)
	DetectChange(ctx context.Context, req *DetectChangeMessage) (*DetectChangeReply, error)
	ExecuteQuery(ctx context.Context, req *QueryRequest) (*QueryResponse, error)
}

// unaryHandler builds a grpc.MethodDesc handler decoding into Req and calling call.
func unaryHandler[Req any, Resp any, S any](
	fullMethod string,
	call func(srv S, ctx context.Context, req *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var readerServiceDesc = grpc.ServiceDesc{
	ServiceName: ReaderServiceName,
	HandlerType: (*readerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Initialize",
			Handler: unaryHandler(methodInitialize,
				func(s readerServer, ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
					return s.Initialize(ctx, req)
				}),
		},
		{
			MethodName: "Shutdown",
			Handler: unaryHandler(methodShutdown,
				func(s readerServer, ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
					return s.Shutdown(ctx, req)
				}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "GetData",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(GetDataRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(readerServer).GetData(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "readerbridge/v1/reader.proto",
}

var readBackServiceDesc = grpc.ServiceDesc{
	ServiceName: ReadBackServiceName,
	HandlerType: (*readBackServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "TryGetElementProps",
			Handler: unaryHandler(methodTryGetElementProps,
				func(s readBackServer, ctx context.Context, req *ElementSelectorRequest) (*ElementPropsResponse, error) {
					return s.TryGetElementProps(ctx, req)
				}),
		},
		{
			MethodName: "GetExternalSourceAspectProps",
			Handler: unaryHandler(methodGetAspectProps,
				func(s readBackServer, ctx context.Context, req *AspectRequest) (*AspectPropsResponse, error) {
					return s.GetExternalSourceAspectProps(ctx, req)
				}),
		},
		{
			MethodName: "DetectChange",
			Handler: unaryHandler(methodDetectChange,
				func(s readBackServer, ctx context.Context, req *DetectChangeMessage) (*DetectChangeReply, error) {
					return s.DetectChange(ctx, req)
				}),
		},
		{
			MethodName: "ExecuteQuery",
			Handler: unaryHandler(methodExecuteQuery,
				func(s readBackServer, ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
					return s.ExecuteQuery(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "readerbridge/v1/readback.proto",
}
