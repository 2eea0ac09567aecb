package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "oml.v1.Model"

// RevisionHeader is the response header carrying the
// revision of the parameters returned by Parameters. As
// request metadata it selects a retained revision.
const RevisionHeader = "oml-revision"

const (
	inferMethod      = "/" + ServiceName + "/Infer"
	trainMethod      = "/" + ServiceName + "/Train"
	parametersMethod = "/" + ServiceName + "/Parameters"
)

// ModelServiceServer is the server API for the
// oml.v1.Model service. Messages are protobuf
// well-known types:
//
//	service Model {
//	  rpc Infer(google.protobuf.DoubleValue) returns (google.protobuf.DoubleValue);
//	  rpc Train(google.protobuf.DoubleValue) returns (google.protobuf.Empty);
//	  rpc Parameters(google.protobuf.Empty) returns (google.protobuf.ListValue);
//	}
type ModelServiceServer interface {
	Infer(context.Context, *wrapperspb.DoubleValue) (*wrapperspb.DoubleValue, error)
	Train(context.Context, *wrapperspb.DoubleValue) (*emptypb.Empty, error)
	Parameters(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterModelServiceServer registers srv with s
func RegisterModelServiceServer(s grpc.ServiceRegistrar, srv ModelServiceServer) {
	s.RegisterService(&ModelServiceDesc, srv)
}

// ModelServiceDesc is the grpc.ServiceDesc for the
// oml.v1.Model service
var ModelServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ModelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Infer", Handler: inferHandler},
		{MethodName: "Train", Handler: trainHandler},
		{MethodName: "Parameters", Handler: parametersHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oml/v1/model.proto",
}

func inferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.DoubleValue)

	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ModelServiceServer).Infer(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: inferMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServiceServer).Infer(ctx, req.(*wrapperspb.DoubleValue))
	}

	return interceptor(ctx, in, info, handler)
}

func trainHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.DoubleValue)

	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ModelServiceServer).Train(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: trainMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServiceServer).Train(ctx, req.(*wrapperspb.DoubleValue))
	}

	return interceptor(ctx, in, info, handler)
}

func parametersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)

	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ModelServiceServer).Parameters(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: parametersMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServiceServer).Parameters(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}
