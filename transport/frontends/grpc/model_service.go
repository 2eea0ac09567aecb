package grpc

import (
	"context"
	"strconv"

	"github.com/omlserver/oml/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var _ ModelServiceServer = (*ModelServer)(nil)

// ModelServer implements the gRPC
// Model service. It mostly forwards
// requests on to the oml server.
type ModelServer struct {
	server transport.ModelServer
}

// Infer implements ModelServiceServer.Infer
func (modelServer *ModelServer) Infer(ctx context.Context, x *wrapperspb.DoubleValue) (*wrapperspb.DoubleValue, error) {
	y, err := modelServer.server.Infer(ctx, x.GetValue())

	if err != nil {
		return nil, statusError(err)
	}

	return wrapperspb.Double(y), nil
}

// Train implements ModelServiceServer.Train
func (modelServer *ModelServer) Train(ctx context.Context, x *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	if err := modelServer.server.Train(ctx, x.GetValue()); err != nil {
		return nil, statusError(err)
	}

	return &emptypb.Empty{}, nil
}

// Parameters implements ModelServiceServer.Parameters. The
// snapshot revision is sent in the RevisionHeader header.
// A client selects an older revision by sending the same key
// as request metadata.
func (modelServer *ModelServer) Parameters(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	revision, err := requestedRevision(ctx)

	if err != nil {
		return nil, err
	}

	snapshot, err := modelServer.server.Parameters(ctx, revision)

	if err != nil {
		return nil, statusError(err)
	}

	if err := grpc.SetHeader(ctx, metadata.Pairs(RevisionHeader, strconv.FormatInt(snapshot.Revision(), 10))); err != nil {
		return nil, status.Errorf(codes.Internal, "could not set revision header: %s", err.Error())
	}

	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, snapshot.Len())}

	snapshot.Range(func(i int, parameter float64) bool {
		list.Values = append(list.Values, structpb.NewNumberValue(parameter))

		return true
	})

	return list, nil
}

// Code maps an error returned by a transport.ModelServer
// to a gRPC status code. Every failure inside the server
// maps to codes.Internal.
func Code(err error) codes.Code {
	switch transport.Kind(err) {
	case nil:
		return codes.OK
	case transport.ErrTimeout:
		return codes.DeadlineExceeded
	case transport.ErrInvalidRequest:
		return codes.InvalidArgument
	case transport.ErrUnavailable:
		return codes.Unavailable
	case transport.ErrGone:
		return codes.OutOfRange
	default:
		return codes.Internal
	}
}

func requestedRevision(ctx context.Context) (int64, error) {
	md, ok := metadata.FromIncomingContext(ctx)

	if !ok {
		return 0, nil
	}

	values := md.Get(RevisionHeader)

	if len(values) == 0 {
		return 0, nil
	}

	revision, err := strconv.ParseInt(values[0], 10, 64)

	if err != nil || revision < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a non-negative integer, got %q", RevisionHeader, values[0])
	}

	return revision, nil
}

func statusError(err error) error {
	return status.Error(Code(err), err.Error())
}
