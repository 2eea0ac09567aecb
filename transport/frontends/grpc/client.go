package grpc

import (
	"context"
	"fmt"
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

var _ transport.ModelClient = (*Client)(nil)

// Client is a transport.ModelClient that talks
// to the gRPC frontend
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a client that sends
// requests over conn
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Infer implements transport.ModelClient.Infer
func (client *Client) Infer(ctx context.Context, x float64) (float64, error) {
	out := new(wrapperspb.DoubleValue)

	if err := client.conn.Invoke(ctx, inferMethod, wrapperspb.Double(x), out); err != nil {
		return 0, clientError(err)
	}

	return out.GetValue(), nil
}

// Train implements transport.ModelClient.Train
func (client *Client) Train(ctx context.Context, x float64) error {
	if err := client.conn.Invoke(ctx, trainMethod, wrapperspb.Double(x), new(emptypb.Empty)); err != nil {
		return clientError(err)
	}

	return nil
}

// Parameters implements transport.ModelClient.Parameters
func (client *Client) Parameters(ctx context.Context, revision int64) (transport.Parameters, error) {
	var header metadata.MD

	if revision > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, RevisionHeader, strconv.FormatInt(revision, 10))
	}

	out := new(structpb.ListValue)

	if err := client.conn.Invoke(ctx, parametersMethod, &emptypb.Empty{}, out, grpc.Header(&header)); err != nil {
		return transport.Parameters{}, clientError(err)
	}

	parameters := transport.Parameters{Parameters: make([]float64, 0, len(out.GetValues()))}

	if values := header.Get(RevisionHeader); len(values) > 0 {
		revision, err := strconv.ParseInt(values[0], 10, 64)

		if err != nil {
			return transport.Parameters{}, fmt.Errorf("could not parse %s header: %w", RevisionHeader, err)
		}

		parameters.Revision = revision
	}

	for _, value := range out.GetValues() {
		parameters.Parameters = append(parameters.Parameters, value.GetNumberValue())
	}

	return parameters, nil
}

// clientError is the inverse of Code
func clientError(err error) error {
	st, ok := status.FromError(err)

	if !ok {
		return err
	}

	var kind error

	switch st.Code() {
	case codes.Internal:
		kind = transport.ErrServerFault
	case codes.DeadlineExceeded:
		kind = transport.ErrTimeout
	case codes.InvalidArgument:
		kind = transport.ErrInvalidRequest
	case codes.Unavailable:
		kind = transport.ErrUnavailable
	case codes.OutOfRange:
		kind = transport.ErrGone
	default:
		return err
	}

	return &transport.Error{Kind: kind, Message: st.Message()}
}
