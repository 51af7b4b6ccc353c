package grpctransport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/coralsys/meshactor/internal/wire"
)

const (
	serviceName      = "meshactor.wire.Session"
	streamMethodName = "Stream"
	streamFullMethod = "/" + serviceName + "/" + streamMethodName
)

// Stream is a bidirectional channel carrying decoded wire.Frame values,
// implemented over either a grpc.ServerStream or grpc.ClientStream.
type Stream interface {
	Send(frame wire.Frame) error
	Recv() (wire.Frame, error)
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(frame wire.Frame) error {
	encoded, err := wire.Encode(frame)
	if err != nil {
		return err
	}

	return s.ServerStream.SendMsg(&rawFrame{bytes: encoded})
}

func (s *serverStream) Recv() (wire.Frame, error) {
	msg := new(rawFrame)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}

	return wire.Decode(msg.bytes)
}

type clientStream struct {
	grpc.ClientStream
}

func (c *clientStream) Send(frame wire.Frame) error {
	encoded, err := wire.Encode(frame)
	if err != nil {
		return err
	}

	return c.ClientStream.SendMsg(&rawFrame{bytes: encoded})
}

func (c *clientStream) Recv() (wire.Frame, error) {
	msg := new(rawFrame)
	if err := c.ClientStream.RecvMsg(msg); err != nil {
		return nil, err
	}

	return wire.Decode(msg.bytes)
}

// StreamHandler processes one inbound session stream until the peer closes
// it or it returns an error.
type StreamHandler func(ctx context.Context, stream Stream) error

// newServiceDesc builds the hand-written grpc.ServiceDesc for the single
// bidirectional Session stream method, standing in for what protoc would
// otherwise generate from a .proto file.
func newServiceDesc(handler StreamHandler) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName: streamMethodName,
				Handler: func(_ any, stream grpc.ServerStream) error {
					return handler(stream.Context(), &serverStream{stream})
				},
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "meshactor/internal/wire/grpctransport",
	}
}

// RegisterSessionService binds handler to s as the session stream service.
func RegisterSessionService(s *grpc.Server, handler StreamHandler) {
	s.RegisterService(newServiceDesc(handler), nil)
}

// OpenSession opens the client side of the Session bidirectional stream on
// an established connection.
func OpenSession(ctx context.Context, cc *grpc.ClientConn) (Stream, error) {
	desc := &grpc.StreamDesc{
		StreamName:    streamMethodName,
		ServerStreams: true,
		ClientStreams: true,
	}

	cs, err := cc.NewStream(ctx, desc, streamFullMethod)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: open stream failed: %w", err)
	}

	return &clientStream{cs}, nil
}
