// Package grpctransport carries wire-encoded session frames between nodes
// over a single bidirectional gRPC stream, without depending on a
// protoc-generated service: the stream's message type is a raw byte slice,
// moved with a custom grpc.Codec rather than protobuf marshalling.
package grpctransport

import "fmt"

// rawFrame is the only message type ever sent or received on the Session
// stream; its payload is already the output of wire.Encode.
type rawFrame struct {
	bytes []byte
}

// codecName is rawCodec's name. The codec is forced on both sides
// (grpc.ForceCodec on the client, grpc.ForceServerCodec on the server) so
// neither side attempts protobuf marshalling.
const codecName = "meshactor-raw"

// rawCodec implements encoding.Codec (google.golang.org/grpc/encoding) by
// treating every message as an opaque byte slice already produced by
// wire.Encode.
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf(
			"grpctransport: Marshal expects *rawFrame, got %T", v)
	}

	return f.bytes, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf(
			"grpctransport: Unmarshal expects *rawFrame, got %T", v)
	}

	f.bytes = make([]byte, len(data))
	copy(f.bytes, data)

	return nil
}
