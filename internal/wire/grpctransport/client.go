package grpctransport

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// DialConfig controls how Dial connects to a peer node's session transport.
type DialConfig struct {
	Addr string

	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultDialConfig returns keepalive settings matching DefaultServerConfig.
func DefaultDialConfig(addr string) DialConfig {
	return DialConfig{
		Addr:             addr,
		KeepaliveTime:    5 * time.Minute,
		KeepaliveTimeout: 1 * time.Minute,
	}
}

// Dial opens a gRPC connection to a peer's session transport. Cluster
// traffic runs over plaintext connections inside a trusted network, mirroring
// the rest of the node-to-node transport.
func Dial(ctx context.Context, cfg DialConfig) (*grpc.ClientConn, error) {
	cc, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s failed: %w", cfg.Addr, err)
	}

	return cc, nil
}

// DialSession dials addr and opens the Session stream on the resulting
// connection in one step.
func DialSession(ctx context.Context, cfg DialConfig) (*grpc.ClientConn, Stream, error) {
	cc, err := Dial(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	stream, err := OpenSession(ctx, cc)
	if err != nil {
		cc.Close()
		return nil, nil, err
	}

	return cc, stream, nil
}
