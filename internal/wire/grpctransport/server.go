package grpctransport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// ServerConfig controls the listener and keepalive behaviour of a Server.
type ServerConfig struct {
	ListenAddr string

	ServerPingTime    time.Duration
	ServerPingTimeout time.Duration
	ClientPingMinWait time.Duration
}

// DefaultServerConfig returns sensible keepalive defaults for long-lived
// inter-node session streams.
func DefaultServerConfig(listenAddr string) ServerConfig {
	return ServerConfig{
		ListenAddr:        listenAddr,
		ServerPingTime:    5 * time.Minute,
		ServerPingTimeout: 1 * time.Minute,
		ClientPingMinWait: 5 * time.Second,
	}
}

// Server listens for inbound Session streams and hands each one to a
// StreamHandler.
type Server struct {
	cfg     ServerConfig
	handler StreamHandler
	log     btclog.Logger

	grpcServer *grpc.Server
	listener   net.Listener

	mu      sync.Mutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewServer constructs a Server that dispatches every accepted stream to
// handler.
func NewServer(cfg ServerConfig, handler StreamHandler, log btclog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log,
		quit:    make(chan struct{}),
	}
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("grpctransport: server already started")
	}

	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("grpctransport: listen on %s failed: %w",
			s.cfg.ListenAddr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)
	RegisterSessionService(s.grpcServer, s.handler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Infof("session transport listening on %s", s.cfg.ListenAddr)

		if err := s.grpcServer.Serve(lis); err != nil {
			select {
			case <-s.quit:
			default:
				s.log.Errorf("session transport serve error: %v", err)
			}
		}
	}()

	s.started = true

	return nil
}

// Stop gracefully drains in-flight streams and shuts the listener down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	close(s.quit)
	s.grpcServer.GracefulStop()
	s.wg.Wait()

	s.started = false
	s.log.Infof("session transport stopped")

	return nil
}

func (s *Server) buildServerOptions() []grpc.ServerOption {
	serverKeepalive := keepalive.ServerParameters{
		Time:    s.cfg.ServerPingTime,
		Timeout: s.cfg.ServerPingTimeout,
	}

	clientKeepalive := keepalive.EnforcementPolicy{
		MinTime:             s.cfg.ClientPingMinWait,
		PermitWithoutStream: true,
	}

	return []grpc.ServerOption{
		grpc.ForceServerCodec(rawCodec{}),
		grpc.KeepaliveParams(serverKeepalive),
		grpc.KeepaliveEnforcementPolicy(clientKeepalive),
	}
}
