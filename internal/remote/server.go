package remote

import (
	"context"

	"github.com/btcsuite/btclog"
	"google.golang.org/grpc/peer"

	"github.com/coralsys/meshactor/internal/pubsub"
	"github.com/coralsys/meshactor/internal/wire/grpctransport"
)

// ServerConfig controls the inbound session listener (§4.7).
type ServerConfig struct {
	ListenAddr               string
	SelfNode                 uint64
	SelfAddr                 string
	OverrideIncomingNodeAddr bool
}

// Server accepts inbound peer connections and spawns a Session for each one
// (§4.7). Shutdown is cooperative: Stop triggers a graceful drain and
// existing sessions complete on their own.
type Server struct {
	cfg        ServerConfig
	registry    *RemoteRegistry
	ps          pubsub.PubSub
	dispatcher  MessageDispatcher
	entities    EntityDispatcher
	coordinator ShardCoordinator
	log         btclog.Logger

	transport *grpctransport.Server
}

// NewServer constructs a Server. ps/dispatcher/entities/coordinator may be
// nil if those collaborators aren't wired yet.
func NewServer(cfg ServerConfig, registry *RemoteRegistry, ps pubsub.PubSub,
	dispatcher MessageDispatcher, entities EntityDispatcher,
	coordinator ShardCoordinator, log btclog.Logger) *Server {

	s := &Server{
		cfg:         cfg,
		registry:    registry,
		ps:          ps,
		dispatcher:  dispatcher,
		entities:    entities,
		coordinator: coordinator,
		log:         log,
	}

	transportCfg := grpctransport.DefaultServerConfig(cfg.ListenAddr)
	s.transport = grpctransport.NewServer(transportCfg, s.handleStream, log)

	return s
}

// handleStream is the grpctransport.StreamHandler invoked per accepted
// connection.
func (s *Server) handleStream(ctx context.Context, stream grpctransport.Stream) error {
	peerAddr := ""
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		peerAddr = p.Addr.String()
	}

	sess := NewSession(SessionConfig{
		SelfNode:     s.cfg.SelfNode,
		SelfAddr:     s.cfg.SelfAddr,
		Registry:     s.registry,
		PubSub:       s.ps,
		Dispatcher:   s.dispatcher,
		Entities:     s.entities,
		Coordinator:  s.coordinator,
		OverrideAddr: s.cfg.OverrideIncomingNodeAddr,
		PeerAddr:     peerAddr,
	}, stream, s.log)

	return sess.Run(ctx)
}

// Start begins listening for inbound sessions.
func (s *Server) Start() error {
	return s.transport.Start()
}

// Stop gracefully drains the listener.
func (s *Server) Stop() error {
	return s.transport.Stop()
}
