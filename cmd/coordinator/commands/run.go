package commands

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	btclogv2 "github.com/btcsuite/btclog/v2"
	"github.com/spf13/cobra"

	"github.com/coralsys/meshactor/internal/actor"
	"github.com/coralsys/meshactor/internal/build"
	"github.com/coralsys/meshactor/internal/clusterdiscovery"
	"github.com/coralsys/meshactor/internal/config"
	"github.com/coralsys/meshactor/internal/pubsub"
	"github.com/coralsys/meshactor/internal/pubsub/nsqpubsub"
	"github.com/coralsys/meshactor/internal/remote"
	"github.com/coralsys/meshactor/internal/sharding"
)

// shutdownTimeout bounds how long the (actor-less) actor system is given to
// drain on exit, kept only so RemoteRegistry has a Scheduler to rebalance
// against.
const shutdownTimeout = 10 * time.Second

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadEnv(envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	rootLogger, closeLog, err := buildLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer closeLog()

	actorSystem := actor.NewActorSystem()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout)
		defer cancel()

		if err := actorSystem.Shutdown(shutdownCtx); err != nil {
			log.Printf("actor system shutdown incomplete: %v", err)
		}
	}()

	ps, err := newPubSub(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("open pubsub driver %q: %w", cfg.PubSub.Driver, err)
	}

	requests := remote.NewRequestTable()
	heartbeatMgr := remote.NewHeartbeatManager(rootLogger.WithPrefix("HRTB"))
	clientRegistry := remote.NewClientRegistry(
		requests, heartbeatMgr, cfg.Heartbeat.PingInterval,
		cfg.Heartbeat.PingTimeout, rootLogger.WithPrefix("RMTC"))
	heartbeatMgr.SetRegistry(clientRegistry)

	registry := remote.NewRemoteRegistry(
		cfg.NodeID, requests, clientRegistry, ps, actorSystem.Scheduler(),
		rootLogger.WithPrefix("RMTD"))

	coordinator := sharding.NewCoordinator(rootLogger.WithPrefix("CORD"))

	selfAddr := cfg.Server.ExternalNodeAddr
	if selfAddr == "" {
		selfAddr = cfg.Server.ListenAddr
	}

	connect := func(ctx context.Context, node remote.RemoteNode) error {
		if err := clientRegistry.Handshake(
			ctx, node, cfg.NodeID, selfAddr, registry.Nodes()); err != nil {
			return err
		}

		coordinator.AddNode(node)
		return nil
	}

	// A coordinator hosts no application entities: dispatcher and entities
	// are nil, and it answers AllocateShard as the ShardCoordinator.
	server := remote.NewServer(remote.ServerConfig{
		ListenAddr:               cfg.Server.ListenAddr,
		SelfNode:                 cfg.NodeID,
		SelfAddr:                 selfAddr,
		OverrideIncomingNodeAddr: cfg.Server.OverrideIncomingNodeAddr,
	}, registry, ps, nil, nil, coordinator, rootLogger.WithPrefix("RMTS"))

	if err := server.Start(); err != nil {
		return fmt.Errorf("start session server: %w", err)
	}
	defer server.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.WatchSystemTopic(ctx); err != nil {
		rootLogger.Warnf("watch system topic failed: %v", err)
	}

	seeds := make([]remote.RemoteNode, 0, len(cfg.SeedAddrs))
	for _, addr := range cfg.SeedAddrs {
		seeds = append(seeds, remote.RemoteNode{Addr: addr})
	}
	registry.RegisterNodes(ctx, seeds, connect)

	var discoveryClient *clusterdiscovery.Client
	var watcher *clusterdiscovery.Watcher
	if cfg.ClusterDiscovery.Enabled {
		discoveryClient, watcher, err = startClusterDiscovery(
			ctx, cfg, registry, selfAddr, connect, rootLogger.WithPrefix("DISC"))
		if err != nil {
			return fmt.Errorf("start cluster discovery: %w", err)
		}
		defer func() {
			watcher.Stop()
			if err := discoveryClient.Deregister(); err != nil {
				rootLogger.Warnf("deregister from discovery failed: %v", err)
			}
		}()
	}

	rootLogger.Infof("coordinator %d listening on %s", cfg.NodeID, cfg.Server.ListenAddr)

	waitForSignal(cancel)
	<-ctx.Done()

	return nil
}

// waitForSignal spawns the daemon's signal handler: the first SIGINT/SIGTERM
// triggers cancel, a second one force-exits immediately rather than waiting
// on a shutdown that may be stuck.
func waitForSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down (send again to force exit)", sig)
		cancel()

		sig = <-sigCh
		log.Printf("received %v again, forcing immediate exit", sig)
		os.Exit(1)
	}()
}

func buildLogger() (btclogv2.Logger, func(), error) {
	var handlers []btclogv2.Handler
	handlers = append(handlers, btclogv2.NewDefaultHandler(os.Stderr))

	var rotator *build.RotatingLogWriter
	if logDir != "" {
		rotator = build.NewRotatingLogWriter()
		if err := rotator.InitLogRotator(&build.LogRotatorConfig{
			LogDir:         logDir,
			MaxLogFiles:    maxLogFiles,
			MaxLogFileSize: maxLogFileSize,
			Filename:       "coordinator.log",
		}); err != nil {
			return nil, nil, fmt.Errorf("init log rotator: %w", err)
		}

		handlers = append(handlers, btclogv2.NewDefaultHandler(rotator))

		multi := io.MultiWriter(os.Stderr, rotator)
		log.SetOutput(multi)
	}

	combined := build.NewHandlerSet(handlers...)
	logger := btclogv2.NewSLogger(combined)

	closer := func() {
		if rotator != nil {
			rotator.Close()
		}
	}

	return logger, closer, nil
}

func newPubSub(cfg config.PubSubConfig) (pubsub.PubSub, error) {
	switch cfg.Driver {
	case "memory":
		return pubsub.NewInMemory(), nil

	case "nsq":
		var lookupd []string
		if cfg.NSQLookupdAddr != "" {
			lookupd = []string{cfg.NSQLookupdAddr}
		}

		return nsqpubsub.New(nsqpubsub.Config{
			NSQDAddr:        cfg.NSQDAddr,
			NSQLookupdAddrs: lookupd,
			Channel:         "meshactor-coordinator",
		})

	default:
		return nil, fmt.Errorf("unknown pubsub driver %q", cfg.Driver)
	}
}

func startClusterDiscovery(ctx context.Context, cfg *config.SystemConfig,
	registry *remote.RemoteRegistry, selfAddr string,
	connect func(ctx context.Context, node remote.RemoteNode) error,
	log btclogv2.Logger) (*clusterdiscovery.Client, *clusterdiscovery.Watcher, error) {

	client, err := clusterdiscovery.NewClient(cfg.ClusterDiscovery)
	if err != nil {
		return nil, nil, err
	}

	host, port, err := splitHostPort(selfAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("parse listen addr %q: %w", selfAddr, err)
	}

	if err := client.RegisterSelf(cfg.NodeID, host, port, cfg.NodeTag); err != nil {
		return nil, nil, err
	}

	watcher := clusterdiscovery.NewWatcher(
		client, registry, cfg.NodeID, connect, 0, log)
	watcher.Start(ctx)

	return client, watcher, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	return host, port, nil
}
