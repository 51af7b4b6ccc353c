package clusterdiscovery

import (
	"context"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/coralsys/meshactor/internal/remote"
)

// DefaultPollInterval is how often a Watcher re-queries its peer source
// when constructed with a non-positive interval.
const DefaultPollInterval = 15 * time.Second

// peerSource abstracts "give me the currently healthy peers", implemented
// by *Client; kept narrow so Watcher can be tested without a live Consul
// agent.
type peerSource interface {
	DiscoverPeers(selfNodeID uint64) ([]remote.RemoteNode, error)
}

// Watcher polls a peerSource for peers on a timer and feeds newly seen ones
// to a RemoteRegistry, the same single-ticker-goroutine shape
// internal/remote.Client's pingTicker uses for liveness: one goroutine, one
// ticker, no supervision needed for this internal coordination role.
type Watcher struct {
	source     peerSource
	registry   *remote.RemoteRegistry
	selfNodeID uint64
	connect    func(ctx context.Context, node remote.RemoteNode) error

	pollInterval time.Duration
	log          btclog.Logger

	quit chan struct{}
	done chan struct{}
}

// NewWatcher constructs a Watcher. connect performs the handshake with a
// newly discovered peer (typically ClientRegistry.Handshake, bound to this
// node's own id/addr by the caller).
func NewWatcher(source peerSource, registry *remote.RemoteRegistry, selfNodeID uint64,
	connect func(ctx context.Context, node remote.RemoteNode) error,
	pollInterval time.Duration, log btclog.Logger) *Watcher {

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Watcher{
		source:       source,
		registry:     registry,
		selfNodeID:   selfNodeID,
		connect:      connect,
		pollInterval: pollInterval,
		log:          log,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start polls once immediately and then begins polling on pollInterval in
// the background, until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.poll(ctx)
	go w.loop(ctx)
}

// Stop halts polling and waits for the background goroutine to exit.
func (w *Watcher) Stop() {
	close(w.quit)
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	peers, err := w.source.DiscoverPeers(w.selfNodeID)
	if err != nil {
		w.log.Warnf("clusterdiscovery: poll failed: %v", err)
		return
	}

	w.registry.RegisterNodes(ctx, peers, w.connect)
}
