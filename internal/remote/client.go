package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/coralsys/meshactor/internal/wire"
	"github.com/coralsys/meshactor/internal/wire/grpctransport"
	"google.golang.org/grpc"
)

// ClientState is a peer client's connection state machine (§4.6).
type ClientState int

const (
	ClientIdle ClientState = iota
	ClientConnecting
	ClientConnected
	ClientQuarantined
)

func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "idle"
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	case ClientQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// PingOutcome is what a client reports to the heartbeat manager after every
// PingTick (§4.6).
type PingOutcome int

const (
	PingOk PingOutcome = iota
	PingTimeout
	PingErr
	PingDisconnected
)

// PingResult is the outcome of one PingTick cycle.
type PingResult struct {
	NodeID    uint64
	Outcome   PingOutcome
	RTT       time.Duration
	Timestamp time.Time
	Err       error
}

// HeartbeatSink receives PingResults as they're produced.
type HeartbeatSink interface {
	ReportPing(result PingResult)
}

// Client owns the outbound connection to one peer node and its write half.
// It runs a single command-processing goroutine, the same single-mailbox
// serialization internal/actor's ActorLoop uses, specialised for this
// narrow internal coordination role rather than routed through the generic
// actor system.
type Client struct {
	nodeID    uint64
	dialAddr  string
	requests  *RequestTable
	heartbeat HeartbeatSink
	log       btclog.Logger

	pingInterval time.Duration
	pingTimeout  time.Duration

	mu    sync.RWMutex
	state ClientState

	cmds chan clientCmd
	quit chan struct{}
	done chan struct{}

	conn   *grpc.ClientConn
	stream grpctransport.Stream

	handshakeAck chan wire.ConnectAckFrame
}

type clientCmdKind int

const (
	cmdWrite clientCmdKind = iota
	cmdPingTick
)

type clientCmd struct {
	kind  clientCmdKind
	frame wire.Frame
}

// NewClient constructs a Client for nodeID dialing dialAddr. It does not
// connect until Start is called.
func NewClient(nodeID uint64, dialAddr string, requests *RequestTable,
	heartbeat HeartbeatSink, pingInterval, pingTimeout time.Duration,
	log btclog.Logger) *Client {

	return &Client{
		nodeID:       nodeID,
		dialAddr:     dialAddr,
		requests:     requests,
		heartbeat:    heartbeat,
		log:          log,
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
		state:        ClientIdle,
		cmds:         make(chan clientCmd, 64),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		handshakeAck: make(chan wire.ConnectAckFrame, 1),
	}
}

// State returns the client's current connection state.
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start dials the peer and begins the client's command loop and ping
// ticker.
func (c *Client) Start(ctx context.Context) error {
	c.setState(ClientConnecting)

	conn, stream, err := grpctransport.DialSession(
		ctx, grpctransport.DefaultDialConfig(c.dialAddr),
	)
	if err != nil {
		c.setState(ClientIdle)
		return fmt.Errorf("remote: dial node %d failed: %w", c.nodeID, err)
	}

	c.conn = conn
	c.stream = stream
	c.setState(ClientConnected)

	go c.recvLoop()
	go c.loop()
	go c.pingTicker()

	return nil
}

// Stop quarantines the client and tears down its connection.
func (c *Client) Stop() {
	c.setState(ClientQuarantined)
	close(c.quit)
	<-c.done

	if c.conn != nil {
		c.conn.Close()
	}
}

// ClientWrite enqueues frame for delivery if the client is connected. In any
// other state the frame is dropped (logged), per §4.6.
func (c *Client) ClientWrite(frame wire.Frame) {
	if c.State() != ClientConnected {
		c.log.Debugf("remote: dropping frame to node %d, state=%s",
			c.nodeID, c.State())
		return
	}

	select {
	case c.cmds <- clientCmd{kind: cmdWrite, frame: frame}:
	case <-c.quit:
	}
}

func (c *Client) loop() {
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			return

		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdWrite:
				if err := c.stream.Send(cmd.frame); err != nil {
					c.log.Errorf("remote: send to node %d failed: %v",
						c.nodeID, err)
					c.setState(ClientQuarantined)
				}

			case cmdPingTick:
				c.doPing()
			}
		}
	}
}

func (c *Client) pingTicker() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			select {
			case c.cmds <- clientCmd{kind: cmdPingTick}:
			case <-c.quit:
			}
		}
	}
}

func (c *Client) doPing() {
	if c.State() != ClientConnected {
		c.heartbeat.ReportPing(PingResult{
			NodeID: c.nodeID, Outcome: PingDisconnected,
		})
		return
	}

	id := NewRequestID()
	sink := make(chan RemoteResponse, 1)
	c.requests.PushRequest(id, sink)

	sent := time.Now()
	if err := c.stream.Send(wire.PingFrame{MessageID: id}); err != nil {
		c.requests.Evict(id)
		c.heartbeat.ReportPing(PingResult{
			NodeID: c.nodeID, Outcome: PingErr, Err: err,
		})
		return
	}

	select {
	case resp := <-sink:
		outcome := PingOk
		if resp.Err != nil {
			outcome = PingErr
		}
		c.heartbeat.ReportPing(PingResult{
			NodeID: c.nodeID, Outcome: outcome,
			RTT: time.Since(sent), Timestamp: time.Now(), Err: resp.Err,
		})

	case <-time.After(c.pingTimeout):
		c.requests.Evict(id)
		c.heartbeat.ReportPing(PingResult{
			NodeID: c.nodeID, Outcome: PingTimeout, Timestamp: time.Now(),
		})
	}
}

func (c *Client) recvLoop() {
	for {
		frame, err := c.stream.Recv()
		if err != nil {
			c.setState(ClientQuarantined)
			return
		}

		if pong, ok := frame.(wire.PongFrame); ok {
			if sink, ok := c.requests.PopRequest(pong.MessageID); ok {
				sink <- RemoteResponse{}
				close(sink)
			}
			continue
		}

		if ack, ok := frame.(wire.ConnectAckFrame); ok {
			select {
			case c.handshakeAck <- ack:
			default:
			}
			continue
		}

		// Everything else (ActorAddress, MessageResponse) is a reply to a
		// correlated request; hand it back via RequestTable.
		dispatchCorrelatedReply(c.requests, frame)
	}
}

func dispatchCorrelatedReply(requests *RequestTable, frame wire.Frame) {
	switch f := frame.(type) {
	case wire.ActorAddressFrame:
		if sink, ok := requests.PopRequest(f.MessageID); ok {
			sink <- RemoteResponse{NodeID: f.NodeID}
			close(sink)
		}

	case wire.MessageResponseFrame:
		if sink, ok := requests.PopRequest(f.MessageID); ok {
			var err error
			if f.Err != "" {
				err = fmt.Errorf("remote: %s", f.Err)
			}
			sink <- RemoteResponse{Payload: f.Payload, Err: err}
			close(sink)
		}

	case wire.ShardAllocatedFrame:
		if sink, ok := requests.PopRequest(f.RequestID); ok {
			sink <- RemoteResponse{NodeID: f.NodeID}
			close(sink)
		}
	}
}

// ClientRegistry keeps NodeId -> Client for every outbound peer connection
// (§4.6).
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[uint64]*Client
	requests *RequestTable
	heartbeat HeartbeatSink
	log      btclog.Logger

	pingInterval time.Duration
	pingTimeout  time.Duration
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(requests *RequestTable, heartbeat HeartbeatSink,
	pingInterval, pingTimeout time.Duration, log btclog.Logger) *ClientRegistry {

	return &ClientRegistry{
		clients:      make(map[uint64]*Client),
		requests:     requests,
		heartbeat:    heartbeat,
		log:          log,
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
	}
}

// Connect dials nodeID at addr if not already connected, and returns its
// Client.
func (r *ClientRegistry) Connect(ctx context.Context, nodeID uint64,
	addr string) (*Client, error) {

	r.mu.Lock()
	if existing, ok := r.clients[nodeID]; ok {
		r.mu.Unlock()
		return existing, nil
	}

	client := NewClient(nodeID, addr, r.requests, r.heartbeat,
		r.pingInterval, r.pingTimeout, r.log)
	r.clients[nodeID] = client
	r.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.clients, nodeID)
		r.mu.Unlock()
		return nil, err
	}

	return client, nil
}

// Get returns the client for nodeID, if one exists.
func (r *ClientRegistry) Get(nodeID uint64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[nodeID]
	return c, ok
}

// SendTo implements PeerSender by writing frame through nodeID's client. It
// fails with an error if no client is connected for nodeID.
func (r *ClientRegistry) SendTo(_ context.Context, nodeID uint64, frame wire.Frame) error {
	client, ok := r.Get(nodeID)
	if !ok {
		return fmt.Errorf("remote: no client connected to node %d", nodeID)
	}

	client.ClientWrite(frame)
	return nil
}

// DefaultHandshakeTimeout bounds how long Handshake waits for the peer's
// ConnectAck before giving up.
const DefaultHandshakeTimeout = 10 * time.Second

// Handshake dials node and performs the Connect/ConnectAck exchange
// described in §6, suitable for use as RemoteRegistry.RegisterNodes's
// connect callback. The peer's acknowledged descriptor and membership view
// are folded into known.
func (r *ClientRegistry) Handshake(ctx context.Context, node RemoteNode,
	selfNode uint64, selfAddr string, known *NodeSet) error {

	client, err := r.Connect(ctx, node.NodeID, node.Addr)
	if err != nil {
		return err
	}

	if err := client.stream.Send(wire.ConnectFrame{
		SenderNode: selfNode,
		ListenAddr: selfAddr,
		KnownNodes: descriptorsOf(known.All()),
	}); err != nil {
		return fmt.Errorf("remote: handshake send to node %d failed: %w",
			node.NodeID, err)
	}

	select {
	case ack := <-client.handshakeAck:
		known.Upsert(RemoteNode{
			NodeID: ack.Self.NodeID, Addr: ack.Self.Addr, Tag: ack.Self.Tag,
			StartedAt: time.Unix(ack.Self.StartedUnix, 0),
		})
		for _, n := range ack.KnownNodes {
			known.Upsert(RemoteNode{
				NodeID: n.NodeID, Addr: n.Addr, Tag: n.Tag,
				StartedAt: time.Unix(n.StartedUnix, 0),
			})
		}
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-time.After(DefaultHandshakeTimeout):
		return fmt.Errorf("remote: handshake with node %d timed out",
			node.NodeID)
	}
}

// Remove stops and forgets the client for nodeID.
func (r *ClientRegistry) Remove(nodeID uint64) {
	r.mu.Lock()
	client, ok := r.clients[nodeID]
	delete(r.clients, nodeID)
	r.mu.Unlock()

	if ok {
		client.Stop()
	}
}
