// Package clusterdiscovery implements optional Consul-backed membership
// discovery (spec §4.5/§6): each node registers itself as a Consul service
// instance and periodically discovers healthy peers, feeding newly seen
// ones to remote.RemoteRegistry.RegisterNodes alongside any statically
// configured seed addresses. A node with ClusterDiscoveryConfig.Enabled
// false never constructs a Client and relies on seed addrs / gossip alone.
package clusterdiscovery

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/consul/api"

	"github.com/coralsys/meshactor/internal/config"
	"github.com/coralsys/meshactor/internal/remote"
)

// metaNodeID is the Consul service metadata key carrying a peer's
// meshactor NodeID, since Consul's service/health model has no native
// uint64 identity field of its own.
const metaNodeID = "meshactor_node_id"

// Client wraps the Consul agent API for self-registration and peer
// discovery under a single service name, mirroring consulx.ConsulClient's
// register/discover/deregister shape.
type Client struct {
	api         *api.Client
	serviceName string
	selfID      string
}

// NewClient dials the Consul agent described by cfg.
func NewClient(cfg config.ClusterDiscoveryConfig) (*Client, error) {
	apiCfg := api.DefaultConfig()
	if cfg.ConsulAddr != "" {
		apiCfg.Address = cfg.ConsulAddr
	}

	c, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("clusterdiscovery: new consul client: %w", err)
	}

	return &Client{api: c, serviceName: cfg.ServiceName}, nil
}

// RegisterSelf registers this node as a healthy instance of the configured
// service, stamping its NodeID into service metadata so peers can
// reconstruct a remote.RemoteNode from the catalog entry, and its tag into
// the service's tag list.
func (c *Client) RegisterSelf(nodeID uint64, host string, port int, tag string) error {
	id := fmt.Sprintf("%s-%d", c.serviceName, nodeID)
	c.selfID = id

	reg := &api.AgentServiceRegistration{
		ID:      id,
		Name:    c.serviceName,
		Address: host,
		Port:    port,
		Tags:    []string{tag},
		Meta:    map[string]string{metaNodeID: strconv.FormatUint(nodeID, 10)},
		Check: &api.AgentServiceCheck{
			TTL:                            "30s",
			DeregisterCriticalServiceAfter: "5m",
		},
	}

	if err := c.api.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("clusterdiscovery: register self: %w", err)
	}

	if err := c.api.Agent().UpdateTTL("service:"+id, "", api.HealthPassing); err != nil {
		return fmt.Errorf("clusterdiscovery: update TTL check: %w", err)
	}

	return nil
}

// Deregister removes this node's service instance from Consul. A no-op if
// RegisterSelf was never called.
func (c *Client) Deregister() error {
	if c.selfID == "" {
		return nil
	}
	return c.api.Agent().ServiceDeregister(c.selfID)
}

// DiscoverPeers queries the healthy instances of the configured service and
// returns every one except selfNodeID as a remote.RemoteNode.
func (c *Client) DiscoverPeers(selfNodeID uint64) ([]remote.RemoteNode, error) {
	entries, _, err := c.api.Health().Service(c.serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("clusterdiscovery: discover %q: %w", c.serviceName, err)
	}

	return peersFromEntries(entries, selfNodeID), nil
}

// peersFromEntries converts Consul health-check entries into RemoteNodes,
// skipping entries with no meshactor node id metadata and the caller's own
// id. Split out from DiscoverPeers so the parsing logic is testable without
// a live Consul agent.
func peersFromEntries(entries []*api.ServiceEntry, selfNodeID uint64) []remote.RemoteNode {
	out := make([]remote.RemoteNode, 0, len(entries))

	for _, e := range entries {
		if e == nil || e.Service == nil {
			continue
		}

		raw, ok := e.Service.Meta[metaNodeID]
		if !ok {
			continue
		}

		nodeID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || nodeID == selfNodeID {
			continue
		}

		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}

		tag := ""
		if len(e.Service.Tags) > 0 {
			tag = e.Service.Tags[0]
		}

		out = append(out, remote.RemoteNode{
			NodeID: nodeID,
			Addr:   fmt.Sprintf("%s:%d", addr, e.Service.Port),
			Tag:    tag,
		})
	}

	return out
}
