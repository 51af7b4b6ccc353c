// Package config defines the validated configuration structs for every
// recognised option in the session wire protocol and node runtime (spec §6).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// HeartbeatConfig controls per-peer ping/pong liveness tracking (§4.6).
type HeartbeatConfig struct {
	// PingInterval is how often a connected client sends a Ping.
	PingInterval time.Duration `validate:"required" mapstructure:"ping_interval"`

	// PingTimeout is how long a client waits for the matching Pong
	// before reporting PingResultTimeout.
	PingTimeout time.Duration `validate:"required" mapstructure:"ping_timeout"`
}

// ServerConfig controls the inbound session listener (§4.7).
type ServerConfig struct {
	// ListenAddr is the local TCP/gRPC listen address.
	ListenAddr string `validate:"required,hostname_port" mapstructure:"listen_addr"`

	// ExternalNodeAddr is the address advertised to peers during the
	// handshake, if different from ListenAddr (e.g. behind NAT).
	ExternalNodeAddr string `mapstructure:"external_node_addr"`

	// OverrideIncomingNodeAddr, when set, replaces an inbound peer's
	// self-reported address with the observed socket peer IP.
	OverrideIncomingNodeAddr bool `mapstructure:"override_incoming_node_addr"`
}

// ShardingConfig controls the local ShardHost (§4.9).
type ShardingConfig struct {
	// ShardCount is the fixed number of shards actor ids are hashed
	// into. Must not change across a cluster's lifetime.
	ShardCount uint32 `validate:"required,min=1" mapstructure:"shard_count"`

	// EntityRecipeRequired, when true, rejects EntityRequests that don't
	// carry a recipe for actors that don't already exist.
	EntityRecipeRequired bool `mapstructure:"entity_recipe_required"`
}

// PersistenceConfig selects and configures the journal/snapshot backend.
type PersistenceConfig struct {
	// Driver selects the backing store: "sqlite", "mongo", or "memory".
	Driver string `validate:"required,oneof=sqlite mongo memory" mapstructure:"driver"`

	// DSN is the driver-specific connection string (file path for
	// sqlite, connection URI for mongo).
	DSN string `mapstructure:"dsn"`

	// SnapshotCacheRedisAddr, if set, fronts snapshot reads with a Redis
	// read-through cache.
	SnapshotCacheRedisAddr string `mapstructure:"snapshot_cache_redis_addr"`
}

// PubSubConfig selects and configures the SystemTopic backend.
type PubSubConfig struct {
	// Driver selects the backing fan-out implementation: "memory" or
	// "nsq".
	Driver string `validate:"required,oneof=memory nsq" mapstructure:"driver"`

	// NSQDAddr is the nsqd TCP address used when Driver is "nsq".
	NSQDAddr string `mapstructure:"nsqd_addr"`

	// NSQLookupdAddr is the nsqlookupd HTTP address used for consumer
	// discovery when Driver is "nsq".
	NSQLookupdAddr string `mapstructure:"nsqlookupd_addr"`
}

// ClusterDiscoveryConfig controls optional Consul-backed membership
// discovery feeding RemoteRegistry.RegisterNodes.
type ClusterDiscoveryConfig struct {
	// Enabled turns on Consul-backed discovery. When false, membership
	// is static/gossip-supplied only.
	Enabled bool `mapstructure:"enabled"`

	// ConsulAddr is the Consul HTTP API address.
	ConsulAddr string `mapstructure:"consul_addr"`

	// ServiceName is the Consul service name this node registers under
	// and queries for peers.
	ServiceName string `mapstructure:"service_name"`
}

// SystemConfig is the complete validated node configuration.
type SystemConfig struct {
	NodeID    uint64 `validate:"required" mapstructure:"node_id"`
	NodeTag   string `mapstructure:"node_tag"`
	SeedAddrs []string `mapstructure:"seed_addrs"`

	Heartbeat         HeartbeatConfig        `validate:"required" mapstructure:"heartbeat"`
	Server            ServerConfig           `validate:"required" mapstructure:"server"`
	Sharding          ShardingConfig         `validate:"required" mapstructure:"sharding"`
	Persistence       PersistenceConfig      `validate:"required" mapstructure:"persistence"`
	PubSub            PubSubConfig           `validate:"required" mapstructure:"pubsub"`
	ClusterDiscovery  ClusterDiscoveryConfig `mapstructure:"cluster_discovery"`
}

// DefaultSystemConfig returns a SystemConfig with sane single-node defaults,
// suitable for local development or as a base before applying environment
// overrides.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		NodeTag: "default",
		Heartbeat: HeartbeatConfig{
			PingInterval: 10 * time.Second,
			PingTimeout:  5 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:9090",
		},
		Sharding: ShardingConfig{
			ShardCount: 64,
		},
		Persistence: PersistenceConfig{
			Driver: "sqlite",
			DSN:    "node.db",
		},
		PubSub: PubSubConfig{
			Driver: "memory",
		},
	}
}

// Validate checks every struct tag constraint across the configuration
// tree, returning a single aggregated error describing every violation
// found.
func Validate(cfg *SystemConfig) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
