package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file (if present) into the process environment and
// returns a SystemConfig built from DefaultSystemConfig with any recognised
// MESHACTOR_* environment variables applied on top. A missing .env file is
// not an error; godotenv.Load's error is only surfaced for malformed files.
func LoadEnv(dotenvPath string) (*SystemConfig, error) {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := godotenv.Load(dotenvPath); err != nil {
				return nil, err
			}
		}
	}

	cfg := DefaultSystemConfig()

	if v, ok := lookupUint("MESHACTOR_NODE_ID"); ok {
		cfg.NodeID = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_NODE_TAG"); ok {
		cfg.NodeTag = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_SEED_ADDRS"); ok {
		cfg.SeedAddrs = splitNonEmpty(v, ",")
	}
	if v, ok := os.LookupEnv("MESHACTOR_LISTEN_ADDR"); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_EXTERNAL_ADDR"); ok {
		cfg.Server.ExternalNodeAddr = v
	}
	if v, ok := lookupBool("MESHACTOR_OVERRIDE_INCOMING_ADDR"); ok {
		cfg.Server.OverrideIncomingNodeAddr = v
	}
	if v, ok := lookupDuration("MESHACTOR_PING_INTERVAL"); ok {
		cfg.Heartbeat.PingInterval = v
	}
	if v, ok := lookupDuration("MESHACTOR_PING_TIMEOUT"); ok {
		cfg.Heartbeat.PingTimeout = v
	}
	if v, ok := lookupUint32("MESHACTOR_SHARD_COUNT"); ok {
		cfg.Sharding.ShardCount = v
	}
	if v, ok := lookupBool("MESHACTOR_ENTITY_RECIPE_REQUIRED"); ok {
		cfg.Sharding.EntityRecipeRequired = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_PERSISTENCE_DRIVER"); ok {
		cfg.Persistence.Driver = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_PERSISTENCE_DSN"); ok {
		cfg.Persistence.DSN = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_SNAPSHOT_CACHE_REDIS_ADDR"); ok {
		cfg.Persistence.SnapshotCacheRedisAddr = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_PUBSUB_DRIVER"); ok {
		cfg.PubSub.Driver = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_NSQD_ADDR"); ok {
		cfg.PubSub.NSQDAddr = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_NSQLOOKUPD_ADDR"); ok {
		cfg.PubSub.NSQLookupdAddr = v
	}
	if v, ok := lookupBool("MESHACTOR_CLUSTER_DISCOVERY_ENABLED"); ok {
		cfg.ClusterDiscovery.Enabled = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_CONSUL_ADDR"); ok {
		cfg.ClusterDiscovery.ConsulAddr = v
	}
	if v, ok := os.LookupEnv("MESHACTOR_CONSUL_SERVICE_NAME"); ok {
		cfg.ClusterDiscovery.ServiceName = v
	}

	return cfg, nil
}

func lookupUint(key string) (uint64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lookupUint32(key string) (uint32, bool) {
	v, ok := lookupUint(key)
	if !ok {
		return 0, false
	}
	return uint32(v), true
}

func lookupBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func lookupDuration(key string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
