package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreType selects the session store backend.
type StoreType string

const (
	// StoreTypeMemory keeps sessions in-process.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeRedis shares sessions across instances through Redis.
	StoreTypeRedis StoreType = "redis"
)

// Options configures NewStore. Zero values fall back to a memory store
// with the default TTL.
type Options struct {
	Type StoreType

	// Redis settings, used when Type is StoreTypeRedis. Addr accepts a
	// comma-separated list for cluster and sentinel deployments.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Prefix namespaces the Redis session keys. Topic is the pub/sub
	// channel for cross-instance message fan-out.
	Prefix string
	Topic  string

	TTL time.Duration
}

// NewStore builds a session store from opts.
func NewStore(opts Options) (Store, error) {
	switch opts.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(opts.TTL), nil
	case StoreTypeRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis session store requires an address")
		}
		prefix := opts.Prefix
		if prefix == "" {
			prefix = "mcpgate:session"
		}
		topic := opts.Topic
		if topic == "" {
			topic = "mcpgate:session:events"
		}
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(opts.RedisAddr, ","),
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		return NewRedisStore(rdb, prefix, topic, opts.TTL), nil
	default:
		return nil, fmt.Errorf("unknown session store type %q", opts.Type)
	}
}
