package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// RedisClusterType selects the Redis deployment topology.
type RedisClusterType string

const (
	// RedisClusterSingle is a standalone Redis instance.
	RedisClusterSingle RedisClusterType = "single"
	// RedisClusterCluster is Redis Cluster mode.
	RedisClusterCluster RedisClusterType = "cluster"
	// RedisClusterSentinel is Sentinel-managed failover.
	RedisClusterSentinel RedisClusterType = "sentinel"
)

// RedisConfig configures the Redis notifier backend.
type RedisConfig struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	ClusterType RedisClusterType
	MasterName  string
	Topic       string
}

// RedisNotifier broadcasts updates over a Redis pub/sub channel. An empty
// payload is the reload signal; anything else is a JSON-serialized Config.
type RedisNotifier struct {
	rdb   redis.UniversalClient
	topic string
	role  Role

	watchers watcherSet

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	listening bool
}

// NewRedisNotifier connects to Redis per cfg. Addr accepts multiple
// addresses separated by "," or ";" for cluster and sentinel topologies.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig, role Role) (*RedisNotifier, error) {
	addrs := splitAddrs(cfg.Addr)
	opts := &redis.UniversalOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.ClusterType == RedisClusterSentinel {
		opts.MasterName = cfg.MasterName
	}
	rdb := redis.NewUniversalClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}
	logger.Infow("redis notifier connected", "addr", cfg.Addr, "topic", cfg.Topic)

	return &RedisNotifier{
		rdb:   rdb,
		topic: cfg.Topic,
		role:  role,
	}, nil
}

func splitAddrs(addr string) []string {
	fields := strings.FieldsFunc(addr, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Watch implements Notifier. The pub/sub subscription is shared: one
// subscriber goroutine fans out to every watcher channel.
func (n *RedisNotifier) Watch(_ context.Context) (<-chan *config.Config, error) {
	if !n.CanReceive() {
		return nil, ErrCannotReceive
	}

	ch, err := n.watchers.add()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.listening {
		subCtx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.done = make(chan struct{})
		n.listening = true
		go n.listen(subCtx)
	}
	return ch, nil
}

func (n *RedisNotifier) listen(ctx context.Context) {
	defer close(n.done)

	sub := n.rdb.Subscribe(ctx, n.topic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			n.handlePayload(msg.Payload)
		}
	}
}

func (n *RedisNotifier) handlePayload(payload string) {
	if strings.TrimSpace(payload) == "" {
		logger.Debugw("received reload signal")
		n.watchers.broadcast(nil)
		return
	}

	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		logger.Warnw("dropping malformed config update", "error", err)
		return
	}
	logger.Debugw("received config update", "config", cfg.Key())
	n.watchers.broadcast(&cfg)
}

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, updated *config.Config) error {
	if !n.CanSend() {
		return ErrCannotSend
	}

	payload := ""
	if updated != nil {
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		payload = string(data)
	}

	if err := n.rdb.Publish(ctx, n.topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	logger.Infow("sent config update", "config", configName(updated), "topic", n.topic)
	return nil
}

// CanSend implements Notifier.
func (n *RedisNotifier) CanSend() bool { return n.role.CanSend() }

// CanReceive implements Notifier.
func (n *RedisNotifier) CanReceive() bool { return n.role.CanReceive() }

// Close implements Notifier.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	if n.listening {
		n.cancel()
		<-n.done
		n.listening = false
	}
	n.mu.Unlock()

	n.watchers.closeAll()
	return n.rdb.Close()
}
