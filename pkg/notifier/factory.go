package notifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Type selects the notifier backend.
type Type string

const (
	// TypeRedis uses Redis pub/sub.
	TypeRedis Type = "redis"
	// TypeAPI uses an HTTP reload endpoint.
	TypeAPI Type = "api"
	// TypeSignal uses SIGHUP and a pid file.
	TypeSignal Type = "signal"
	// TypeComposite combines signal and api.
	TypeComposite Type = "composite"
)

// Options selects and configures a notifier backend.
type Options struct {
	Type   Type
	Role   Role
	Redis  RedisConfig
	API    APIConfig
	Signal SignalConfig
}

// OptionsFromEnv builds Options from NOTIFIER_* environment variables,
// falling back to defaults suited for a single-host deployment.
func OptionsFromEnv() Options {
	return Options{
		Type: Type(envOr("NOTIFIER_TYPE", string(TypeRedis))),
		Role: Role(envOr("NOTIFIER_ROLE", string(RoleSender))),
		Redis: RedisConfig{
			Addr:        envOr("NOTIFIER_REDIS_ADDR", "localhost:6379"),
			Username:    os.Getenv("NOTIFIER_REDIS_USERNAME"),
			Password:    os.Getenv("NOTIFIER_REDIS_PASSWORD"),
			DB:          envIntOr("NOTIFIER_REDIS_DB", 0),
			ClusterType: RedisClusterType(envOr("NOTIFIER_REDIS_CLUSTER_TYPE", string(RedisClusterSingle))),
			MasterName:  os.Getenv("NOTIFIER_REDIS_MASTER_NAME"),
			Topic:       envOr("NOTIFIER_REDIS_TOPIC", "mcp_config_updates"),
		},
		API: APIConfig{
			Port:      envIntOr("NOTIFIER_API_PORT", 8080),
			TargetURL: os.Getenv("NOTIFIER_API_TARGET_URL"),
		},
		Signal: SignalConfig{
			PIDFile: envOr("NOTIFIER_SIGNAL_PID_FILE", filepath.Join(os.TempDir(), "mcp_gateway.pid")),
		},
	}
}

// New builds a notifier per opts.
func New(ctx context.Context, opts Options) (Notifier, error) {
	switch opts.Type {
	case TypeRedis:
		return NewRedisNotifier(ctx, opts.Redis, opts.Role)
	case TypeAPI:
		return NewAPINotifier(opts.API, opts.Role), nil
	case TypeSignal:
		return NewSignalNotifier(opts.Signal, opts.Role)
	case TypeComposite:
		sig, err := NewSignalNotifier(opts.Signal, opts.Role)
		if err != nil {
			return nil, err
		}
		api := NewAPINotifier(opts.API, opts.Role)
		return NewCompositeNotifier(sig, api)
	default:
		return nil, fmt.Errorf("unknown notifier type: %s", opts.Type)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
