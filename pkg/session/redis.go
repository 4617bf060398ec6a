package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpgate/mcpgate/pkg/logger"
)

// envelope is the pub/sub wire format shared by all gateway instances.
// "create" and "delete" announce session lifecycle; "event" carries a
// message for whichever instance holds the live client connection.
type envelope struct {
	Action  string   `json:"action"`
	Meta    *Meta    `json:"meta"`
	Message *Message `json:"message,omitempty"`
}

const (
	actionCreate = "create"
	actionDelete = "delete"
	actionEvent  = "event"
)

// RedisStore persists session metadata in Redis and fans messages out over
// pub/sub, so any gateway instance can deliver to a session hosted on
// another. Live message queues stay on the instance that registered the
// session; remote instances publish and let the subscriber loop route the
// message into the local queue.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	topic  string
	ttl    time.Duration

	mu    sync.RWMutex
	local map[string]*connection

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisStore creates a Redis-backed store and starts its pub/sub
// subscriber. prefix namespaces the session keys; topic is the pub/sub
// channel shared by all instances of one gateway deployment.
func NewRedisStore(rdb redis.UniversalClient, prefix, topic string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		topic:  topic,
		ttl:    ttl,
		local:  make(map[string]*connection),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.subscribe(ctx)
	return s
}

func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

func (s *RedisStore) idsKey() string {
	return s.prefix + ":ids"
}

// Register implements Store.
func (s *RedisStore) Register(ctx context.Context, meta *Meta) (Connection, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session meta: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.sessionKey(meta.ID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return nil, ErrSessionAlreadyExists
	}
	if err := s.rdb.SAdd(ctx, s.idsKey(), meta.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}
	s.rdb.Expire(ctx, s.idsKey(), s.ttl)

	conn := newConnection(meta)
	s.mu.Lock()
	s.local[meta.ID] = conn
	s.mu.Unlock()

	s.publish(ctx, &envelope{Action: actionCreate, Meta: meta})
	return conn, nil
}

// Get implements Store. When the session is hosted on this instance the
// local connection is returned; otherwise the caller gets a handle whose
// Send publishes over pub/sub for the hosting instance to deliver.
// Resolving a session renews its TTL.
func (s *RedisStore) Get(ctx context.Context, id string) (Connection, error) {
	s.mu.RLock()
	conn, hosted := s.local[id]
	s.mu.RUnlock()
	if hosted {
		s.touch(ctx, id)
		return conn, nil
	}

	data, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if member, err := s.rdb.SIsMember(ctx, s.idsKey(), id).Result(); err == nil && !member {
		return nil, ErrSessionNotFound
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session meta: %w", err)
	}
	s.touch(ctx, id)
	return &remoteConnection{store: s, meta: &meta}, nil
}

// touch renews the metadata key and the id set in lockstep.
func (s *RedisStore) touch(ctx context.Context, id string) {
	s.rdb.Expire(ctx, s.sessionKey(id), s.ttl)
	s.rdb.Expire(ctx, s.idsKey(), s.ttl)
}

// List implements Store. The id set is authoritative; entries whose metadata
// has expired are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*Meta, error) {
	ids, err := s.rdb.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]*Meta, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			logger.Warnw("skipping session with malformed metadata", "id", id, "error", err)
			continue
		}
		out = append(out, &meta)
	}
	return out, nil
}

// Unregister implements Store.
func (s *RedisStore) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	conn, hosted := s.local[id]
	delete(s.local, id)
	s.mu.Unlock()
	if hosted {
		_ = conn.Close()
	}

	var meta *Meta
	if hosted {
		meta = conn.meta
	} else {
		meta = &Meta{ID: id}
	}

	if err := s.rdb.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.rdb.SRem(ctx, s.idsKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to unindex session: %w", err)
	}

	s.publish(ctx, &envelope{Action: actionDelete, Meta: meta})
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.cancel()
	<-s.done

	s.mu.Lock()
	for id, conn := range s.local {
		_ = conn.Close()
		delete(s.local, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *RedisStore) publish(ctx context.Context, env *envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Errorw("failed to marshal session envelope", "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, s.topic, data).Err(); err != nil {
		logger.Errorw("failed to publish session envelope", "topic", s.topic, "error", err)
	}
}

// subscribe pumps pub/sub envelopes into the local queues. Events for
// sessions hosted elsewhere are ignored; the hosting instance picks them up.
func (s *RedisStore) subscribe(ctx context.Context) {
	defer close(s.done)

	sub := s.rdb.Subscribe(ctx, s.topic)
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
			s.dispatch(ctx, msg.Payload)
		}
	}
}

func (s *RedisStore) dispatch(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Warnw("dropping malformed session envelope", "error", err)
		return
	}
	if env.Meta == nil {
		return
	}

	switch env.Action {
	case actionEvent:
		if env.Message == nil {
			return
		}
		s.mu.RLock()
		conn, hosted := s.local[env.Meta.ID]
		s.mu.RUnlock()
		if !hosted {
			return
		}
		if err := conn.Send(ctx, env.Message); err != nil {
			logger.Warnw("failed to deliver pub/sub message",
				"id", env.Meta.ID, "error", err)
		}
	case actionDelete:
		s.mu.Lock()
		conn, hosted := s.local[env.Meta.ID]
		delete(s.local, env.Meta.ID)
		s.mu.Unlock()
		if hosted {
			_ = conn.Close()
		}
	case actionCreate:
		// Lifecycle announcement only; nothing to route.
	default:
		logger.Warnw("unknown session envelope action", "action", env.Action)
	}
}

// remoteConnection is the handle returned for sessions hosted on another
// instance. Send publishes over pub/sub; there is no local queue to drain.
type remoteConnection struct {
	store *RedisStore
	meta  *Meta
}

func (c *remoteConnection) Meta() *Meta { return c.meta }

// Messages returns nil: only the hosting instance drains the queue.
func (c *remoteConnection) Messages() <-chan *Message { return nil }

func (c *remoteConnection) Send(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(&envelope{Action: actionEvent, Meta: c.meta, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal session envelope: %w", err)
	}
	if err := c.store.rdb.Publish(ctx, c.store.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	// Sending keeps the session alive.
	c.store.touch(ctx, c.meta.ID)
	return nil
}

func (c *remoteConnection) Close() error { return nil }
