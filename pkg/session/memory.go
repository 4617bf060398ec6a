package session

import (
	"context"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/pkg/logger"
)

// connection is the in-process Connection used by both stores. The Redis
// store reuses it as the local delivery endpoint for pub/sub messages.
type connection struct {
	meta     *Meta
	messages chan *Message

	mu     sync.Mutex
	closed bool
}

func newConnection(meta *Meta) *connection {
	return &connection{
		meta:     meta,
		messages: make(chan *Message, queueCapacity),
	}
}

func (c *connection) Meta() *Meta { return c.meta }

func (c *connection) Messages() <-chan *Message { return c.messages }

func (c *connection) Send(_ context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.messages <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.messages)
	return nil
}

// MemoryStore keeps sessions in a process-local map with TTL cleanup.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*connection
	touched  map[string]time.Time
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// DefaultTTL is how long an idle session survives before cleanup.
const DefaultTTL = 24 * time.Hour

// NewMemoryStore creates a memory store and starts its cleanup worker.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		sessions: make(map[string]*connection),
		touched:  make(map[string]time.Time),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	go s.cleanupRoutine()
	return s
}

func (s *MemoryStore) cleanupRoutine() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, last := range s.touched {
		if last.Before(cutoff) {
			if conn, ok := s.sessions[id]; ok {
				_ = conn.Close()
			}
			delete(s.sessions, id)
			delete(s.touched, id)
			logger.Debugw("expired idle session", "id", id)
		}
	}
}

// Register implements Store.
func (s *MemoryStore) Register(_ context.Context, meta *Meta) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[meta.ID]; exists {
		return nil, ErrSessionAlreadyExists
	}
	conn := newConnection(meta)
	s.sessions[meta.ID] = conn
	s.touched[meta.ID] = time.Now()
	return conn, nil
}

// Get implements Store. Resolving a session renews its TTL.
func (s *MemoryStore) Get(_ context.Context, id string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touched[id] = time.Now()
	return conn, nil
}

// Unregister implements Store.
func (s *MemoryStore) Unregister(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.sessions[id]
	if !ok {
		return nil
	}
	delete(s.sessions, id)
	delete(s.touched, id)
	return conn.Close()
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Meta, 0, len(s.sessions))
	for _, conn := range s.sessions {
		out = append(out, conn.meta)
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.sessions {
		_ = conn.Close()
		delete(s.sessions, id)
		delete(s.touched, id)
	}
	return nil
}
