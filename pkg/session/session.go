// Package session tracks live client sessions and routes server-to-client
// messages to them. A session is created when a client connects over SSE or
// initializes over Streamable-HTTP, and lives until the client disconnects
// or the TTL expires.
//
// Two Store implementations exist: an in-process memory store for single
// instance deployments, and a Redis store that shares session metadata and
// fans messages out across gateway instances via pub/sub.
package session

import (
	"context"
	"errors"
	"time"
)

// Type identifies the client-facing transport a session was created on.
type Type string

const (
	// TypeSSE is a session backed by a long-lived SSE response stream.
	TypeSSE Type = "sse"
	// TypeStreamable is a session created by a Streamable-HTTP initialize.
	TypeStreamable Type = "streamable"
)

// Common session errors.
var (
	// ErrSessionNotFound is returned when a session cannot be found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyExists is returned when creating a session with an ID that is taken.
	ErrSessionAlreadyExists = errors.New("session already exists")

	// ErrQueueFull is returned when a session's outbound queue is full.
	ErrQueueFull = errors.New("session message queue is full")

	// ErrConnectionClosed is returned when sending to a closed connection.
	ErrConnectionClosed = errors.New("session connection is closed")
)

// RequestInfo is an immutable snapshot of the request that created the
// session. Template rendering merges it with the current request, with the
// current request taking precedence.
type RequestInfo struct {
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
	Cookies map[string]string `json:"cookies"`
}

// Meta is the durable identity of a session. It is what the Redis store
// persists; the live message queue stays on the instance holding the client
// connection.
type Meta struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Prefix    string       `json:"prefix"`
	Type      Type         `json:"type"`
	Request   *RequestInfo `json:"request,omitempty"`
}

// Message is one server-to-client payload. Event names the SSE event type
// ("message" unless the sender says otherwise); Data is the raw body, most
// often a serialized JSON-RPC response.
type Message struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Connection is the live handle to a single session. Messages() is consumed
// by exactly one writer goroutine, the one pumping the client's SSE stream.
type Connection interface {
	// Meta returns the session's immutable metadata.
	Meta() *Meta

	// Messages returns the channel the stream writer drains.
	Messages() <-chan *Message

	// Send enqueues a message for the client without blocking. Returns
	// ErrQueueFull when the queue is at capacity and ErrConnectionClosed
	// after Close.
	Send(ctx context.Context, msg *Message) error

	// Close releases the connection's resources. Idempotent.
	Close() error
}

// Store registers, resolves, and removes sessions.
type Store interface {
	// Register creates a session for meta and returns its live connection.
	// Fails with ErrSessionAlreadyExists if the ID is taken.
	Register(ctx context.Context, meta *Meta) (Connection, error)

	// Get resolves an existing session by ID.
	Get(ctx context.Context, id string) (Connection, error)

	// Unregister removes a session and closes its connection. Removing an
	// unknown ID is not an error.
	Unregister(ctx context.Context, id string) error

	// List returns the metadata of every live session.
	List(ctx context.Context) ([]*Meta, error)

	// Close shuts the store down, closing every live connection.
	Close() error
}

// queueCapacity bounds each session's outbound message queue. A slow or
// stalled client gets ErrQueueFull instead of blocking the dispatcher.
const queueCapacity = 100
