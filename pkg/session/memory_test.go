package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta(id string) *Meta {
	return &Meta{
		ID:        id,
		CreatedAt: time.Now(),
		Prefix:    "/acme/demo",
		Type:      TypeSSE,
		Request: &RequestInfo{
			Headers: map[string]string{"authorization": "Bearer tok"},
		},
	}
}

func TestMemoryStoreRegisterAndGet(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	conn, err := store.Register(ctx, testMeta("s1"))
	require.NoError(t, err)
	assert.Equal(t, "s1", conn.Meta().ID)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, conn, got)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreDuplicateID(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	_, err := store.Register(ctx, testMeta("dup"))
	require.NoError(t, err)

	_, err = store.Register(ctx, testMeta("dup"))
	assert.ErrorIs(t, err, ErrSessionAlreadyExists)
}

func TestMemoryStoreSendAndReceive(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	conn, err := store.Register(ctx, testMeta("s1"))
	require.NoError(t, err)

	require.NoError(t, conn.Send(ctx, &Message{Event: "message", Data: "hello"}))

	select {
	case msg := <-conn.Messages():
		assert.Equal(t, "message", msg.Event)
		assert.Equal(t, "hello", msg.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryStoreQueueFull(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	conn, err := store.Register(ctx, testMeta("slow"))
	require.NoError(t, err)

	for i := 0; i < queueCapacity; i++ {
		require.NoError(t, conn.Send(ctx, &Message{Event: "message", Data: fmt.Sprintf("%d", i)}))
	}
	assert.ErrorIs(t, conn.Send(ctx, &Message{Event: "message", Data: "overflow"}), ErrQueueFull)
}

func TestMemoryStoreUnregister(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	conn, err := store.Register(ctx, testMeta("s1"))
	require.NoError(t, err)

	require.NoError(t, store.Unregister(ctx, "s1"))

	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, conn.Send(ctx, &Message{Data: "x"}), ErrConnectionClosed)

	// Unknown IDs are a no-op.
	assert.NoError(t, store.Unregister(ctx, "never-existed"))
}

func TestMemoryStoreList(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	metas, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)

	_, err = store.Register(ctx, testMeta("a"))
	require.NoError(t, err)
	_, err = store.Register(ctx, testMeta("b"))
	require.NoError(t, err)

	metas, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)

	// Unregistering returns the store to its prior size.
	require.NoError(t, store.Unregister(ctx, "b"))
	metas, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "a", metas[0].ID)
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	_, err := store.Register(context.Background(), testMeta("s1"))
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
