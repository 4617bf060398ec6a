package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/config"
)

func newRedisNotifier(t *testing.T, mr *miniredis.Miniredis, role Role) *RedisNotifier {
	t.Helper()
	n, err := NewRedisNotifier(context.Background(), RedisConfig{
		Addr:  mr.Addr(),
		Topic: "test_config_updates",
	}, role)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestRedisNotifierConnectFailure(t *testing.T) {
	t.Parallel()

	_, err := NewRedisNotifier(context.Background(), RedisConfig{
		Addr:  "127.0.0.1:1",
		Topic: "t",
	}, RoleBoth)
	assert.Error(t, err)
}

func TestRedisNotifierRoleGating(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	sender := newRedisNotifier(t, mr, RoleSender)
	_, err := sender.Watch(context.Background())
	assert.ErrorIs(t, err, ErrCannotReceive)

	receiver := newRedisNotifier(t, mr, RoleReceiver)
	assert.ErrorIs(t, receiver.Notify(context.Background(), nil), ErrCannotSend)
}

func TestRedisNotifierRoundTrip(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	receiver := newRedisNotifier(t, mr, RoleReceiver)
	sender := newRedisNotifier(t, mr, RoleSender)

	ch, err := receiver.Watch(context.Background())
	require.NoError(t, err)

	cfg := &config.Config{Name: "demo", Tenant: "acme"}
	var got *config.Config
	require.Eventually(t, func() bool {
		require.NoError(t, sender.Notify(context.Background(), cfg))
		select {
		case got = <-ch:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	require.NotNil(t, got)
	assert.Equal(t, "acme/demo", got.Key())
}

func TestRedisNotifierReloadSignal(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	receiver := newRedisNotifier(t, mr, RoleReceiver)
	sender := newRedisNotifier(t, mr, RoleSender)

	ch, err := receiver.Watch(context.Background())
	require.NoError(t, err)

	received := false
	require.Eventually(t, func() bool {
		require.NoError(t, sender.Notify(context.Background(), nil))
		select {
		case cfg := <-ch:
			assert.Nil(t, cfg)
			received = true
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.True(t, received)
}

func TestRedisNotifierMalformedPayloadDropped(t *testing.T) {
	t.Parallel()

	n := &RedisNotifier{role: RoleReceiver}
	ch, err := n.watchers.add()
	require.NoError(t, err)

	n.handlePayload("{not json")
	assert.Empty(t, ch)

	n.handlePayload(`{"name":"demo","tenant":"acme"}`)
	got := <-ch
	require.NotNil(t, got)
	assert.Equal(t, "acme/demo", got.Key())
}

func TestSplitAddrs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"localhost:6379", []string{"localhost:6379"}},
		{"a:1,b:2", []string{"a:1", "b:2"}},
		{"a:1; b:2 ,c:3", []string{"a:1", "b:2", "c:3"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitAddrs(tt.in), "input %q", tt.in)
	}
}

func TestRedisNotifierClose(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	n, err := NewRedisNotifier(context.Background(), RedisConfig{
		Addr:  mr.Addr(),
		Topic: "t",
	}, RoleBoth)
	require.NoError(t, err)

	ch, err := n.Watch(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.Close())

	_, ok := <-ch
	assert.False(t, ok)
}
