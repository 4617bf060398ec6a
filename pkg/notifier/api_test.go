package notifier

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestAPINotifierRoundTrip(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	receiver := NewAPINotifier(APIConfig{Port: port}, RoleReceiver)
	defer receiver.Close()

	ch, err := receiver.Watch(context.Background())
	require.NoError(t, err)

	sender := NewAPINotifier(APIConfig{
		TargetURL: fmt.Sprintf("http://127.0.0.1:%d", port),
	}, RoleSender)
	defer sender.Close()

	cfg := &config.Config{Name: "demo", Tenant: "acme"}
	require.Eventually(t, func() bool {
		return sender.Notify(context.Background(), cfg) == nil
	}, 5*time.Second, 50*time.Millisecond)

	select {
	case got := <-ch:
		require.NotNil(t, got)
		assert.Equal(t, "acme/demo", got.Key())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestAPINotifierReloadSignal(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	receiver := NewAPINotifier(APIConfig{Port: port}, RoleReceiver)
	defer receiver.Close()

	ch, err := receiver.Watch(context.Background())
	require.NoError(t, err)

	sender := NewAPINotifier(APIConfig{
		TargetURL: fmt.Sprintf("http://127.0.0.1:%d%s", port, reloadPath),
	}, RoleSender)
	defer sender.Close()

	require.Eventually(t, func() bool {
		return sender.Notify(context.Background(), nil) == nil
	}, 5*time.Second, 50*time.Millisecond)

	select {
	case got := <-ch:
		assert.Nil(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload signal")
	}
}

func TestAPINotifierRejectsBadPayload(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	receiver := NewAPINotifier(APIConfig{Port: port}, RoleReceiver)
	defer receiver.Close()

	_, err := receiver.Watch(context.Background())
	require.NoError(t, err)

	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, reloadPath)
	var resp *http.Response
	require.Eventually(t, func() bool {
		var postErr error
		resp, postErr = http.Post(url, "application/json", strings.NewReader("{not json"))
		return postErr == nil
	}, 5*time.Second, 50*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPINotifierRoleGating(t *testing.T) {
	t.Parallel()

	sender := NewAPINotifier(APIConfig{TargetURL: "http://127.0.0.1:1"}, RoleSender)
	defer sender.Close()
	_, err := sender.Watch(context.Background())
	assert.ErrorIs(t, err, ErrCannotReceive)

	receiver := NewAPINotifier(APIConfig{Port: freePort(t)}, RoleReceiver)
	defer receiver.Close()
	assert.ErrorIs(t, receiver.Notify(context.Background(), nil), ErrCannotSend)
}

func TestAPINotifierMissingTarget(t *testing.T) {
	t.Parallel()

	sender := NewAPINotifier(APIConfig{}, RoleSender)
	defer sender.Close()
	assert.Error(t, sender.Notify(context.Background(), nil))
}
