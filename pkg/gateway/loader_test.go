package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/template"
)

type failingStore struct{}

func (failingStore) List(context.Context) ([]*config.Config, error) {
	return nil, errors.New("store is down")
}

func TestStateLoaderReload(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Name:   "demo",
		Tenant: "t",
		Routers: []config.Router{
			{Prefix: "/t/a", Server: "s1"},
		},
		HTTPServers: []config.HTTPServer{
			{Name: "s1", URL: "http://upstream", Tools: nil},
		},
	}
	require.NoError(t, cfg.Validate())

	renderer, err := template.NewRenderer()
	require.NoError(t, err)

	loader := NewStateLoader(&config.StaticStore{Configs: []*config.Config{cfg}}, renderer)
	assert.Empty(t, loader.Current().Prefixes())

	require.NoError(t, loader.Reload(context.Background()))
	assert.Equal(t, []string{"/t/a"}, loader.Current().Prefixes())
}

func TestStateLoaderKeepsStateOnFailure(t *testing.T) {
	t.Parallel()

	renderer, err := template.NewRenderer()
	require.NoError(t, err)

	loader := NewStateLoader(failingStore{}, renderer)
	before := loader.Current()

	require.Error(t, loader.Reload(context.Background()))
	assert.Same(t, before, loader.Current())
}
