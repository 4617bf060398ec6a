package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Name:   "demo",
		Tenant: "acme",
		Routers: []Router{
			{Prefix: "/acme/demo", Server: "s1"},
		},
		HTTPServers: []HTTPServer{
			{Name: "s1", URL: "http://upstream", Tools: []string{"echo"}},
		},
		Tools: []Tool{
			{Name: "echo", Method: "POST", Path: "{{config.url}}/echo"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "missing tenant",
			mutate:  func(c *Config) { c.Tenant = "" },
			wantErr: "tenant is required",
		},
		{
			name:    "dangling router reference",
			mutate:  func(c *Config) { c.Routers[0].Server = "nope" },
			wantErr: "unknown server",
		},
		{
			name:    "relative prefix",
			mutate:  func(c *Config) { c.Routers[0].Prefix = "acme/demo" },
			wantErr: "must start with /",
		},
		{
			name: "unknown server type",
			mutate: func(c *Config) {
				c.Servers = append(c.Servers, MCPServer{Name: "m1", Type: "grpc"})
			},
			wantErr: "unknown type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestCheckTenantPrefix(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	assert.NoError(t, cfg.CheckTenantPrefix("/acme"))
	assert.NoError(t, cfg.CheckTenantPrefix("acme/")) // normalized

	cfg.Routers[0].Prefix = "/acme"
	assert.NoError(t, cfg.CheckTenantPrefix("/acme"), "router at tenant root is allowed")

	cfg.Routers[0].Prefix = "/acmeother/x"
	assert.ErrorContains(t, cfg.CheckTenantPrefix("/acme"), "escapes tenant prefix")
}

func TestFileStoreList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := `
name: demo
tenant: acme
routers:
  - prefix: /acme/demo
    server: s1
http_servers:
  - name: s1
    url: http://upstream
    tools: [echo]
tools:
  - name: echo
    method: POST
    path: "{{config.url}}/echo"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(good), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{not yaml"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	store := NewFileStore(dir)
	configs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1, "invalid and non-yaml files are skipped")

	cfg := configs[0]
	assert.Equal(t, "demo", cfg.Name)
	assert.Equal(t, "acme", cfg.Tenant)
	require.Len(t, cfg.Routers, 1)
	assert.Equal(t, "/acme/demo", cfg.Routers[0].Prefix)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "{{config.url}}/echo", cfg.Tools[0].Path)
}

func TestFileStoreMissingDir(t *testing.T) {
	t.Parallel()

	store := NewFileStore("/definitely/not/here")
	_, err := store.List(context.Background())
	assert.Error(t, err)
}
