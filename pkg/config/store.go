package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcpgate/mcpgate/pkg/logger"
)

// Store is the read side of the admin configuration store. The state loader
// is its only consumer; writes happen through the external admin surface.
type Store interface {
	// List returns every active Config, ordered by (tenant, name).
	List(ctx context.Context) ([]*Config, error)
}

// FileStore reads Configs from a directory of YAML files, one Config per
// file. Files that fail to parse or validate are skipped with a warning so a
// single bad config cannot take the gateway dark.
type FileStore struct {
	dir string
}

// NewFileStore creates a store over the given directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]*Config, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config dir %s: %w", s.dir, err)
	}

	var configs []*Config
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		cfg, err := loadFile(path)
		if err != nil {
			logger.Warnw("skipping invalid config file", "path", path, "error", err)
			continue
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool {
		return configs[i].Key() < configs[j].Key()
	})
	return configs, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StaticStore serves a fixed list of Configs. Used by tests and by the
// notifier path that carries a full Config payload inline.
type StaticStore struct {
	Configs []*Config
}

// List implements Store.
func (s *StaticStore) List(_ context.Context) ([]*Config, error) {
	return s.Configs, nil
}
