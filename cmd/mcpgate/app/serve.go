package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/gateway"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/notifier"
	"github.com/mcpgate/mcpgate/pkg/session"
	"github.com/mcpgate/mcpgate/pkg/template"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway: load configurations, build the runtime state, and serve
MCP traffic until interrupted. Configuration reloads arrive through the
notifier selected by the NOTIFIER_* environment variables.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout  = 30 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
	serverIdleTimeout       = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":5235", "Address to listen on")
	serveCmd.Flags().String("config-dir", "configs", "Directory of gateway configuration YAML files")
	serveCmd.Flags().String("session-store", "memory", "Session store backend (memory or redis)")
	serveCmd.Flags().String("session-redis-addr", "localhost:6379", "Redis address for the redis session store")
	serveCmd.Flags().String("session-redis-password", "", "Redis password for the redis session store")
	serveCmd.Flags().Int("session-redis-db", 0, "Redis database for the redis session store")

	for _, name := range []string{
		"address", "config-dir", "session-store",
		"session-redis-addr", "session-redis-password", "session-redis-db",
	} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			logger.Fatalf("Failed to bind %s flag: %v", name, err)
		}
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger.Initialize()
	ctx := context.Background()

	address := viper.GetString("address")
	configDir := viper.GetString("config-dir")

	store := config.NewFileStore(configDir)
	renderer, err := template.NewRenderer()
	if err != nil {
		return err
	}

	loader := gateway.NewStateLoader(store, renderer)
	if err := loader.Reload(ctx); err != nil {
		logger.Warnf("Initial load failed, starting with empty state: %v", err)
	}

	sessions, err := session.NewStore(session.Options{
		Type:          session.StoreType(viper.GetString("session-store")),
		RedisAddr:     viper.GetString("session-redis-addr"),
		RedisPassword: viper.GetString("session-redis-password"),
		RedisDB:       viper.GetInt("session-redis-db"),
	})
	if err != nil {
		return err
	}

	notifierOpts := notifier.OptionsFromEnv()
	if err := notifier.WritePIDFile(notifierOpts.Signal.PIDFile); err != nil {
		logger.Warnf("Failed to write pid file: %v", err)
	}
	defer func() {
		if err := notifier.RemovePIDFile(notifierOpts.Signal.PIDFile); err != nil {
			logger.Warnf("Failed to remove pid file: %v", err)
		}
	}()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	var updates notifier.Notifier
	if n, err := notifier.New(ctx, notifierOpts); err != nil {
		logger.Warnf("Notifier unavailable, config reloads disabled: %v", err)
	} else {
		updates = n
		if n.CanReceive() {
			go func() {
				if err := loader.WatchNotifier(watchCtx, n); err != nil && !errors.Is(err, context.Canceled) {
					logger.Errorf("Notifier watch stopped: %v", err)
				}
			}()
		}
	}

	server := &http.Server{
		Addr:              address,
		Handler:           gateway.NewServer(loader, sessions).Handler(),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
		// No write timeout: SSE streams stay open for the client's lifetime.
	}

	go func() {
		logger.Infof("Gateway listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down gateway...")

	cancelWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if updates != nil {
		if err := updates.Close(); err != nil {
			logger.Warnf("Failed to close notifier: %v", err)
		}
	}
	if err := sessions.Close(); err != nil {
		logger.Warnf("Failed to close session store: %v", err)
	}
	loader.Close(shutdownCtx)

	logger.Info("Gateway shutdown complete")
	return nil
}
