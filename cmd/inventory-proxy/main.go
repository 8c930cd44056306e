// Command inventory-proxy serves the backend endpoints of the inventory
// front end: API pass-through, inventory operations with per-user history and
// the OAuth token exchange.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rzpsarthak13/inventory-sync/internal/database"
	// Registers the kvstore config validators used by the config manager.
	_ "github.com/rzpsarthak13/inventory-sync/internal/kvstore"
	"github.com/rzpsarthak13/inventory-sync/internal/logging"
	"github.com/rzpsarthak13/inventory-sync/internal/proxy"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

func main() {
	configPath := flag.String("config", os.Getenv("INVENTORY_SYNC_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "inventory-proxy: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	configMgr := registry.NewConfigManager()
	if configPath != "" {
		if err := configMgr.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := configMgr.LoadFromEnv(); err != nil {
		return err
	}
	config := configMgr.GetConfig()

	logger, err := logging.New(config.Logging.Level, config.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := proxy.Options{Registry: reg, Logger: logger.Named("proxy")}
	if h := config.Proxy.History; h.Enabled {
		recorder, err := database.NewMySQLHistoryRecorder(database.MySQLConfig{
			Host:              h.Host,
			Port:              h.Port,
			Database:          h.Database,
			Username:          h.Username,
			Password:          h.Password,
			Table:             h.Table,
			MaxOpenConns:      h.MaxOpenConns,
			MaxIdleConns:      h.MaxIdleConns,
			ConnMaxLifetime:   h.ConnMaxLifetime,
			ConnMaxIdleTime:   h.ConnMaxIdleTime,
			ConnectionTimeout: h.ConnectionTimeout,
		}, logger.Named("history"))
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer recorder.Close()
		opts.History = recorder
	} else {
		logger.Warnw("history database disabled, inventory operations will not be recorded")
	}

	server, err := proxy.NewServer(proxy.Config{
		InventoryBaseURL: config.Proxy.InventoryBaseURL,
		AccountsTokenURL: config.Proxy.AccountsTokenURL,
		ClientID:         config.Proxy.ClientID,
		ClientSecret:     config.Proxy.ClientSecret,
		PrincipalHeader:  config.Proxy.PrincipalHeader,
		UpstreamTimeout:  config.Proxy.UpstreamTimeout,
	}, opts)
	if err != nil {
		return err
	}

	if !config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{Addr: config.Server.ListenAddr, Handler: server.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", config.Server.ListenAddr, "upstream", config.Proxy.InventoryBaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
