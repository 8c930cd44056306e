// Command inventory-agent runs the inventory sync client on a device and
// exposes it over a local HTTP API.
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

	"github.com/rzpsarthak13/inventory-sync/internal/logging"
	"github.com/rzpsarthak13/inventory-sync/pkg/inventorysync"
)

func main() {
	configPath := flag.String("config", os.Getenv("INVENTORY_SYNC_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "inventory-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load configuration: defaults, then file, then INVENTORY_SYNC_* variables
	config, err := inventorysync.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(config.Logging.Level, config.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Create the client; this restores the persisted queue
	client, err := inventorysync.NewClient(ctx, config, inventorysync.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	// 3. Start probing, token refresh and background retries
	if err := client.Start(ctx); err != nil {
		return err
	}
	logger.Infow("client started",
		"kvstore", config.KVStore.Type,
		"organization_id", config.Remote.OrganizationID,
		"pending", len(client.PendingQueue()),
		"online", client.Online())

	// 4. Serve the local API
	if !config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:    config.Server.ListenAddr,
		Handler: newRouter(client, logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", config.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
