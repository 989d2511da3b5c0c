package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iwvelando/indirect-rates/internal/config"
	"github.com/iwvelando/indirect-rates/internal/server"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	flagServerConfig string
	flagAddress      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the forecast API over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServerConfig, "server-config", constants.DefaultServerConfigFile, "path to server configuration file")
	serveCmd.Flags().StringVar(&flagAddress, "address", "", "listen address override")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	serverConf, err := server.LoadConfig(flagServerConfig)
	if err != nil {
		return err
	}
	if flagAddress != "" {
		serverConf.Address = flagAddress
	}

	logger, err := initializeLogger(serverConf.Logging, flagLogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	defaults := config.Default()
	if serverConf.RunConfig != "" {
		defaults, err = config.LoadConfiguration(serverConf.RunConfig)
		if err != nil {
			return fmt.Errorf("failed to load run configuration at %s: %w", serverConf.RunConfig, err)
		}
	}

	registry := prometheus.NewRegistry()
	opts := serverConf.Options(version, defaults)
	opts.Registerer = registry
	opts.Gatherer = registry
	srv := &http.Server{
		Addr:              serverConf.Address,
		Handler:           server.NewHandler(logger, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting",
			zap.String("op", "main"),
			zap.String("addr", serverConf.Address),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down HTTP server",
		zap.String("op", "main"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}
