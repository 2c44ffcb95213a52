package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/config"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/database"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/metrics"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/publisher"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/puller"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/sanity"
)

var serveCmd = &cobra.Command{
	Use:   "serve [pidfile]",
	Short: "Poll the sensor and serve the read API",
	Long: `Start polling the configured sensor, write current, two-minute and
archive records to the database and serve them over HTTP. When a pidfile is
given, the process id is written to it and removed on exit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if len(args) == 1 {
		if err := writePidfile(args[0]); err != nil {
			return err
		}
		defer os.Remove(args[0])
	}

	ctx := cmd.Context()
	m := metrics.New()

	p, err := selectPuller(cfg, logger)
	if err != nil {
		return err
	}

	dbCfg := databaseConfig(cfg, logger.With("component", "store"))
	writer, err := database.OpenOrCreate(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer writer.Close()

	reader, err := database.OpenReader(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open read-only database: %w", err)
	}
	defer reader.Close()

	opts := []puller.Option{
		puller.WithLogger(logger.With("component", "scheduler")),
		puller.WithMetrics(m),
		puller.WithChecker(sanity.New(sanity.WithLogger(logger))),
		puller.WithOffset(cfg.PollOffset()),
	}

	if cfg.MQTT.Broker != "" {
		pub, err := publisher.Connect(mqttConfig(cfg), logger.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer pub.Close()
		opts = append(opts, puller.WithPublisher(pub))
	}

	service, err := puller.NewService(p, writer, cfg.PollInterval(), cfg.ArchiveInterval(), opts...)
	if err != nil {
		return err
	}

	routeManager := NewRouteManager(reader, m, cfg.AllowedOrigins, logger.With("component", "http"))
	routeManager.Setup()

	addr := net.JoinHostPort("", strconv.Itoa(cfg.ServerPort))
	server := &http.Server{
		Handler:      routeManager.Handler(),
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	service.Start(ctx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", addr, "sensor", p.GetProviderType(), "store", writer.Driver(),
			"poll", cfg.PollInterval(), "archive", cfg.ArchiveInterval())
		serverErr <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err = <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
	}

	service.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("Server shutdown error", "error", shutdownErr)
	}

	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func mqttConfig(cfg config.Config) publisher.Config {
	return publisher.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
	}
}

func writePidfile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	return nil
}
