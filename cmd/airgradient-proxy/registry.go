package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/config"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/database"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/puller"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/puller/airgradient"
)

// newPullerRegistry registers every supported sensor type for the configured host
func newPullerRegistry(cfg config.Config, logger *slog.Logger) *puller.PullerRegistry {
	registry := puller.NewPullerRegistry()
	registry.Register(airgradient.NewClient(cfg.Hostname, cfg.Port,
		airgradient.WithTimeout(cfg.Timeout()),
		airgradient.WithLongRead(cfg.LongRead()),
		airgradient.WithLogger(logger.With("provider", airgradient.ProviderType)),
	))
	return registry
}

// selectPuller returns the puller for the configured sensor type
func selectPuller(cfg config.Config, logger *slog.Logger) (puller.Puller, error) {
	registry := newPullerRegistry(cfg, logger)
	p, ok := registry.Get(cfg.SensorType)
	if !ok {
		return nil, &config.ConfigurationError{
			Key:    "sensor-type",
			Reason: fmt.Sprintf("unknown sensor type %q, supported: %s", cfg.SensorType, strings.Join(registry.Types(), ", ")),
		}
	}
	return p, nil
}

// databaseConfig maps the proxy configuration onto the store configuration
func databaseConfig(cfg config.Config, logger *slog.Logger) database.Config {
	return database.Config{
		Driver: cfg.DatabaseDriver,
		File:   cfg.DatabaseFile,
		URL:    cfg.DatabaseURL,
		Logger: logger,
	}
}
