// IoTFlow Core - Device Telemetry Platform
//
// This is the main entry point for the IoTFlow Core application, the
// storage and query layer for multi-tenant device telemetry:
//   - Typed time-series storage over InfluxDB or SQLite
//   - MQTT ingestion from tenant-scoped device topics
//   - TTL-based device status tracking with durable projection
//   - REST API for dashboards and automation clients
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/iotflow/iotflow-core/migrations"

	"github.com/iotflow/iotflow-core/internal/api"
	"github.com/iotflow/iotflow-core/internal/infrastructure/config"
	"github.com/iotflow/iotflow-core/internal/infrastructure/database"
	"github.com/iotflow/iotflow-core/internal/infrastructure/logging"
	"github.com/iotflow/iotflow-core/internal/infrastructure/mqtt"
	"github.com/iotflow/iotflow-core/internal/ingest"
	"github.com/iotflow/iotflow-core/internal/observability/metrics"
	"github.com/iotflow/iotflow-core/internal/status"
	"github.com/iotflow/iotflow-core/internal/telemetry"
	"github.com/iotflow/iotflow-core/internal/telemetry/influx"
	"github.com/iotflow/iotflow-core/internal/telemetry/sqlitestore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting IoTFlow Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Register Prometheus collectors
	m := metrics.New(prometheus.DefaultRegisterer)

	// Select telemetry backend
	backend, err := openBackend(cfg, db, log)
	if err != nil {
		return fmt.Errorf("opening telemetry backend: %w", err)
	}
	m.SetBackendAvailable(backend.Available())
	defer func() {
		log.Info("closing telemetry backend")
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing telemetry backend", "error", closeErr)
		}
	}()

	// Telemetry service
	svc := telemetry.NewService(backend, telemetry.Config{
		Namespace:   telemetry.Namespace{Database: cfg.Telemetry.Namespace},
		Passthrough: cfg.Telemetry.Passthrough,
	})
	svc.SetLogger(log.With("component", "telemetry"))
	svc.SetRecorder(m)

	// Device status cache with durable projection
	var repo status.Repository
	if cfg.Status.SyncEnabled {
		repo = status.NewSQLiteRepository(db.DB)
	}
	cache := status.NewCache(repo, cfg.Status.TTL)
	cache.SetLogger(log.With("component", "status"))
	cache.SetRecorder(m)

	// Offline tracker
	tracker := status.NewTracker(cache, cfg.Status.SweepInterval, cfg.Status.OfflineThreshold)
	tracker.SetLogger(log.With("component", "status"))
	go tracker.Run(ctx)

	// MQTT ingestion (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(discErr error) {
			log.Warn("MQTT disconnected", "error", discErr)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		consumer := ingest.NewConsumer(mqttClient, svc, cache, byte(cfg.MQTT.QoS))
		consumer.SetLogger(log.With("component", "ingest"))
		consumer.SetRecorder(m)
		if startErr := consumer.Start(); startErr != nil {
			return fmt.Errorf("starting telemetry ingestion: %w", startErr)
		}
		defer func() {
			if stopErr := consumer.Stop(); stopErr != nil {
				log.Warn("error stopping ingestion", "error", stopErr)
			}
		}()
	} else {
		log.Info("MQTT ingestion disabled")
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Logger:    log.With("component", "api"),
		Telemetry: svc,
		Status:    cache,
		Metrics:   promhttp.Handler(),
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("IoTFlow Core stopped")
	return nil
}

// openBackend selects the configured time-series backend.
//
// When InfluxDB is selected but unreachable (or disabled in config), the
// service comes up with the backend marked unavailable rather than failing
// startup: reads degrade to empty results and writes report false, which is
// the degraded mode tenants already handle.
func openBackend(cfg *config.Config, db *database.DB, log *logging.Logger) (telemetry.Backend, error) {
	switch cfg.Telemetry.Backend {
	case "influxdb":
		backend, err := influx.Connect(cfg.InfluxDB)
		switch {
		case errors.Is(err, influx.ErrDisabled):
			log.Warn("InfluxDB disabled in config, telemetry storage unavailable")
			return influx.Unavailable(), nil
		case err != nil:
			log.Warn("InfluxDB unreachable, telemetry storage unavailable", "error", err)
			return influx.Unavailable(), nil
		}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		return backend, nil
	case "sqlite":
		log.Info("SQLite telemetry backend selected", "path", cfg.Database.Path)
		return sqlitestore.New(db.DB), nil
	default:
		return nil, fmt.Errorf("unknown telemetry backend %q", cfg.Telemetry.Backend)
	}
}

// getConfigPath returns the configuration file path.
// Uses IOTFLOW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOTFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
