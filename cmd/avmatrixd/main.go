// AVGear Matrix Bridge
//
// This is the main entry point for the matrix bridge daemon. It owns a
// persistent TCP session to one AVGear HDMI matrix switcher and exposes
// the device over MQTT, a REST API and WebSocket streaming, with an
// optional SQLite change journal and InfluxDB telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/avgear-matrix/migrations"

	"github.com/nerrad567/avgear-matrix/internal/api"
	"github.com/nerrad567/avgear-matrix/internal/bridge"
	"github.com/nerrad567/avgear-matrix/internal/history"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/config"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/database"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/influxdb"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/logging"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/mqtt"
	"github.com/nerrad567/avgear-matrix/internal/matrix"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
	log.Info("starting AVGear matrix bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	// Open the change journal database (optional)
	var journal *history.Journal
	if cfg.History.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening history database: %w", openErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()
		log.Info("history database connected", "path", cfg.History.Path)

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		journal = history.NewJournal(db)

		if cfg.History.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
			pruned, pruneErr := journal.Prune(ctx, cutoff)
			if pruneErr != nil {
				log.Warn("pruning journal failed", "error", pruneErr)
			} else if pruned > 0 {
				log.Info("journal pruned", "removed", pruned, "retention_days", cfg.History.RetentionDays)
			}
		}
	} else {
		log.Info("history journal disabled")
	}

	// Create the device controller
	controller := matrix.NewController(matrix.Config{
		DeviceID:              cfg.Device.ID,
		Host:                  cfg.Device.Host,
		Port:                  cfg.Device.Port,
		Inputs:                cfg.Device.Inputs,
		Outputs:               cfg.Device.Outputs,
		ConnectTimeout:        cfg.Device.GetConnectTimeout(),
		CommandTimeout:        cfg.Device.GetCommandTimeout(),
		CommandRetries:        cfg.Device.CommandRetries,
		CommandDelay:          cfg.Device.GetCommandDelay(),
		Quiescence:            cfg.Device.GetQuiescence(),
		PollInterval:          cfg.Device.GetPollInterval(),
		AuxPollEvery:          cfg.Device.AuxPollEvery,
		FailureThreshold:      cfg.Device.FailureThreshold,
		ReconnectInitialDelay: time.Duration(cfg.Device.ReconnectInitialDelay) * time.Second,
		ReconnectMaxDelay:     time.Duration(cfg.Device.ReconnectMaxDelay) * time.Second,
	}, log)

	// Restore persisted preset names before the first snapshot goes out
	if journal != nil {
		names, loadErr := journal.LoadPresetNames(ctx, cfg.Device.ID)
		if loadErr != nil {
			log.Warn("loading preset names failed", "error", loadErr)
		}
		for slot, name := range names {
			if nameErr := controller.SetPresetName(slot, name); nameErr != nil {
				log.Warn("restoring preset name failed", "slot", slot, "error", nameErr)
			}
		}
	}

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("connecting to matrix: %w", err)
	}
	defer func() {
		log.Info("stopping device controller")
		controller.Stop()
	}()
	log.Info("matrix connected",
		"device_id", cfg.Device.ID,
		"address", fmt.Sprintf("%s:%d", cfg.Device.Host, cfg.Device.Port),
	)

	// Record state changes to the journal
	if journal != nil {
		recorder := history.NewRecorder(journal, log)
		_, snapshots := controller.Subscribe()
		go recorder.Run(ctx, snapshots)
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the MQTT broker and start the bridge (optional)
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
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge, bridgeErr := bridge.New(bridge.Config{
			DeviceID:       cfg.Device.ID,
			CommandTimeout: cfg.Device.GetCommandTimeout() * time.Duration(cfg.Device.CommandRetries+2),
		}, controller, mqttClient, log, influxClient, journal)
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Start the HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Controller: controller,
		DeviceID:   cfg.Device.ID,
		Journal:    journal,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. MQTT bridge, then the MQTT client
	// 3. InfluxDB (if enabled)
	// 4. Device controller
	// 5. History database (if enabled)

	log.Info("AVGear matrix bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AVMATRIX_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AVMATRIX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
