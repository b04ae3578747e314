package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-vdev/internal/api"
	"github.com/nerrad567/gray-logic-vdev/internal/audit"
	"github.com/nerrad567/gray-logic-vdev/internal/automation"
	"github.com/nerrad567/gray-logic-vdev/internal/bus"
	"github.com/nerrad567/gray-logic-vdev/internal/chain"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-vdev/migrations"
)

// shutdownTimeout bounds how long in-flight runs get to settle after the
// shutdown signal.
const shutdownTimeout = 10 * time.Second

// datapointBus is what the service needs from either bus implementation.
type datapointBus interface {
	chain.Bus
	OnChange(h bus.ChangeHandler)
	Inject(target string, value any)
	Snapshot() map[string]any
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the virtual device service",
		Long: "Opens the database, connects the state bus and serves the REST API " +
			"until interrupted. In-flight chains are aborted on shutdown.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.ConfigPath)
		},
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic vdevd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	db, err := database.Open(cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry, optionally seeded from YAML
	runRepo := automation.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	registry := automation.NewRegistry(runRepo, chainLimits(cfg))
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	if cfg.Chains.SeedFile != "" {
		result, importErr := registry.ImportYAML(ctx, cfg.Chains.SeedFile)
		if importErr != nil {
			return fmt.Errorf("importing seed file: %w", importErr)
		}
		recordImport(ctx, auditRepo, log, cfg.Chains.SeedFile, result)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// State bus: MQTT in production, an in-process echo bus in dev mode
	var (
		stateBus   datapointBus
		mqttClient *mqtt.Client
	)
	if cfg.Chains.DevMode {
		stateBus = bus.NewMemory()
		log.Warn("dev mode: using in-process state bus, no datapoints will be driven")
	} else {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		mqttBus := bus.NewMQTT(mqttClient,
			bus.WithLogger(log),
			bus.WithSource(cfg.MQTT.Broker.ClientID),
			bus.WithStateQoS(byte(cfg.MQTT.QoS)), //nolint:gosec // validated 0-2 by config
		)
		if startErr := mqttBus.Start(); startErr != nil {
			return fmt.Errorf("starting state bus: %w", startErr)
		}
		defer func() {
			if stopErr := mqttBus.Stop(); stopErr != nil {
				log.Error("error stopping state bus", "error", stopErr)
			}
		}()
		stateBus = mqttBus
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

	// Prometheus registry for /metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := automation.NewMetrics(promRegistry)

	// Hub outlives the API server so settle events during shutdown still go out.
	hub := api.NewHub(cfg.WebSocket, log)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	controllerOpts := []automation.ControllerOption{
		automation.WithHub(hub),
		automation.WithMetrics(metrics),
		automation.WithControllerLogger(log),
		automation.WithStateTimeout(cfg.GetDefaultStateTimeout()),
	}
	if mqttClient != nil {
		controllerOpts = append(controllerOpts, automation.WithEventPublisher(mqttClient))
	}
	if influxClient != nil {
		controllerOpts = append(controllerOpts, automation.WithTelemetry(influxClient))
	}
	controller := automation.NewController(registry, stateBus, runRepo, controllerOpts...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := controller.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("in-flight chains did not settle", "error", shutdownErr)
		}
	}()

	stateBus.OnChange(onDatapointChange(controller, hub, influxClient))

	// Dev mode reloads the seed file on change
	if cfg.Chains.DevMode && cfg.Chains.SeedFile != "" {
		watcher := automation.NewSeedWatcher(registry, cfg.Chains.SeedFile, log)
		watcher.OnImport(func(result automation.ImportResult, err error) {
			if err == nil {
				recordImport(ctx, auditRepo, log, cfg.Chains.SeedFile, result)
			}
		})
		go func() {
			if watchErr := watcher.Run(ctx); watchErr != nil {
				log.Warn("seed watcher stopped", "error", watchErr)
			}
		}()
	}

	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   registry,
		Controller: controller,
		Runs:       runRepo,
		Datapoints: stateBus,
		DB:         db,
		MQTT:       mqttClient,
		Gatherer:   promRegistry,
		Audit:      auditRepo,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", apiServer.Addr(),
		"dev_mode", cfg.Chains.DevMode,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Chain controller (aborts in-flight runs)
	// 3. WebSocket hub
	// 4. InfluxDB (if enabled)
	// 5. State bus and MQTT
	// 6. Database

	log.Info("Gray Logic vdevd stopped")
	return nil
}

// onDatapointChange fans a bus state change out to in-flight runs, WebSocket
// subscribers and telemetry. Runs on a watching bus also see the change
// through their own subscription; a wait settles once either way.
func onDatapointChange(controller *automation.Controller, hub automation.WSHub, influxClient *influxdb.Client) bus.ChangeHandler {
	return func(target string, value any) {
		controller.Notify(target, value)
		hub.Broadcast(api.ChannelDatapointChanged, map[string]any{
			"target": target,
			"value":  value,
		})
		if influxClient != nil {
			influxClient.WriteDatapoint(target, value)
		}
	}
}

// recordImport writes an audit entry for a seed file import.
func recordImport(ctx context.Context, repo audit.Repository, log *logging.Logger, path string, result automation.ImportResult) {
	err := repo.Create(ctx, &audit.Entry{
		Action:     audit.ActionImport,
		EntityType: audit.EntitySeedFile,
		EntityID:   path,
		Source:     "seed",
		Details:    map[string]any{"created": result.Created, "updated": result.Updated},
	})
	if err != nil {
		log.Warn("failed to record seed import", "path", path, "error", err)
	}
}

// chainLimits maps configuration onto registry limits.
func chainLimits(cfg *config.Config) automation.Limits {
	return automation.Limits{
		MaxSteps:   cfg.Chains.MaxSteps,
		MaxDelayMS: cfg.Chains.MaxDelayMS,
	}
}

// connectMQTT dials the broker and installs connection logging.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient is nil in dev mode and influxClient when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
