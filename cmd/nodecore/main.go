// Kaiser Node Core - Field Node Runtime
//
// This is the main entry point for a Kaiser Home field node. The node
// owns the hardware end of the platform:
//   - Safety-first GPIO ownership (every pin safe before anything runs)
//   - Sensor sampling and actuator control over MQTT
//   - Emergency stop with staged, verified resume
//   - Offline-first operation with bounded reconnect backoff
//
// The process is deliberately restartable: a commanded restart or
// configuration reset exits so the supervisor relaunches it through the
// full boot sequence.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	_ "github.com/kaiser-home/nodecore/migrations"

	"github.com/kaiser-home/nodecore/internal/actuator"
	"github.com/kaiser-home/nodecore/internal/addressing"
	"github.com/kaiser-home/nodecore/internal/audit"
	"github.com/kaiser-home/nodecore/internal/enrichment"
	"github.com/kaiser-home/nodecore/internal/gpio"
	"github.com/kaiser-home/nodecore/internal/infrastructure/config"
	"github.com/kaiser-home/nodecore/internal/infrastructure/database"
	"github.com/kaiser-home/nodecore/internal/infrastructure/logging"
	"github.com/kaiser-home/nodecore/internal/infrastructure/mqtt"
	"github.com/kaiser-home/nodecore/internal/node"
	"github.com/kaiser-home/nodecore/internal/resilience"
	"github.com/kaiser-home/nodecore/internal/store"
	"github.com/kaiser-home/nodecore/internal/telemetry"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	switch {
	case errors.Is(err, node.ErrRestartRequested):
		// A commanded restart exits non-zero so the supervisor
		// relaunches the binary through the full boot sequence.
		fmt.Fprintln(os.Stderr, "restart requested, exiting for relaunch")
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It wires the infrastructure bottom-up (database, GPIO, broker transport,
// optional telemetry and enrichment) and then hands control to the agent
// loop until the context is cancelled or a restart is requested.
//
// Returns:
//   - error: nil on clean shutdown, node.ErrRestartRequested on a
//     commanded restart, or an error describing a wiring failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Kaiser Node Core",
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
	log.Info("configuration loaded", "path", configPath, "node_id", cfg.Node.ID)

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
	applied, pending, statusErr := db.GetMigrationStatus(ctx)
	if statusErr != nil {
		return fmt.Errorf("checking migration status: %w", statusErr)
	}
	log.Info("database migrations complete",
		"applied", len(applied),
		"pending", len(pending),
	)

	// Persistence: node state store and safety audit trail share the
	// SQLite handle.
	stateStore := store.New(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Open the GPIO character device
	driver, err := gpio.NewCdevDriver(cfg.Hardware.Chip)
	if err != nil {
		return fmt.Errorf("opening gpio chip %q: %w", cfg.Hardware.Chip, err)
	}
	defer func() {
		log.Info("closing gpio chip")
		if closeErr := driver.Close(); closeErr != nil {
			log.Error("error closing gpio chip", "error", closeErr)
		}
	}()
	log.Info("gpio chip opened",
		"chip", cfg.Hardware.Chip,
		"variant", cfg.Hardware.Variant,
		"pins", cfg.Hardware.PinCount,
	)

	// Safety layer: every non-reserved pin goes to high-impedance input
	// before anything else touches the hardware, and again on the way out.
	safety, err := gpio.NewSafetyManager(driver, cfg.Hardware.PinCount, cfg.Hardware.ReservedPins)
	if err != nil {
		return fmt.Errorf("creating safety manager: %w", err)
	}
	safety.SetLogger(log)
	if err := safety.InitializeAllSafe("process start"); err != nil {
		return fmt.Errorf("initialising pins to safe state: %w", err)
	}
	defer func() {
		if safeErr := safety.ForceAllSafe("process shutdown"); safeErr != nil {
			log.Error("error forcing pins safe on shutdown", "error", safeErr)
		}
	}()
	log.Info("all pins initialised safe", "reserved", cfg.Hardware.ReservedPins)

	// Record the effective reserved set so diagnostics and later boots can
	// detect a changed hardware profile.
	if saveErr := stateStore.SaveReservedPins(ctx, cfg.Hardware.ReservedPins); saveErr != nil {
		log.Warn("persisting reserved pin set", "error", saveErr)
	}

	// Actuator controller with resume pacing from config
	actuators, err := actuator.NewController(safety, driver, actuator.ResumeConfig{
		InterActuatorDelay: cfg.Safety.InterActuatorDelay(),
		MaxRetryAttempts:   cfg.Safety.MaxRetryAttempts,
		RetryDelay:         cfg.Safety.VerifyRetryDelay(),
		CriticalFirst:      cfg.Safety.CriticalFirst,
	}, resilience.SystemClock(), log)
	if err != nil {
		return fmt.Errorf("creating actuator controller: %w", err)
	}
	if regErr := registerStoredActuators(ctx, stateStore, actuators, log); regErr != nil {
		return fmt.Errorf("restoring actuator configuration: %w", regErr)
	}

	// Topic builder for this node's address space
	builder, err := addressing.NewBuilder(cfg.Node.Root, cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("creating address builder: %w", err)
	}

	// Broker transport with a last-will OFFLINE status. The session
	// identifier ties the will payload to this boot; the agent connects
	// lazily once the network link is up.
	session := "ses-" + uuid.NewString()[:8]
	statusTopic, err := builder.SystemStatus()
	if err != nil {
		return fmt.Errorf("building status topic: %w", err)
	}
	transport := node.NewMQTTTransport(cfg.MQTT, &mqtt.Will{
		Topic:    statusTopic,
		Payload:  node.OfflineStatus(cfg.Node.ID, session),
		QoS:      byte(cfg.MQTT.QoS),
		Retained: true,
	}, log)
	defer func() {
		log.Info("closing broker transport")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing broker transport", "error", closeErr)
		}
	}()

	// Connect local telemetry (optional)
	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		defer func() {
			log.Info("flushing and closing telemetry")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		recorder.SetOnError(func(writeErr error) {
			log.Error("telemetry write error", "error", writeErr)
		})
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)
	} else {
		log.Info("telemetry disabled")
	}

	// Upstream enrichment behind a circuit breaker (optional)
	var guard *enrichment.Guard
	if cfg.Enrichment.Enabled {
		breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
			FailureThreshold: cfg.Enrichment.FailureThreshold,
			SuccessThreshold: cfg.Enrichment.SuccessThreshold,
			OpenTimeout:      cfg.Enrichment.OpenTimeout(),
		}, resilience.SystemClock())
		guard = enrichment.NewGuard(enrichment.NewClient(cfg.Enrichment), breaker)
		log.Info("enrichment enabled", "url", cfg.Enrichment.URL)
	} else {
		log.Info("enrichment disabled")
	}

	// Verify infrastructure is healthy before entering the loop
	if err := healthCheck(ctx, db, recorder); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Assemble and run the agent loop. Run blocks until the context is
	// cancelled or a restart is commanded; the deferred chain then flushes
	// telemetry, forces every pin safe, closes the GPIO chip and closes
	// the database in that order.
	agent, err := node.New(node.Options{
		Config:    cfg,
		Logger:    log,
		Transport: transport,
		Builder:   builder,
		Safety:    safety,
		Driver:    driver,
		Actuators: actuators,
		Store:     stateStore,
		Audit:     auditRepo,
		Recorder:  recorder,
		Guard:     guard,
		Session:   session,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.Info("initialisation complete, entering control loop", "session", session)
	return agent.Run(ctx)
}

// getConfigPath returns the configuration file path.
// Uses KAISER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KAISER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// registerStoredActuators replays the persisted actuator configuration
// into the controller at boot. A missing configuration is not an error;
// an individual conflict (for example a spec naming a now-reserved pin)
// skips that actuator and leaves the rest registered, since the node must
// still boot far enough to accept corrected configuration.
func registerStoredActuators(ctx context.Context, stateStore *store.Store, actuators *actuator.Controller, log *logging.Logger) error {
	specs, err := stateStore.LoadActuatorSpecs(ctx)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("loading actuator specs: %w", err)
	}

	for _, spec := range specs {
		if regErr := actuators.Register(spec); regErr != nil {
			log.Warn("skipping stored actuator",
				"pin", spec.Pin,
				"name", spec.Name,
				"error", regErr,
			)
			continue
		}
	}
	log.Info("stored actuator configuration restored", "actuators", actuators.Count())
	return nil
}

// healthCheck verifies infrastructure connections are healthy. The broker
// transport is excluded: the agent owns that connection and establishes it
// lazily once the network link is up.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - recorder: Telemetry recorder to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, recorder *telemetry.Recorder) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if recorder != nil {
		if err := recorder.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}
