package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/internal/telemetry"
	"github.com/cryptblk/cryptblk/pkg/config"
	"github.com/cryptblk/cryptblk/pkg/controlplane/api"
	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
	"github.com/cryptblk/cryptblk/pkg/controlplane/runtime"
	"github.com/cryptblk/cryptblk/pkg/controlplane/store"
	"github.com/cryptblk/cryptblk/pkg/kdf"
	"github.com/cryptblk/cryptblk/pkg/metrics"
	metricsprom "github.com/cryptblk/cryptblk/pkg/metrics/prometheus"
	badgertags "github.com/cryptblk/cryptblk/pkg/tagstore/badger"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cryptblk server",
	Long: `Start the cryptblk server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/cryptblk/config.yaml.

Examples:
  # Start in background (default)
  cryptblk start

  # Start in foreground
  cryptblk start --foreground

  # Start with custom config file
  cryptblk start --config /etc/cryptblk/config.yaml

  # Start with environment variable overrides
  CRYPTBLK_LOGGING_LEVEL=DEBUG cryptblk start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/cryptblk/cryptblk.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/cryptblk/cryptblk.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "cryptblk",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "cryptblk",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("cryptblk - Transparent block device encryption")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics (if enabled). The registry must exist before the
	// manager hands out collectors to attached devices.
	var cryptMetrics metrics.CryptMetrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		cryptMetrics = metricsprom.NewCryptMetrics()
		metricsHandler = metrics.Handler()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Initialize control plane store for users and device registrations
	cpStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize control plane store: %w", err)
	}

	// Ensure admin user exists (generates random password on first run)
	adminPassword, err := cpStore.EnsureAdminUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure admin user: %w", err)
	}
	if adminPassword != "" {
		logger.Info("Admin user created", "username", "admin", "password", adminPassword)
		fmt.Printf("\n*** IMPORTANT: Admin user created with password: %s ***\n", adminPassword)
		fmt.Println("Please save this password. It will not be shown again.")
		fmt.Println()
	}

	// Create the device manager
	mgr := runtime.New(cpStore)
	mgr.SetWorkers(cfg.Crypt.Workers)
	mgr.SetShutdownTimeout(cfg.ShutdownTimeout)
	mgr.SetTagStoreConfig(runtime.TagStoreConfig{
		Type: cfg.TagStore.Type,
		Badger: badgertags.Config{
			Path:       cfg.TagStore.Badger.Path,
			SyncWrites: cfg.TagStore.Badger.SyncWrites,
		},
		Postgres: cfg.TagStore.Postgres,
	})
	if cryptMetrics != nil {
		mgr.SetMetrics(cryptMetrics)
	}

	// Register devices declared in the config file, then attach everything
	// enabled in the store.
	if err := registerConfigDevices(ctx, cpStore, cfg.Devices); err != nil {
		return err
	}
	if err := mgr.LoadDevicesFromStore(ctx); err != nil {
		logger.Warn("Failed to attach some devices", "error", err)
	}
	logger.Info("Device manager initialized", "attached", mgr.CountAttached())

	// Create and start the API server
	apiServer, err := api.NewServer(cfg.API, mgr, cpStore, metricsHandler)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	logger.Info("API server configured", "port", cfg.API.Port)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start API server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			_ = mgr.DetachAll()
			return err
		}
	}

	// Drain and detach every device before exiting so in-flight writes and
	// integrity tags reach the backends.
	if err := mgr.DetachAll(); err != nil {
		logger.Error("Device drain error", "error", err)
		return err
	}
	logger.Info("Server stopped gracefully")

	return nil
}

// registerConfigDevices persists the declarative devices from the config file
// into the control plane store. A registration that already exists wins over
// the config file: the stored row carries the KDF salt, and regenerating it
// would change the derived key and destroy the device contents.
func registerConfigDevices(ctx context.Context, cpStore store.Store, devices []config.DeviceConfig) error {
	for i := range devices {
		dc := &devices[i]

		if _, err := cpStore.GetDevice(ctx, dc.Name); err == nil {
			logger.Debug("Device already registered", logger.KeyDevice, dc.Name)
			continue
		} else if !errors.Is(err, models.ErrDeviceNotFound) {
			return fmt.Errorf("failed to look up device %q: %w", dc.Name, err)
		}

		model, err := dc.ToModel()
		if err != nil {
			return err
		}

		// Passphrase devices need a fresh salt exactly once, at first
		// registration.
		if model.PassphraseEnv != "" {
			salt, err := kdf.NewSalt()
			if err != nil {
				return fmt.Errorf("failed to generate salt for device %q: %w", dc.Name, err)
			}
			model.SetKDFSalt(salt)
		}

		if _, err := cpStore.CreateDevice(ctx, model); err != nil {
			return fmt.Errorf("failed to register device %q: %w", dc.Name, err)
		}
		logger.Info("Device registered from config",
			logger.KeyDevice, dc.Name,
			logger.KeyBackend, dc.Backend,
			logger.KeyCipher, dc.Cipher)
	}
	return nil
}
