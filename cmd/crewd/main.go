// Crewd is the engagement orchestration daemon.
//
// It runs the customer-facing HTTP API, the Temporal worker that drives
// engagement workflows, and the phase orchestrator that executes agent
// sessions. Durable state lives in NATS JetStream; deliverables go to a
// git-backed artifact store.
//
// Usage:
//
//	# Start daemon with defaults
//	crewd
//
//	# Configure via file and environment
//	crewd -config /etc/crewd/config.yaml
//	SERVER_PORT=9090 NATS_EMBEDDED=true crewd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/agent"
	"github.com/crewline/crewd/internal/approval"
	"github.com/crewline/crewd/internal/artifact"
	"github.com/crewline/crewd/internal/board"
	"github.com/crewline/crewd/internal/broadcast"
	"github.com/crewline/crewd/internal/chat"
	"github.com/crewline/crewd/internal/config"
	"github.com/crewline/crewd/internal/interrupt"
	"github.com/crewline/crewd/internal/kv"
	"github.com/crewline/crewd/internal/ledger"
	"github.com/crewline/crewd/internal/logging"
	"github.com/crewline/crewd/internal/orchestrator"
	"github.com/crewline/crewd/internal/server"
	"github.com/crewline/crewd/internal/telemetry"
	"github.com/crewline/crewd/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  crewd           Start the crewd daemon\n")
			fmt.Fprintf(os.Stderr, "  crewd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("crewd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the crewd daemon and blocks until context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger
//  3. Connect to NATS (embedded broker optional)
//  4. Create durable stores and engagement services
//  5. Connect to Temporal, start the workflow worker
//  6. Start the HTTP server
//  7. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	baseLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync() // Best-effort sync on shutdown
	}()
	logger := baseLogger.Underlying()

	logger.Info("Starting crewd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	tel, err := telemetry.New(ctx, telemetryConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if tel.Degraded() {
		logger.Warn("telemetry initialized degraded; some export is disabled")
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	nc, embedded, err := connectNATS(cfg, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	if embedded != nil {
		defer func() {
			embedded.Shutdown()
			embedded.WaitForShutdown()
		}()
	}

	store, err := kv.NewNATSStore(nc, &kv.NATSConfig{Bucket: cfg.NATS.Bucket}, logger)
	if err != nil {
		return fmt.Errorf("failed to create kv store: %w", err)
	}
	defer store.Close()

	broadcaster, err := broadcast.NewNATSBroadcaster(nc, logger)
	if err != nil {
		return fmt.Errorf("failed to create broadcaster: %w", err)
	}

	ledgerSvc, err := ledger.NewService(store, logger)
	if err != nil {
		return fmt.Errorf("failed to create ledger service: %w", err)
	}
	approvalSvc, err := approval.NewService(store, logger)
	if err != nil {
		return fmt.Errorf("failed to create approval service: %w", err)
	}
	interruptSvc, err := interrupt.NewService(store, broadcaster, logger)
	if err != nil {
		return fmt.Errorf("failed to create interrupt service: %w", err)
	}
	boardSvc, err := board.NewService(store, broadcaster, logger)
	if err != nil {
		return fmt.Errorf("failed to create board service: %w", err)
	}
	chatSvc, err := chat.NewService(store, broadcaster, logger)
	if err != nil {
		return fmt.Errorf("failed to create chat service: %w", err)
	}

	artifacts, err := artifact.NewGitStore(&artifact.Config{Root: cfg.Artifacts.RepoPath}, logger)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to temporal at %s: %w", cfg.Temporal.HostPort, err)
	}
	defer temporalClient.Close()

	logger.Info("Connected to Temporal",
		zap.String("host_port", cfg.Temporal.HostPort),
		zap.String("namespace", cfg.Temporal.Namespace))

	reporter, err := workflows.NewReporter(temporalClient)
	if err != nil {
		return fmt.Errorf("failed to create reporter: %w", err)
	}

	// Concrete agents are registered by the deployment; the daemon ships
	// the roster wiring only.
	registry := agent.NewRegistry()

	orchSvc, err := orchestrator.NewService(&orchestrator.Config{
		MaxRetries:            cfg.Orchestrator.MaxRetries,
		RetryBackoff:          cfg.Orchestrator.RetryBackoff.Duration(),
		InterruptPollInterval: cfg.Orchestrator.InterruptPollInterval.Duration(),
		InterruptPollTimeout:  cfg.Orchestrator.InterruptPollTimeout.Duration(),
		MaxFailureMessageLen:  cfg.Orchestrator.MaxFailureMessageLen,
		Rosters:               orchestrator.DefaultRosters(),
	}, orchestrator.Dependencies{
		Registry:    registry,
		Ledger:      ledgerSvc,
		Interrupts:  interruptSvc,
		Broadcaster: broadcaster,
		Reporter:    reporter,
	}, baseLogger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orchSvc.Close()

	activities, err := workflows.NewActivities(orchSvc, ledgerSvc, approvalSvc, logger)
	if err != nil {
		return fmt.Errorf("failed to create activities: %w", err)
	}

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	workflows.Register(w, activities)
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start temporal worker: %w", err)
	}
	defer w.Stop()

	logger.Info("Temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))

	engine, err := workflows.NewEngine(temporalClient, cfg.Temporal.TaskQueue)
	if err != nil {
		return fmt.Errorf("failed to create workflow engine client: %w", err)
	}

	srv, err := server.NewServer(server.Dependencies{
		Ledger:     ledgerSvc,
		Approvals:  approvalSvc,
		Interrupts: interruptSvc,
		Board:      boardSvc,
		Chat:       chatSvc,
		Artifacts:  artifacts,
		Engine:     engine,
	}, baseLogger, &server.Config{
		Host:      "0.0.0.0",
		Port:      cfg.Server.Port,
		RateLimit: cfg.Server.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// initLogger initializes the structured logger from config.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Log.Format
	return logging.NewLogger(logCfg)
}

// telemetryConfig maps the daemon config onto the telemetry package.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Protocol = cfg.Telemetry.Protocol
	tc.Insecure = cfg.Telemetry.Insecure
	tc.ServiceVersion = version
	return tc
}

// connectNATS connects to the configured broker, starting an embedded
// one first when requested. The embedded server is returned so the
// caller can shut it down after draining connections.
func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, *natsserver.Server, error) {
	url := cfg.NATS.URL

	var embedded *natsserver.Server
	if cfg.NATS.Embedded {
		opts := &natsserver.Options{
			Host:      "127.0.0.1",
			Port:      -1, // Random port
			NoSigs:    true,
			JetStream: true,
			StoreDir:  cfg.NATS.StoreDir,
		}

		srv, err := natsserver.NewServer(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create embedded nats server: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(10 * time.Second) {
			srv.Shutdown()
			return nil, nil, fmt.Errorf("embedded nats server not ready")
		}

		embedded = srv
		url = srv.ClientURL()
		logger.Info("Embedded NATS server started",
			zap.String("url", url),
			zap.String("store_dir", cfg.NATS.StoreDir))
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info("Connected to NATS", zap.String("url", url))
	return nc, embedded, nil
}
