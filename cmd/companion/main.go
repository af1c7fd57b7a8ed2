package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/liamhowell4/budget-master-sub003/internal/budget"
	"github.com/liamhowell4/budget-master-sub003/internal/capture"
	"github.com/liamhowell4/budget-master-sub003/internal/config"
	"github.com/liamhowell4/budget-master-sub003/internal/credential"
	"github.com/liamhowell4/budget-master-sub003/internal/metrics"
	"github.com/liamhowell4/budget-master-sub003/internal/pairing"
	"github.com/liamhowell4/budget-master-sub003/internal/realtime"
	"github.com/liamhowell4/budget-master-sub003/internal/server"
	"github.com/liamhowell4/budget-master-sub003/internal/store"
	"github.com/liamhowell4/budget-master-sub003/internal/upload"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "companion-daemon"
	serviceVersion    = "1.0.0"
)

func main() {
	// Optional .env overlay for local development
	_ = godotenv.Load()

	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("backend_base_url", cfg.Backend.BaseURL),
		slog.String("pairing_listen_addr", cfg.Pairing.ListenAddr),
		slog.Int("capture_safety_ceiling", cfg.Capture.SafetyCeiling),
		slog.String("realtime_mode", cfg.Realtime.Mode),
		slog.Int("budget_refresh_interval", cfg.Budget.RefreshInterval),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open durable local storage
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logger.Error("Failed to open local storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("Local storage opened", slog.String("path", cfg.Storage.Path))

	// Credential relay and the pairing link feeding it
	relay := credential.NewRelay(credential.Config{
		RequestTimeout: cfg.Pairing.GetRequestTimeoutDuration(),
	}, nil, st, logger, appMetrics)

	link := pairing.NewListener(cfg.Pairing.ListenAddr, logger, relay)
	relay.SetChannel(link)

	// One-shot upload client
	uploadClient, err := upload.NewClient(upload.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.GetTimeoutDuration(),
	}, appMetrics)
	if err != nil {
		logger.Error("Failed to create upload client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Capture state machine driving the recorder and the upload client
	recorder := capture.NewCommandRecorder(cfg.Capture.Command, cfg.Capture.CommandArgs, cfg.Capture.ArtifactDir, logger)
	machine := capture.NewMachine(capture.Config{
		SamplingInterval: cfg.Capture.GetSamplingIntervalDuration(),
		SafetyCeiling:    cfg.Capture.GetSafetyCeilingDuration(),
		WaveformSize:     cfg.Capture.WaveformSize,
		UploadTimeout:    cfg.Backend.GetTimeoutDuration(),
	}, recorder, uploadClient, relay, logger, appMetrics)

	// Realtime session (connected on demand via the control API)
	session := realtime.NewSession(realtime.Config{
		Mode:                   cfg.Realtime.Mode,
		KeepaliveInterval:      cfg.Realtime.GetKeepaliveIntervalDuration(),
		MalformedWarnThreshold: cfg.Realtime.MalformedWarnThreshold,
		ChunkSize:              cfg.Realtime.ChunkSize,
		AudioSampleRate:        cfg.Realtime.AudioSampleRate,
		AudioChannels:          cfg.Realtime.AudioChannels,
	}, cfg.Backend.BaseURL, logger, appMetrics)

	// Budget cache refresher for the glanceable widget
	budgetRefresher := budget.NewRefresher(cfg.Backend.BaseURL, cfg.Budget.GetRefreshIntervalDuration(),
		relay, st, logger, appMetrics)

	// HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, machine, session,
			relay, link, uploadClient, budgetRefresher, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start the pairing link
	if err := link.Start(); err != nil {
		logger.Error("Failed to start pairing link", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Background loops run under one group tied to the signal context
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return budgetRefresher.Run(groupCtx)
	})

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("pairing_addr", cfg.Pairing.ListenAddr),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Tear down the realtime session and any in-flight capture
	session.Disconnect()
	machine.Cancel()

	// Stop the pairing link
	if err := link.Stop(); err != nil {
		logger.Error("Error stopping pairing link", slog.String("error", err.Error()))
	}

	// Wait for background loops
	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("Background loop error", slog.String("error", err.Error()))
	}

	// Get final statistics
	linkStats := link.GetStatistics()
	logger.Info("Final link statistics",
		slog.Uint64("payloads_received", linkStats.PayloadsReceived),
		slog.Uint64("requests_sent", linkStats.RequestsSent),
		slog.Uint64("decode_errors", linkStats.DecodeErrors),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
