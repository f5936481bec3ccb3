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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/agent"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/audio"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/config"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/metrics"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/relay"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "elevenlabs-twilio-ai-caller"
	serviceVersion    = "1.0.0"
)

func main() {
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
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.String("public_host", cfg.Server.PublicHost),
		slog.String("agent_api_url", cfg.Agent.APIURL),
		slog.String("agent_id", cfg.Agent.AgentID),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("max_queue_frames", cfg.Audio.MaxQueueFrames),
		slog.Int("ready_fallback_ms", cfg.Session.ReadyFallbackMs),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Initialize agent provider client
	agentClient, err := agent.NewClient(agent.Config{
		APIURL:      cfg.Agent.APIURL,
		AgentID:     cfg.Agent.AgentID,
		APIKey:      cfg.Agent.APIKey,
		DialTimeout: cfg.Agent.GetDialTimeout(),
	})
	if err != nil {
		logger.Error("Failed to create agent client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Agent client initialized",
		slog.String("api_url", cfg.Agent.APIURL),
		slog.Duration("dial_timeout", cfg.Agent.GetDialTimeout()),
	)

	// Initialize session manager. The dial seam records signed URL issuance
	// metrics around each upstream connection attempt.
	relayConfig := relay.Config{
		FrameInterval:  audio.FrameInterval,
		ReadyFallback:  cfg.Session.GetReadyFallback(),
		MaxQueueFrames: cfg.Audio.MaxQueueFrames,
		IdleTimeout:    cfg.Session.GetIdleTimeout(),
	}
	manager := relay.NewManager(logger, appMetrics, relayConfig, func(ctx context.Context) (relay.Conn, error) {
		appMetrics.SignedURLRequests.Inc()
		conn, err := agentClient.Dial(ctx)
		if err != nil {
			appMetrics.SignedURLFailures.Inc()
			return nil, err
		}
		return conn, nil
	})
	logger.Info("Session manager initialized",
		slog.Duration("frame_interval", relayConfig.FrameInterval),
		slog.Duration("ready_fallback", relayConfig.ReadyFallback),
		slog.Duration("idle_timeout", relayConfig.IdleTimeout),
	)

	// Initialize and start HTTP server
	httpServer := server.NewHTTPServer(cfg, logger, manager, agentClient, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("listen_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new calls)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop session manager (tear down remaining calls)
	manager.Stop()

	// Get final statistics
	stats := agentClient.GetStats()
	logger.Info("Final agent client statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Float64("success_rate", stats.SuccessRate),
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
