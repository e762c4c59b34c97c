package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kohsuke/udplogger/internal/config"
	"github.com/kohsuke/udplogger/internal/logfile"
	"github.com/kohsuke/udplogger/internal/metrics"
	"github.com/kohsuke/udplogger/internal/server"
	"github.com/kohsuke/udplogger/internal/source"
)

const (
	serviceName    = "udplogger"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	listenAddr := flag.String("listen", "", "UDP listen address")
	port := flag.Int("port", 0, "UDP port to listen on")
	logDir := flag.String("dir", "", "Directory for daily log files")
	idleTimeout := flag.Int("timeout", 0, "Seconds before an unterminated line is flushed")
	maxSources := flag.Int("max-sources", 0, "Maximum number of tracked sources")
	writeBuffer := flag.Int("wbuf", 0, "Per-source buffer capacity in bytes")
	receiveBuffer := flag.Int("rbuf", 0, "Kernel receive buffer size in bytes")
	flag.Parse()

	// Load configuration (defaults only when no file is given)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Explicitly set flags override file values
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.ListenAddress = *listenAddr
		case "port":
			cfg.Server.Port = *port
		case "dir":
			cfg.Log.Directory = *logDir
		case "timeout":
			cfg.Sources.IdleTimeout = *idleTimeout
		case "max-sources":
			cfg.Sources.MaxSources = *maxSources
		case "wbuf":
			cfg.Sources.WriteBufferSize = *writeBuffer
		case "rbuf":
			cfg.Server.ReceiveBufferSize = *receiveBuffer
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
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

	absDir, err := filepath.Abs(cfg.Log.Directory)
	if err != nil {
		absDir = cfg.Log.Directory
	}

	// Log effective options after clamping and overrides
	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.ListenAddress),
		slog.Int("port", cfg.Server.Port),
		slog.String("log_directory", absDir),
		slog.Int("max_sources", cfg.Sources.MaxSources),
		slog.Int("write_buffer_size", cfg.Sources.WriteBufferSize),
		slog.Int("idle_timeout_seconds", cfg.Sources.IdleTimeout),
		slog.Int("receive_buffer_size", cfg.Server.ReceiveBufferSize),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize source table
	table := source.NewTable(cfg.Sources.MaxSources, logger)

	// Open today's log file up front; refusing to start beats losing lines
	logWriter, err := logfile.New(cfg.Log.Directory, logger)
	if err != nil {
		logger.Error("Failed to open log file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize UDP server
	udpServer := server.NewUDPServer(cfg, logger, table, logWriter, appMetrics)
	logger.Info("UDP server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, table, udpServer, logWriter, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start UDP server
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop the UDP server first: this flushes every pending record and
	// appends the shutdown marker to the log file.
	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Stop HTTP server (monitoring can observe the final flush until here)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Close the log file last
	if err := logWriter.Close(); err != nil {
		logger.Error("Error closing log file", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("datagrams_dropped", stats.DatagramsDropped),
		slog.Uint64("bytes_received", stats.BytesReceived),
		slog.Uint64("lines_written", stats.LinesWritten),
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
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
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
