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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/voice-reminder-service/internal/capture"
	"github.com/skypro1111/voice-reminder-service/internal/config"
	"github.com/skypro1111/voice-reminder-service/internal/gateway"
	"github.com/skypro1111/voice-reminder-service/internal/media"
	"github.com/skypro1111/voice-reminder-service/internal/metrics"
	"github.com/skypro1111/voice-reminder-service/internal/notify"
	"github.com/skypro1111/voice-reminder-service/internal/playback"
	"github.com/skypro1111/voice-reminder-service/internal/server"
	"github.com/skypro1111/voice-reminder-service/internal/session"
	"github.com/skypro1111/voice-reminder-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
	serviceName       = "voice-reminder-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", defaultEnvPath, "Path to dotenv file with secrets")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.Bool("media_enabled", cfg.Media.Enabled),
		slog.Int("udp_port", cfg.Media.UDPPort),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("max_clip_duration", cfg.Audio.MaxClipDuration),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.String("gateway_base_url", cfg.Gateway.BaseURL),
		slog.Bool("gateway_api_key_set", cfg.Gateway.APIKey != ""),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	hub := notify.NewHub(logger.With(slog.String("component", "notify")), cfg.Conversation.NotificationBacklog)

	analyzer, err := vad.NewAnalyzer(cfg.VAD.Threshold, cfg.VAD.WindowSize, cfg.Audio.SampleRate)
	if err != nil {
		logger.Error("Failed to create voice analyzer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Without a media endpoint capture is unsupported and playback has no output
	var (
		endpoint *media.Endpoint
		device   capture.Device
		sink     playback.Sink
	)
	if cfg.Media.Enabled {
		endpoint = media.NewEndpoint(&cfg.Media, cfg.Audio.SampleRate, logger.With(slog.String("component", "media")), appMetrics)
		if err := endpoint.Start(); err != nil {
			logger.Error("Failed to start media endpoint", slog.String("error", err.Error()))
			os.Exit(1)
		}
		device = endpoint
		sink = endpoint
	} else {
		logger.Warn("Media endpoint disabled, recording and playback are unavailable")
	}

	capturer := capture.NewController(device, analyzer, capture.Config{
		SampleRate:  cfg.Audio.SampleRate,
		MaxDuration: cfg.Audio.GetMaxClipDuration(),
	}, logger.With(slog.String("component", "capture")))

	player := playback.NewPlayer(sink, cfg.Audio.SampleRate, logger.With(slog.String("component", "playback")))

	gatewayClient, err := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		APIKey:        cfg.Gateway.APIKey,
		Timeout:       cfg.Gateway.GetTimeoutDuration(),
		MaxConcurrent: cfg.Gateway.MaxConcurrent,
		Language:      cfg.Gateway.Language,
		Voice:         cfg.Gateway.Voice,
	}, logger.With(slog.String("component", "gateway")), appMetrics)
	if err != nil {
		logger.Error("Failed to create gateway client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	orchestrator := session.NewOrchestrator(gatewayClient, capturer, player, hub, appMetrics, session.Config{
		SeedMessage: cfg.Conversation.SeedMessage,
		StepTimeout: cfg.Conversation.GetStepTimeoutDuration(),
	}, logger.With(slog.String("component", "session")))

	httpServer := server.NewHTTPServer(cfg, server.Components{
		Conversation: orchestrator,
		Hub:          hub,
		Gateway:      gatewayClient,
		Media:        endpoint,
		Capture:      capturer,
		Player:       player,
		Metrics:      appMetrics,
		Gatherer:     registry,
	}, logger.With(slog.String("component", "http")))

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before the session is torn down
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	orchestrator.Teardown()
	orchestrator.Wait()

	if endpoint != nil {
		if err := endpoint.Stop(); err != nil {
			logger.Error("Error stopping media endpoint", slog.String("error", err.Error()))
		}

		stats := endpoint.Statistics()
		logger.Info("Final media statistics",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_sent", stats.PacketsSent),
			slog.Uint64("parse_errors", stats.ParseErrors),
			slog.Uint64("frames_captured", stats.FramesCaptured),
		)
	}

	gatewayStats := gatewayClient.GetStats()
	logger.Info("Final gateway statistics",
		slog.Uint64("total_requests", gatewayStats.TotalRequests),
		slog.Uint64("failed_requests", gatewayStats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

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

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
