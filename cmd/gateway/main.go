package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RussianLioN/openclaw-gateway/internal/command"
	"github.com/RussianLioN/openclaw-gateway/internal/config"
	"github.com/RussianLioN/openclaw-gateway/internal/executor"
	"github.com/RussianLioN/openclaw-gateway/internal/gateway"
	"github.com/RussianLioN/openclaw-gateway/internal/intent"
	"github.com/RussianLioN/openclaw-gateway/internal/llm"
	"github.com/RussianLioN/openclaw-gateway/internal/session"
	"github.com/RussianLioN/openclaw-gateway/internal/transport"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting OpenClaw Gateway",
		zap.String("service", cfg.ServiceName),
		zap.String("model", cfg.OllamaModel),
		zap.String("workspace", cfg.Workspace))

	if cfg.OllamaAPIKey == "" {
		logger.Warn("OLLAMA_API_KEY not set, AI-gated components degrade to keyword fallback")
	}

	// Core components, wired once and passed explicitly. No ambient globals.
	llmClient := llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaAPIKey, cfg.OllamaModel, cfg.OllamaTimeout, logger.Named("llm"))

	classifier := intent.NewClassifier(llmClient, logger.Named("intent"))
	if err := classifier.SetConfidenceThreshold(cfg.ConfidenceThreshold); err != nil {
		logger.Fatal("invalid confidence threshold", zap.Error(err))
	}

	generator := command.NewGenerator(llmClient, logger.Named("command"))

	exec := executor.NewExecutor(executor.Config{
		WrapperPath: cfg.CLIWrapperPath,
		Container:   cfg.ClaudeCodeContainer,
		Workspace:   cfg.Workspace,
		Timeout:     cfg.CommandTimeout,
	}, logger.Named("executor"))

	sessions := session.NewManager(cfg.SessionTimeout)
	defer sessions.Close()

	gw := gateway.New(classifier, generator, exec, llmClient, sessions, gateway.Config{
		Workspace:    cfg.Workspace,
		ShellTimeout: cfg.CommandTimeout,
	}, logger.Named("gateway"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket transport
	wsServer := transport.NewWebSocketServer(gw, transport.WebSocketConfig{
		Host:       cfg.GatewayHost,
		Port:       cfg.GatewayPort,
		Model:      llmClient.Model(),
		Configured: cfg.OllamaAPIKey != "",
		Stats:      exec.Stats(),
	}, logger.Named("ws"))

	go func() {
		if err := wsServer.Start(); err != nil {
			logger.Fatal("websocket server failed", zap.Error(err))
		}
	}()

	// NATS intent endpoint (optional)
	var natsTransport *transport.NATSTransport
	if cfg.NatsURL != "" {
		natsTransport, err = transport.NewNATSTransport(transport.NATSConfig{
			URL:     cfg.NatsURL,
			Subject: cfg.NatsSubject,
			Name:    cfg.ServiceName,
			Timeout: cfg.NatsTimeout,
		}, classifier, logger.Named("nats"))
		if err != nil {
			logger.Fatal("failed to initialize NATS transport", zap.Error(err))
		}
		defer natsTransport.Close()

		if err := natsTransport.Start(); err != nil {
			logger.Fatal("failed to start NATS transport", zap.Error(err))
		}
	}

	// Telegram bot (optional)
	if cfg.TelegramBotToken != "" {
		bot, err := transport.NewTelegramBot(cfg.TelegramBotToken, gw, logger.Named("telegram"))
		if err != nil {
			logger.Fatal("failed to initialize telegram bot", zap.Error(err))
		}
		go bot.Start(ctx)
	}

	logger.Info("OpenClaw Gateway is running",
		zap.String("host", cfg.GatewayHost),
		zap.Int("port", cfg.GatewayPort))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown error", zap.Error(err))
	}

	if natsTransport != nil {
		if err := natsTransport.Close(); err != nil {
			logger.Warn("NATS close error", zap.Error(err))
		}
	}

	logger.Info("OpenClaw Gateway stopped", zap.Int("final_sessions", sessions.Count()))
}
