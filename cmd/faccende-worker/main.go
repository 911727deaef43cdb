package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"faccende/internal/config"
	"faccende/internal/feedback"
	applog "faccende/internal/log"
	"faccende/internal/reasoning"
	"faccende/internal/services"
	"faccende/internal/sources"
	"faccende/internal/sources/chat"
	"faccende/internal/sources/gmail"
	"faccende/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New("worker")
	applog.SetDefault(logger)

	logger.Info("Starting faccende-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.New(cfg.SQLiteDBPath, storage.Options{AllowOverrun: cfg.BudgetAllowOverrun})
	if err != nil {
		logger.Error("Failed to initialize repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	adjuster := feedback.NewAdjuster(repo, cfg.FeedbackStep, cfg.BiasLimit)
	completer := reasoning.NewClient(cfg.ReasoningBaseURL, cfg.ReasoningAPIKey, cfg.ReasoningModel, cfg.ReasoningTimeout)
	gateway := reasoning.NewGateway(completer, repo, adjuster, cfg.EstimatedMaxCost())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var srcs []sources.Source

	if cfg.GmailCredentialsFile != "" {
		gmailSource, err := gmail.NewSource(ctx, cfg.GmailCredentialsFile, cfg.GmailTokenFile, int64(cfg.GmailMaxResults))
		if err != nil {
			logger.Error("Failed to initialize Gmail source", "error", err)
			os.Exit(1)
		}
		srcs = append(srcs, gmailSource)
	} else {
		logger.Info("Gmail source disabled - no credentials configured")
	}

	if cfg.AMQPURL != "" {
		chatClient, err := chat.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPInboundQueue, cfg.AMQPReplyQueue)
		if err != nil {
			logger.Error("Failed to initialize chat client", "error", err)
			os.Exit(1)
		}
		defer chatClient.Close()

		chatSource := chat.NewSource(chatClient, repo)
		srcs = append(srcs, chatSource)

		// Consume inbound chat messages into the inbox; the pipeline picks
		// them up on its next pass.
		go func() {
			if err := chatSource.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Chat consumer stopped", "error", err)
				cancel()
			}
		}()
	} else {
		logger.Info("Chat source disabled - no AMQP URL configured")
	}

	if len(srcs) == 0 {
		logger.Error("No sources configured, nothing to do")
		os.Exit(1)
	}

	pipeline := services.NewIntakePipeline(srcs, gateway, repo, cfg.IntakeLookback, cfg.IntakeBatchSize)

	processorCfg := services.DefaultIntakeProcessorConfig()
	processorCfg.PollInterval = cfg.IntakeInterval
	processor := services.NewIntakeProcessor(pipeline, processorCfg)

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start intake processor", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Warn("Intake processor shutdown timed out", "error", err)
	} else {
		logger.Info("Worker shutdown complete")
	}
	cancel()
}
