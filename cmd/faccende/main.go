package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"faccende/internal/config"
	"faccende/internal/feedback"
	apphttp "faccende/internal/http"
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

	logger := applog.New("server")
	applog.SetDefault(logger)

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
		logger.Info("Gmail source initialized")
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

		go func() {
			if err := chatSource.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Chat consumer stopped", "error", err)
			}
		}()
		logger.Info("Chat source initialized", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("Chat source disabled - no AMQP URL configured")
	}

	pipeline := services.NewIntakePipeline(srcs, gateway, repo, cfg.IntakeLookback, cfg.IntakeBatchSize)

	srv := apphttp.NewServer(":"+cfg.Port, repo, gateway, adjuster, pipeline)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 2 * time.Minute
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting faccende server", "port", cfg.Port, "sources", len(srcs))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
