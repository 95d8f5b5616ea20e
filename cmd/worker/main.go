// Package main is the entry point for the relay worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/completion"
	"github.com/relayworks/chat-relay/internal/config"
	"github.com/relayworks/chat-relay/internal/delivery"
	"github.com/relayworks/chat-relay/internal/handler"
	"github.com/relayworks/chat-relay/internal/llm"
	"github.com/relayworks/chat-relay/internal/middleware"
	"github.com/relayworks/chat-relay/internal/persona"
	"github.com/relayworks/chat-relay/internal/pipeline"
	"github.com/relayworks/chat-relay/internal/queue"
	"github.com/relayworks/chat-relay/internal/ratelimit"
	"github.com/relayworks/chat-relay/internal/store"
	"github.com/relayworks/chat-relay/internal/webhook"
	"github.com/relayworks/chat-relay/pkg/logger"
	"github.com/relayworks/chat-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting relay worker")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to Redis
	rdb, err := store.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to Redis", zap.Error(err))
		os.Exit(1)
	}
	defer rdb.Close()

	st := store.New(rdb, cfg.HistoryTTL, cfg.CacheTTL, log)

	// Connect to NATS
	natsClient, err := queue.Connect(queue.ConnConfig{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure the jobs stream exists
	jobQueue := queue.New(natsClient, st, queue.Config{
		MaxDeliver:  cfg.JobAttempts,
		BackoffBase: cfg.JobBackoff,
	}, log)
	if err := jobQueue.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize the completion backend
	provider := llm.Provider(cfg.DefaultLLM)
	apiKey := cfg.OpenAIAPIKey
	if provider == llm.ProviderAnthropic {
		apiKey = cfg.AnthropicAPIKey
	}
	backend, err := llm.NewClient(provider, apiKey)
	if err != nil {
		log.Error("failed to create completion client", zap.Error(err))
		os.Exit(1)
	}

	// Assemble the pipeline
	personaSrc := persona.NewFileSource(cfg.PersonaFile, log)
	completionClient := completion.New(st, personaSrc, backend, completion.Config{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxReplyTokens,
		Temperature: cfg.Temperature,
		TokenCap:    cfg.PromptTokenCap,
	}, log)

	limiter := ratelimit.New(cfg.SendLimit, cfg.SendWindow, cfg.SendMaxWait)
	deliveryClient := delivery.New(delivery.Config{
		BaseURL:     cfg.ChannelBaseURL,
		PhoneID:     cfg.ChannelPhoneID,
		AccessToken: cfg.ChannelAccessToken,
		Attempts:    cfg.DeliveryAttempts,
		Backoff:     cfg.DeliveryBackoff,
	}, limiter, st, log)

	pipe := pipeline.New(jobQueue, completionClient, deliveryClient, log)
	if err := pipe.Start(ctx); err != nil {
		log.Error("failed to start pipeline", zap.Error(err))
		os.Exit(1)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, st)
	statsHandler := handler.NewStatsHandler(jobQueue, st, log)
	adminHandler := handler.NewAdminHandler(st, cfg.Development, log)
	webhookHandler := webhook.NewHandler(jobQueue, cfg.WebhookVerifyToken, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Hub-Signature-256"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Channel webhook
	r.Route("/webhook", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.VerifySignature(cfg.WebhookAppSecret))
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	// Admin surface
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Get("/stats", statsHandler.Stats)
		r.Post("/clear", adminHandler.Clear)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")

	// Stop accepting webhooks, then drain in-flight jobs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	pipe.Stop()

	log.Info("worker stopped")
}
