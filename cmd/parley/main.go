package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MikeSquared-Agency/parley/internal/api"
	"github.com/MikeSquared-Agency/parley/internal/auth"
	"github.com/MikeSquared-Agency/parley/internal/captcha"
	"github.com/MikeSquared-Agency/parley/internal/config"
	"github.com/MikeSquared-Agency/parley/internal/feedback"
	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/llm"
	"github.com/MikeSquared-Agency/parley/internal/persona"
	"github.com/MikeSquared-Agency/parley/internal/store"
	"github.com/MikeSquared-Agency/parley/internal/tactics"
)

const (
	textAttempts   = 3
	visionAttempts = 2
	visionBackoff  = time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("parley starting", "port", cfg.Port, "provider", cfg.Provider, "model", cfg.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	// Database
	repo, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()
	slog.Info("database ready")

	// Captcha store: Redis when configured so several replicas share codes.
	var codes captcha.Store = captcha.NewMemoryStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		codes = captcha.NewRedisStore(rdb)
		slog.Info("captcha store on redis", "addr", opts.Addr)
	} else {
		slog.Warn("REDIS_URL not set, captcha codes kept in memory")
	}
	gate := captcha.NewGate(codes, logger)

	// NATS/Hermes (optional)
	var events *hermes.Client
	if cfg.NatsURL != "" {
		events, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer events.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, events disabled")
	}

	// Model providers
	textProvider, err := newTextProvider(cfg)
	if err != nil {
		slog.Error("failed to build text provider", "error", err)
		os.Exit(1)
	}
	visionProvider, err := newVisionProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to build vision provider", "error", err)
		os.Exit(1)
	}
	slog.Info("providers ready", "text", textProvider.Name(), "vision", visionProvider.Name())

	limiter := semaphore.NewWeighted(int64(cfg.MaxInflight))
	textInvoker := llm.NewInvoker(textProvider, llm.InvokerConfig{
		Attempts: textAttempts,
		Backoff:  cfg.RetryBackoff,
		Limiter:  limiter,
	}, logger)
	visionInvoker := llm.NewInvoker(visionProvider, llm.InvokerConfig{
		Attempts: visionAttempts,
		Backoff:  visionBackoff,
		Limiter:  limiter,
	}, logger)

	catalog, err := persona.Load(nil)
	if err != nil {
		slog.Error("failed to load personas", "error", err)
		os.Exit(1)
	}

	var publisher tactics.Publisher
	var eventsConnected func() bool
	if events != nil {
		publisher = events
		eventsConnected = events.Connected
	}

	deps := api.Deps{
		Pipeline:        tactics.NewPipeline(textInvoker, catalog, publisher, tactics.DefaultConfig(), logger),
		Vision:          tactics.NewVision(visionInvoker, catalog, publisher, tactics.DefaultVisionConfig(), logger),
		Catalog:         catalog,
		Captcha:         gate,
		Auth:            auth.NewService(repo, gate, cfg.JWTSecret, logger),
		Repo:            repo,
		Feedback:        feedback.NewRecorder(repo, publisher, logger),
		EventsConnected: eventsConnected,
		CORSOrigins:     cfg.CORSOrigins,
		Logger:          logger,
	}
	srv := api.NewServer(cfg.Port, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		gate.RunSweeper(gctx, cfg.CaptchaSweep)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if publisher != nil {
		if err := publisher.Publish(hermes.SubjectStarted, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"personas":  len(catalog.All()),
		}); err != nil {
			slog.Warn("failed to publish startup event", "error", err)
		}
	}
	slog.Info("parley ready", "port", cfg.Port)

	if err := g.Wait(); err != nil {
		slog.Error("parley stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("parley stopped")
}

func newTextProvider(cfg config.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.HTTPTimeout), nil
	case "anthropic":
		return llm.NewAnthropic(cfg.APIKey, cfg.Model, cfg.HTTPTimeout), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newVisionProvider(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	switch cfg.VisionProvider {
	case "openai":
		return llm.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.VisionModel, cfg.HTTPTimeout), nil
	case "gemini":
		return llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.VisionModel, "", cfg.HTTPTimeout)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.VisionProvider)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
