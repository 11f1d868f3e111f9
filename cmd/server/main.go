// Last Light - realtime narrative survival RPG server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/lastlight/internal/config"
	"github.com/ashureev/lastlight/internal/eventlog"
	"github.com/ashureev/lastlight/internal/game"
	"github.com/ashureev/lastlight/internal/generator"
	"github.com/ashureev/lastlight/internal/middleware"
	"github.com/ashureev/lastlight/internal/play"
	"github.com/ashureev/lastlight/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.GeminiAPIKey == "" {
		slog.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"model", cfg.GeminiModel,
		"max_days", cfg.MaxDays,
	)

	// Initialize dependencies.
	sink, err := eventlog.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize event log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			slog.Error("Failed to close event log", "error", closeErr)
		}
	}()
	slog.Info("Event log ready", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := generator.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeneratorTimeout)
	if err != nil {
		slog.Error("Failed to initialize generator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := gen.Close(); closeErr != nil {
			slog.Error("Failed to close generator client", "error", closeErr)
		}
	}()
	slog.Info("Generator client ready")

	// Initialize services.
	store := session.NewStore(cfg.InitialHealth, cfg.InitialPower, sink)
	engine := game.NewEngine(gen, store, sink, game.Options{
		Limits: game.Limits{
			PowerCap:           cfg.PowerCap,
			MaxDays:            cfg.MaxDays,
			WinHealthThreshold: cfg.WinHealthThreshold,
		},
		MessagesPerDay: cfg.MessagesPerDay,
		Checkpoints:    cfg.Checkpoints,
		RetryBudget:    cfg.RetryBudget,
	})
	playHandler := play.NewHandler(engine, store, cfg.FrontendURL, cfg.IsDevelopment(), cfg.KeepAliveInterval)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// WebSocket endpoints: implicit fresh session, or path-named player.
	r.Get("/ws", playHandler.ServeHTTP)
	r.Get("/ws/{player}", playHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket sessions outlive any write timeout
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
