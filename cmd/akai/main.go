// Akai Desk - remote assistance session client
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

	"github.com/ashureev/akai-desk/internal/api"
	"github.com/ashureev/akai-desk/internal/backend"
	"github.com/ashureev/akai-desk/internal/config"
	"github.com/ashureev/akai-desk/internal/middleware"
	"github.com/ashureev/akai-desk/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting Akai desk client", "port", cfg.Port, "server_url", cfg.ServerURL)

	// Initialize dependencies.
	var archive store.Archive
	if cfg.ArchiveEnabled {
		archive, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize archive database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := archive.Close(); closeErr != nil {
				slog.Error("Failed to close archive", "error", closeErr)
			}
		}()

		if err := archive.Ping(context.Background()); err != nil {
			slog.Error("Archive health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Archive database connected", "path", cfg.DBPath)
	} else {
		slog.Info("Local archive disabled")
	}

	client := backend.New(cfg.ServerURL, cfg.RequestTimeout)

	// Initialize handlers.
	sessionHandler := api.NewSessionHandler(cfg, client, archive)
	defer sessionHandler.Shutdown()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	sessionHandler.RegisterRoutes(r)

	// Create server. Control requests are small and local; short
	// timeouts are fine.
	srv := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Control surface listening", "addr", srv.Addr)
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

	slog.Info("Client stopped successfully")
}
