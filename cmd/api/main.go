package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PratikDhanave/ticket-gateway/internal/app"
	"github.com/PratikDhanave/ticket-gateway/internal/config"
	"github.com/PratikDhanave/ticket-gateway/internal/httpserver"
	"github.com/PratikDhanave/ticket-gateway/internal/logging"
)

// main boots the service: config → storage → schema → HTTP server.
func main() {
	// Load runtime config from the optional file and environment.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("start gateway")
	}
	defer gw.Close()

	// Build HTTP router (public health + keyed ticket API).
	router := httpserver.NewRouter(gw.Store, gw.Handlers(), gw.Metrics)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server stopped")
	}
}
