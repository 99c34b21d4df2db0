package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/agrostore/internal/config"
	"github.com/p-blackswan/agrostore/internal/devbackend"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv(config.Prefix+"_ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	seed, err := devbackend.LoadSeed(cfg.DevBackend.SeedPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load seed data")
	}

	srv, err := devbackend.NewServer(devbackend.ConfigFrom(cfg.DevBackend), seed, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create dev backend")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.DevBackend.ListenAddr).
		Int("products", len(seed.Products)).
		Bool("rotate_refresh", cfg.DevBackend.RotateRefresh).
		Msg("starting dev backend")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Listen(cfg.DevBackend.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("dev backend error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dev backend shutdown error")
	}

	wg.Wait()
	logger.Info().Msg("dev backend stopped")
}
