package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jiamingke/binance-bridge/config"
	"github.com/jiamingke/binance-bridge/datasource"
	"github.com/jiamingke/binance-bridge/handler"
	"github.com/jiamingke/binance-bridge/stream"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to an optional YAML config file")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.HasCredentials() {
		logger.Warn().Msg("API key or secret not set, signed endpoints will refuse requests")
	}

	ds := datasource.NewBinance(cfg, logger.With().Str("component", "binance").Logger())
	defer ds.Close()

	bridge := stream.NewBridge(
		cfg.Binance.WSURL,
		stream.NewWebsocketDialer(cfg.HTTPTimeout),
		logger.With().Str("component", "stream").Logger(),
	)

	h := handler.NewBinance(cfg, ds, bridge, logger.With().Str("component", "handler").Logger())

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler.NewRouter(cfg, h, logger.With().Str("component", "http").Logger()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Port).
			Bool("testnet", cfg.Testnet).
			Str("rest_url", cfg.Binance.RESTURL).
			Str("ws_url", cfg.Binance.WSURL).
			Msg("backend up")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked stream connections are not tracked by the HTTP server.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := bridge.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Int("active_pairs", bridge.Active()).Msg("stream shutdown")
	}
	return nil
}

func newLogger(cfg config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}
