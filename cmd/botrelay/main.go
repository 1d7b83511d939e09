// Command botrelay serves the bot chat relay behind the daily usage quota.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/livedatabots/botrelay/pkg/api"
	"github.com/livedatabots/botrelay/pkg/completion"
	"github.com/livedatabots/botrelay/pkg/config"
	"github.com/livedatabots/botrelay/pkg/quota"
	zerologadapter "github.com/livedatabots/botrelay/pkg/quota/logger/zerolog"
	prommetrics "github.com/livedatabots/botrelay/pkg/quota/metrics/prometheus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "botrelay: %v\n", err)
		os.Exit(1)
	}

	zlog := newLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var zlog zerolog.Logger
	if cfg.Format == "console" {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zlog = zerolog.New(os.Stdout)
	}
	return zlog.Level(level).With().Timestamp().Str("service", "botrelay").Logger()
}

func run(ctx context.Context, cfg *config.Config, zlog zerolog.Logger) error {
	logger := zerologadapter.NewLogger(zlog)

	storage, closeStorage, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer closeStorage()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(reg, "botrelay")

	gate, err := quota.NewGate(storage, quota.Config{
		DailyLimit: cfg.Quota.DailyLimit,
		Metrics:    metrics,
		Logger:     logger,
		CircuitBreakerConfig: &quota.CircuitBreakerConfig{
			Enabled: cfg.Quota.CircuitBreaker,
		},
	})
	if err != nil {
		return fmt.Errorf("create quota gate: %w", err)
	}

	completionConfig := cfg.Completion()
	completionConfig.Logger = logger
	completionConfig.Metrics = metrics
	client, err := completion.New(completionConfig)
	if err != nil {
		return fmt.Errorf("create completion client: %w", err)
	}

	handler, err := api.NewHandler(api.Config{
		Gate:          gate,
		Completer:     client,
		StoreName:     cfg.Storage.Backend,
		StatusTimeout: cfg.Storage.StatusTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: newRouter(routerConfig{
			Handler:   handler,
			Gate:      gate,
			Mode:      cfg.QuotaMode(),
			ClientURL: cfg.Server.ClientURL,
			Registry:  reg,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.Storage.Backend).
			Str("quota_mode", cfg.Quota.Mode).
			Int("daily_limit", cfg.Quota.DailyLimit).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		zlog.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
