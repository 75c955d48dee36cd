package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appcatalog/internal/metrics"
	"appcatalog/internal/ratelimit"
	"appcatalog/internal/util"
	"appcatalog/pkg/events"
	"appcatalog/services/catalog/internal/app"
	"appcatalog/services/catalog/internal/config"
	"appcatalog/services/catalog/internal/server"
)

// openPublisher is swapped in tests.
var openPublisher = events.Open

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		util.Fatal("catalog server stopped", "err", err)
	}
}

func run(cfg config.FileConfig) error {
	srv, cleanup, err := build(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("catalog server listening", "addr", srv.Addr, "backend", cfg.Backend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// build wires every dependency. On error, whatever was already opened is
// closed before returning; on success the caller must run cleanup.
func build(cfg config.FileConfig) (srv *http.Server, cleanup func(), err error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				slog.Warn("close failed", "err", cerr)
			}
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	publisher, err := openPublisher(events.Config{
		AMQPURL:       cfg.AMQPURL,
		AMQPExchange:  cfg.AMQPExchange,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		Stream:        cfg.EventStream,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init event publisher: %w", err)
	}
	closers = append(closers, publisher.Close)

	appCore, err := app.New(app.Config{
		StoreConfig:       cfg.StoreConfig(),
		Metrics:           m,
		Events:            publisher,
		DegradeListErrors: cfg.DegradeListErrors,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init app: %w", err)
	}
	// App.Close also closes the publisher.
	closers[len(closers)-1] = appCore.Close

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		fw, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, nil, fmt.Errorf("init rate limiter: %w", err)
		}
		closers = append(closers, fw.Close)
		limiter = fw
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		AdminToken:     cfg.AdminToken,
		Limiter:        limiter,
		TrustedProxies: trusted,
		Metrics:        m,
		StaticDir:      cfg.StaticDir,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init server: %w", err)
	}

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, closeAll, nil
}
