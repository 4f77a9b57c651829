package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/evanofslack/ec2-dns-sync/internal/config"
	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/logger"
	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
	"github.com/evanofslack/ec2-dns-sync/internal/provider"
	"github.com/evanofslack/ec2-dns-sync/internal/provider/alidns"
	"github.com/evanofslack/ec2-dns-sync/internal/provider/cloudflare"
	"github.com/evanofslack/ec2-dns-sync/internal/provider/dnspod"
	"github.com/evanofslack/ec2-dns-sync/internal/reconcile"
	"github.com/evanofslack/ec2-dns-sync/internal/source"
	"github.com/evanofslack/ec2-dns-sync/internal/source/imds"
	"github.com/evanofslack/ec2-dns-sync/internal/state"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotenv(".env"); err != nil {
		slog.Error("Failed to load environment file", "error", err)
		return 1
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return 1
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	if err := cfg.Validate(); err != nil {
		logRunError("Invalid configuration", err)
		return 1
	}

	daemon := cfg.SyncInterval > 0
	metrics := metrics.New(daemon || cfg.Metrics.Textfile != "")

	src, err := newSource(cfg)
	if err != nil {
		logRunError("Failed to initialize address source", err)
		return 1
	}

	dp, err := newProvider(cfg, metrics)
	if err != nil {
		logRunError("Failed to initialize DNS provider", err)
		return 1
	}

	var history state.Manager
	if cfg.StatePath != "" {
		history, err = state.New(cfg.StatePath, metrics)
		if err != nil {
			slog.Error("Failed to initialize history", "error", err)
			return 1
		}
		defer history.Close()
	}

	engine := reconcile.NewEngine(src, dp, history, cfg, metrics)

	if !daemon {
		err := performSync(context.Background(), engine, metrics)
		if cfg.Metrics.Textfile != "" {
			if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
				slog.Warn("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", werr)
			}
		}
		if err != nil {
			logRunError("Sync operation failed", err)
			return 1
		}
		return 0
	}

	return runDaemon(cfg, engine, metrics)
}

func runDaemon(cfg *config.Config, engine reconcile.Engine, metrics *metrics.Metrics) int {
	// Set up HTTP server for metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start http server in background
	go func() {
		slog.Info("Starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Starting ec2-dns-sync service", "interval", cfg.SyncInterval, "record", cfg.DNS.FQDN(), "provider", cfg.DNS.Provider)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go runSyncLoop(ctx, wg, engine, metrics, cfg.SyncInterval)

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("Shutdown signal received")
	cancel()

	serverShutdownCtx, cancelServer := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelServer()
	if err := server.Shutdown(serverShutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	// Wait for sync loop to finish
	wg.Wait()
	slog.Info("Service shutdown complete")
	return 0
}

func newSource(cfg *config.Config) (source.Source, error) {
	opts := imds.Options{
		Endpoint: cfg.Source.Endpoint,
		Timeout:  cfg.Source.Timeout,
		TokenTTL: cfg.Source.TokenTTL,
	}
	switch cfg.Source.Mode {
	case config.SourceIMDS:
		return imds.New(opts), nil
	case config.SourceAWSSDK:
		return imds.NewSDK(opts), nil
	case config.SourceStatic:
		return source.Static(cfg.Source.Address), nil
	}
	return nil, errdefs.Newf(errdefs.KindConfig, "select source", "", "unknown source mode %q", cfg.Source.Mode)
}

func newProvider(cfg *config.Config, metrics *metrics.Metrics) (provider.Provider, error) {
	var (
		dp  provider.Provider
		err error
	)
	switch cfg.DNS.Provider {
	case config.ProviderAliDNS:
		dp, err = alidns.New(cfg.DNS, metrics)
	case config.ProviderDNSPod:
		dp, err = dnspod.New(cfg.DNS, metrics)
	case config.ProviderCloudflare:
		dp, err = cloudflare.New(cfg.DNS, metrics)
	default:
		return nil, errdefs.Newf(errdefs.KindConfig, "select provider", "", "unknown dns provider %q", cfg.DNS.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.DNS.Provider, err)
	}
	return dp, nil
}

func runSyncLoop(ctx context.Context, wg *sync.WaitGroup, engine reconcile.Engine, metrics *metrics.Metrics, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := performSync(ctx, engine, metrics); err != nil {
			logRunError("Sync operation failed", err)
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			slog.Info("Stopping sync loop")
			return
		}
	}
}

func performSync(ctx context.Context, engine reconcile.Engine, metrics *metrics.Metrics) error {
	slog.Info("Starting sync operation")
	start := time.Now()
	defer func() {
		metrics.SetSyncDuration(time.Since(start))
	}()

	result, err := engine.Reconcile(ctx)
	if err != nil {
		metrics.IncSyncRun(false)
		return err
	}

	slog.Info("Sync completed",
		"action", string(result.Action),
		"address", result.Address.String(),
		"previous", result.Previous,
		"record_id", result.RecordID)
	metrics.IncSyncRun(true)
	return nil
}

// logRunError logs an error together with its classification.
func logRunError(msg string, err error) {
	attrs := []any{"error", err, "kind", errdefs.KindOf(err).String()}
	if hint := errdefs.HintOf(err); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	slog.Error(msg, attrs...)
}
