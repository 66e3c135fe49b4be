package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/bootstrap"
	"github.com/rayanical/dining-bot-publish/internal/config"
	"github.com/rayanical/dining-bot-publish/internal/observability/logging"
	"github.com/rayanical/dining-bot-publish/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{NotifyRefreshed: true})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if app.Queue == nil && cfg.CatalogRefreshIntervalSeconds <= 0 {
		log.Fatalf("worker needs NATS_URL or CATALOG_REFRESH_INTERVAL_SECONDS")
	}

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:        ":" + cfg.WorkerMetricsPort,
		Handler:     workerMetrics.Handler(),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	refresh := func(refreshCtx context.Context) error {
		refreshCtx, cancel := context.WithTimeout(refreshCtx, 5*time.Minute)
		defer cancel()

		workerMetrics.StartRefresh()
		start := time.Now()
		info, err := app.CatalogUC.Refresh(refreshCtx)
		workerMetrics.FinishRefresh("worker", time.Since(start), info, err)
		return err
	}

	if err := refresh(ctx); err != nil {
		slog.Error("initial_catalog_refresh_failed", "error", err)
	}

	if cfg.CatalogRefreshIntervalSeconds > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.CatalogRefreshIntervalSeconds) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := refresh(ctx); err != nil {
						slog.Error("scheduled_catalog_refresh_failed", "error", err)
					}
				}
			}
		}()
	}

	if app.Queue == nil {
		<-ctx.Done()
		return
	}

	slog.Info("worker_subscribed", "subject", cfg.NATSIngestedSubject)
	err = app.Queue.SubscribeMenuIngested(ctx, func(handlerCtx context.Context, servingDate string) error {
		slog.Info("menu_ingested_received", "serving_date", servingDate)
		return refresh(handlerCtx)
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
