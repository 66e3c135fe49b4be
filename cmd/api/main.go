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

	httpadapter "github.com/rayanical/dining-bot-publish/internal/adapters/http"
	"github.com/rayanical/dining-bot-publish/internal/bootstrap"
	"github.com/rayanical/dining-bot-publish/internal/config"
	"github.com/rayanical/dining-bot-publish/internal/observability/logging"
	"github.com/rayanical/dining-bot-publish/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("api")

	// An empty generation 0 is served until the first refresh succeeds.
	if info, err := app.CatalogUC.Refresh(ctx); err != nil {
		slog.Error("initial_catalog_refresh_failed", "error", err)
	} else {
		httpMetrics.SetCatalogGeneration(info.Generation)
	}

	if app.Queue != nil {
		go func() {
			err := app.Queue.SubscribeCatalogRefreshed(ctx, func(handlerCtx context.Context, generation uint64) error {
				refreshCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
				defer cancel()
				info, err := app.CatalogUC.Refresh(refreshCtx)
				if err != nil {
					return err
				}
				httpMetrics.SetCatalogGeneration(info.Generation)
				slog.Info("catalog_reloaded", "worker_generation", generation, "local_generation", info.Generation)
				return nil
			})
			if err != nil {
				slog.Error("catalog_refreshed_subscription_failed", "error", err)
			}
		}()
	} else if cfg.CatalogRefreshIntervalSeconds > 0 {
		go refreshEvery(ctx, app, time.Duration(cfg.CatalogRefreshIntervalSeconds)*time.Second, httpMetrics)
	}

	router := httpadapter.NewRouter(cfg, app.ChatUC, app.CatalogUC, app.IngestUC, httpMetrics).Handler()
	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Answer streams can outlive a fixed write deadline.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort, "vector_backend", cfg.VectorBackend, "structured_backend", cfg.StructuredBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}

func refreshEvery(ctx context.Context, app *bootstrap.App, interval time.Duration, httpMetrics *metrics.HTTPServerMetrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := app.CatalogUC.Refresh(ctx)
			if err != nil {
				slog.Error("scheduled_catalog_refresh_failed", "error", err)
				continue
			}
			httpMetrics.SetCatalogGeneration(info.Generation)
		}
	}
}
