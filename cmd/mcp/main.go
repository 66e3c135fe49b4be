package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/rayanical/dining-bot-publish/internal/adapters/mcp"
	"github.com/rayanical/dining-bot-publish/internal/bootstrap"
	"github.com/rayanical/dining-bot-publish/internal/config"
	"github.com/rayanical/dining-bot-publish/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if _, err := app.CatalogUC.Refresh(ctx); err != nil {
		slog.Error("initial_catalog_refresh_failed", "error", err)
	}
	if app.Queue != nil {
		go func() {
			err := app.Queue.SubscribeCatalogRefreshed(ctx, func(handlerCtx context.Context, _ uint64) error {
				_, err := app.CatalogUC.Refresh(handlerCtx)
				return err
			})
			if err != nil {
				slog.Error("catalog_refreshed_subscription_failed", "error", err)
			}
		}()
	}

	s := mcpadapter.NewServer(mcpadapter.NewTools(app.ChatUC, app.CatalogUC))

	if cfg.MCPPort == "" {
		slog.Info("mcp_stdio_started")
		if err := server.ServeStdio(s); err != nil {
			log.Fatalf("mcp stdio server error: %v", err)
		}
		return
	}

	httpServer := server.NewStreamableHTTPServer(s)
	go func() {
		slog.Info("mcp_http_listening", "port", cfg.MCPPort)
		if err := httpServer.Start(":" + cfg.MCPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp_http_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("mcp_shutdown_failed", "error", err)
	}
}
