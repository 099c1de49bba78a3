package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SomaPrasanth/command-gateway-backend/internal/gateway"
	"github.com/SomaPrasanth/command-gateway-backend/internal/httpapi"
	"github.com/SomaPrasanth/command-gateway-backend/internal/metrics"
	"github.com/SomaPrasanth/command-gateway-backend/internal/rules"
	"github.com/SomaPrasanth/command-gateway-backend/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setLogLevel(cfg.General.LogLevel)

	st, err := store.NewSQLiteStore(cfg.Database.Path, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gw := gateway.New(gateway.Config{
		Store:  st,
		Engine: rules.NewEngine(logger.With("component", "rules")),
		Logger: logger.With("component", "gateway"),
	})

	api := httpapi.NewServer(httpapi.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		Gateway:            gw,
		Logger:             logger.With("component", "httpapi"),
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(ctx)
	})

	if cfg.Metrics.Enabled {
		metricsSrv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listener started", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", metrics.Default().Handler())
	return mux
}
