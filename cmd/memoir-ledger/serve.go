package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"memoir-ledger/internal/auth"
	"memoir-ledger/internal/database"
	"memoir-ledger/internal/handlers"
	"memoir-ledger/internal/metrics"
	"memoir-ledger/internal/services"
	"memoir-ledger/internal/workers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(d *deps) error {
				return runServe(cmd.Context(), d, skipMigrate)
			})
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not run migrations on startup")
	return cmd
}

func runServe(ctx context.Context, d *deps, skipMigrate bool) error {
	if err := d.Config.Validate(); err != nil {
		return err
	}
	if !skipMigrate {
		if err := database.Migrate(d.Logger); err != nil {
			return err
		}
	}

	gin.SetMode(d.Config.GinMode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerMetrics, err := metrics.NewLedgerMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	var verifier auth.TokenVerifier
	if d.Config.DevUserID != "" {
		d.Logger.Warn("Token verification disabled, every request runs as the dev user",
			zap.String("user_id", d.Config.DevUserID))
		verifier = auth.NewDevVerifier(d.Config.DevUserID)
	} else {
		verifier = auth.NewJWTVerifier(d.Config.JWTSecret, d.Logger)
	}

	svc := services.New(database.DB, d.Logger, ledgerMetrics)

	sweeper := workers.NewAuditSweepWorker(svc.Reconciler, workers.SweepConfig{
		Interval: d.Config.ReconcileInterval,
		Repair:   d.Config.ReconcileRepair,
	}, d.Logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	router := handlers.NewRouter(handlers.RouterConfig{
		DB:            database.DB,
		Services:      svc,
		Verifier:      verifier,
		AdminPassword: d.Config.AdminPassword,
		Gatherer:      registry,
		Logger:        d.Logger,
	})

	srv := &http.Server{
		Addr:              ":" + d.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("Server starting", zap.String("port", d.Config.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	d.Logger.Info("Received shutdown signal, gracefully shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	d.Logger.Info("Shutdown complete")
	return nil
}
