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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cdw/cdw/internal/domain/partition"
	"github.com/cdw/cdw/internal/domain/upload"
	"github.com/cdw/cdw/internal/domain/verify"
	"github.com/cdw/cdw/internal/platform/db"
	"github.com/cdw/cdw/internal/platform/metrics"
	"github.com/cdw/cdw/internal/platform/middleware"
)

func serveCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "request-timeout", 30*time.Second, "Per-request deadline")
	return cmd
}

func runServer(ctx context.Context, timeout time.Duration) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.log

	rec := metrics.New()
	registerPoolStats(rec.Registry(), a.pool)
	e := newServer(a, rec, timeout)

	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(a *app, rec *metrics.Recorder, timeout time.Duration) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.log))
	e.Use(middleware.Metrics(rec))
	e.Use(middleware.RequestTimeout(timeout))

	e.GET("/health", db.HealthHandler(a.pool, db.ReadyCheck{
		Name:  "fact_table",
		Check: factTableCheck(a),
	}))
	e.GET("/metrics", echo.WrapHandler(rec.Handler()))

	api := e.Group("/api/v1")
	verify.NewHandler(a.verifier(), rec).RegisterRoutes(api)
	partition.NewHandler(a.partitions()).RegisterRoutes(api)
	upload.NewHandler(a.uploads()).RegisterRoutes(api)

	return e
}

// poolStater is satisfied by *pgxpool.Pool.
type poolStater interface {
	Stat() *pgxpool.Stat
}

// registerPoolStats exposes connection pool occupancy on reg.
func registerPoolStats(reg prometheus.Registerer, pool poolStater) {
	gauge := func(name, help string, v func(*pgxpool.Stat) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "cdw_loader",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v(pool.Stat())) })
	}
	reg.MustRegister(
		gauge("total_conns", "Open connections.", (*pgxpool.Stat).TotalConns),
		gauge("acquired_conns", "Connections in use.", (*pgxpool.Stat).AcquiredConns),
		gauge("idle_conns", "Idle connections.", (*pgxpool.Stat).IdleConns),
		gauge("max_conns", "Configured pool size.", (*pgxpool.Stat).MaxConns),
	)
}

func factTableCheck(a *app) func(ctx context.Context) error {
	name := a.tables.FactIdent()
	return func(ctx context.Context) error {
		var exists bool
		if err := a.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%s does not exist", name)
		}
		return nil
	}
}
